package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dispatchd/dispatch-gateway/pkg/relay"
)

// Classifier turns a call transcript into a ticket JSON completion.
type Classifier interface {
	Classify(ctx context.Context, entries []relay.TranscriptEntry) (string, error)
}

const classifyPrompt = `You are a dispatch ticket classifier. Read the emergency
call transcript below and produce a single JSON object with these fields:

  name                - name of the caller, or "unknown"
  priority            - one of: high, medium, low
  summary             - one or two sentences describing the incident
  services_needed     - list of services to dispatch
  life_threatening    - bool
  ticket_type         - one of: medical, fire, crime
  location            - street address or best location hint given
  affected_people     - int
  suspect_description - only if ticket_type is crime

Respond with only the JSON object, no prose.

Transcript:
%s`

// HTTPClassifier calls an OpenAI-compatible chat completions endpoint.
type HTTPClassifier struct {
	URL        string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// MaxElapsed bounds retry time across attempts. Zero means 30s.
	MaxElapsed time.Duration
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, entries []relay.TranscriptEntry) (string, error) {
	if c.URL == "" || c.APIKey == "" || c.Model == "" {
		return "", fmt.Errorf("classifier is not configured")
	}
	transcript, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    []chatMessage{{Role: "user", Content: fmt.Sprintf(classifyPrompt, transcript)}},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	maxElapsed := c.MaxElapsed
	if maxElapsed == 0 {
		maxElapsed = 30 * time.Second
	}

	var completion string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.APIKey)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("classify request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read classify response: %w", err)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("classify status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("classify status %d: %s", resp.StatusCode, raw))
		}
		var parsed chatResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode classify response: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("classify response has no choices"))
		}
		completion = parsed.Choices[0].Message.Content
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return completion, nil
}
