// Package workflow holds the two state machines that sit on top of the
// relay core: the per-call loop that shuttles audio and responses, and
// the post-call ticket pipeline that classifies the transcript.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchd/dispatch-gateway/pkg/relay"
	"github.com/dispatchd/dispatch-gateway/pkg/ticketstore"
)

// TicketStatus is the lifecycle of a ticket run. Transitions are
// monotonic: pending -> processing -> completed or failed.
type TicketStatus string

const (
	TicketPending    TicketStatus = "pending"
	TicketProcessing TicketStatus = "processing"
	TicketCompleted  TicketStatus = "completed"
	TicketFailed     TicketStatus = "failed"
)

// TicketError records the first failure in a ticket run. Kind is a
// stable machine-readable label for the failing step.
type TicketError struct {
	Message string `json:"message"`
	Kind    string `json:"error_type"`
}

const (
	ErrKindGenerate = "generation_error"
	ErrKindParse    = "parse_error"
	ErrKindValidate = "validation_error"
	ErrKindUpload   = "upload_error"
	ErrKindInput    = "input_error"
)

// TicketState is the accumulating state threaded through the pipeline.
type TicketState struct {
	Entries    []relay.TranscriptEntry
	Completion string
	Parsed     map[string]any
	TicketID   string
	Err        *TicketError
	Status     TicketStatus
	ReceivedAt time.Time
}

func (s *TicketState) fail(kind, format string, args ...any) {
	if s.Err != nil {
		return
	}
	s.Err = &TicketError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

type ticketStep int

const (
	stepGenerate ticketStep = iota
	stepParse
	stepUpload
	stepHandleError
	stepDone
)

// requiredTicketFields must all be present and non-empty in the parsed
// classification before it is stored.
var requiredTicketFields = []string{"priority", "location", "ticket_type"}

var severityScores = map[string]int{
	"high":   3,
	"medium": 2,
	"low":    1,
}

// TicketWorkflow classifies a finished call transcript and stores the
// resulting ticket.
type TicketWorkflow struct {
	Classifier Classifier
	Store      ticketstore.Store
	Logger     *slog.Logger

	// Now and NewID exist for tests. Nil means time.Now / random.
	Now   func() time.Time
	NewID func() string
}

func (w *TicketWorkflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *TicketWorkflow) newTicketID() string {
	if w.NewID != nil {
		return w.NewID()
	}
	u := uuid.New()
	return "TICKET-" + strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:8])
}

func (w *TicketWorkflow) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Run executes the pipeline to completion and returns the final state.
// It never panics and never returns a half-open status: the result is
// TicketCompleted or TicketFailed.
func (w *TicketWorkflow) Run(ctx context.Context, entries []relay.TranscriptEntry) *TicketState {
	state := &TicketState{
		Entries:    entries,
		Status:     TicketPending,
		ReceivedAt: w.now().UTC(),
	}
	state.Status = TicketProcessing

	step := stepGenerate
	for step != stepDone {
		switch step {
		case stepGenerate:
			step = w.generate(ctx, state)
		case stepParse:
			step = w.parse(state)
		case stepUpload:
			step = w.upload(ctx, state)
		case stepHandleError:
			step = w.handleError(state)
		}
	}
	if state.Status == TicketProcessing {
		state.Status = TicketCompleted
	}
	return state
}

func (w *TicketWorkflow) generate(ctx context.Context, state *TicketState) ticketStep {
	if len(state.Entries) == 0 {
		state.fail(ErrKindInput, "transcript is empty")
		return stepHandleError
	}
	for i, e := range state.Entries {
		if e.Role == "" || e.Text == "" {
			state.fail(ErrKindInput, "transcript entry %d is missing role or text", i)
			return stepHandleError
		}
	}
	completion, err := w.Classifier.Classify(ctx, state.Entries)
	if err != nil {
		state.fail(ErrKindGenerate, "classification failed: %v", err)
		return stepHandleError
	}
	if strings.TrimSpace(completion) == "" {
		state.fail(ErrKindGenerate, "classifier returned an empty completion")
		return stepHandleError
	}
	state.Completion = completion
	return stepParse
}

func (w *TicketWorkflow) parse(state *TicketState) ticketStep {
	cleaned := stripCodeFence(state.Completion)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		state.fail(ErrKindParse, "completion is not valid JSON: %v", err)
		return stepHandleError
	}
	state.Parsed = parsed
	return stepUpload
}

func (w *TicketWorkflow) upload(ctx context.Context, state *TicketState) ticketStep {
	for _, field := range requiredTicketFields {
		v, ok := state.Parsed[field]
		if !ok {
			state.fail(ErrKindValidate, "classification is missing %q", field)
			return stepHandleError
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			state.fail(ErrKindValidate, "classification field %q is empty", field)
			return stepHandleError
		}
	}

	state.TicketID = w.newTicketID()
	priority, _ := state.Parsed["priority"].(string)

	record := make(map[string]any, len(state.Parsed)+3)
	for k, v := range state.Parsed {
		record[k] = v
	}
	record["ticket_id"] = state.TicketID
	record["received_at"] = state.ReceivedAt.Format(time.RFC3339)
	record["severity_score"] = severityScores[strings.ToLower(priority)]

	if err := w.Store.Put(ctx, state.TicketID, record); err != nil {
		state.fail(ErrKindUpload, "store ticket %s: %v", state.TicketID, err)
		return stepHandleError
	}
	w.logger().Info("ticket stored",
		"ticket_id", state.TicketID,
		"priority", priority,
		"severity_score", record["severity_score"],
	)
	state.Parsed = record
	return stepDone
}

func (w *TicketWorkflow) handleError(state *TicketState) ticketStep {
	state.Status = TicketFailed
	w.logger().Warn("ticket workflow failed",
		"error_type", state.Err.Kind,
		"error", state.Err.Message,
	)
	return stepDone
}

// stripCodeFence removes a surrounding markdown code fence, with or
// without a language tag, so fenced model output still parses.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		first := strings.TrimSpace(trimmed[:idx])
		if first == "json" || first == "" {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
