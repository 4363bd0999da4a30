// Package aistream maintains the websocket connection to the realtime
// speech-AI backend for one call session.
package aistream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dispatchd/dispatch-gateway/pkg/relay/protocol"
)

const defaultBaseURL = "wss://api.openai.com/v1/realtime"

// Config describes one backend session.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Voice        string
	Instructions string
	Greeting     string
	Temperature  float64
	AudioFormat  string
}

// Conn is a live backend session. Frames() yields raw inbound frames; the
// caller owns decoding and teardown.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// Dialer opens backend sessions. The live implementation is Dial; tests
// substitute their own.
type Dialer func(ctx context.Context, cfg Config) (Session, error)

// Session is what the relay needs from a backend connection.
type Session interface {
	AppendAudio(payload string) error
	Frames() <-chan []byte
	Err() error
	Close() error
}

// Dial connects and performs the session handshake: configuration, the
// initial greeting prompt, and the start-responding signal.
func Dial(ctx context.Context, cfg Config) (Session, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("backend api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("backend model is required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "g711_ulaw"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.APIKey))
	header.Set("OpenAI-Beta", "realtime=v1")

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, base+"?model="+cfg.Model, header)
	if err != nil {
		return nil, fmt.Errorf("dial backend: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Conn{
		ws:     ws,
		frames: make(chan []byte, 256),
		closed: make(chan struct{}),
	}
	if err := c.initialize(cfg); err != nil {
		_ = c.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) initialize(cfg Config) error {
	update := protocol.SessionUpdate{
		Type: "session.update",
		Session: protocol.SessionConfig{
			TurnDetection:     protocol.TurnDetection{Type: "server_vad"},
			InputAudioFormat:  cfg.AudioFormat,
			OutputAudioFormat: cfg.AudioFormat,
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			Modalities:        []string{"text", "audio"},
			Temperature:       cfg.Temperature,
			Model:             cfg.Model,
		},
	}
	if err := c.writeJSON(update); err != nil {
		return fmt.Errorf("configure session: %w", err)
	}

	if strings.TrimSpace(cfg.Greeting) != "" {
		item := protocol.ConversationItemCreate{
			Type: "conversation.item.create",
			Item: protocol.ConversationItem{
				Type: "message",
				Role: "user",
				Content: []protocol.ItemContent{
					{Type: "input_text", Text: cfg.Greeting},
				},
			},
		}
		if err := c.writeJSON(item); err != nil {
			return fmt.Errorf("send greeting: %w", err)
		}
	}

	if err := c.writeJSON(protocol.ResponseCreate{Type: "response.create"}); err != nil {
		return fmt.Errorf("start responding: %w", err)
	}
	return nil
}

// AppendAudio forwards one base64 media payload to the backend's input
// audio buffer.
func (c *Conn) AppendAudio(payload string) error {
	return c.writeJSON(protocol.AudioAppend{Type: "input_audio_buffer.append", Audio: payload})
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return fmt.Errorf("backend connection closed")
	default:
	}
	return c.ws.WriteJSON(v)
}

// Frames yields raw inbound frames until the connection closes.
func (c *Conn) Frames() <-chan []byte {
	return c.frames
}

// Err reports the read-loop failure, if any, after Frames() is drained.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		select {
		case c.frames <- data:
		case <-c.closed:
			return
		}
	}
}
