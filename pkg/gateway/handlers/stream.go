package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dispatchd/dispatch-gateway/pkg/gateway/config"
	"github.com/dispatchd/dispatch-gateway/pkg/gateway/lifecycle"
	"github.com/dispatchd/dispatch-gateway/pkg/relay"
	"github.com/dispatchd/dispatch-gateway/pkg/relay/aistream"
	"github.com/dispatchd/dispatch-gateway/pkg/relay/protocol"
	"github.com/dispatchd/dispatch-gateway/pkg/workflow"
)

// StreamHandler owns one telephony media-stream websocket per call. It
// registers the session, opens the speech backend connection, and runs
// the relay loop until the call ends or the connection dies.
type StreamHandler struct {
	Config    config.Config
	Registry  *relay.Registry
	Relay     *relay.DuplexRelay
	Workflow  *workflow.CallWorkflow
	Dial      aistream.Dialer
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if h.Lifecycle.IsDraining() {
		writeJSONError(w, r, http.StatusServiceUnavailable, "overloaded", "gateway is draining")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	h.Lifecycle.ConnOpened()
	defer h.Lifecycle.ConnClosed()

	callID := "call_" + uuid.NewString()
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("call_id", callID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	dial := h.Dial
	if dial == nil {
		dial = aistream.Dial
	}
	ai, err := dial(ctx, aistream.Config{
		APIKey:       h.Config.RealtimeAPIKey,
		BaseURL:      h.Config.RealtimeBaseURL,
		Model:        h.Config.RealtimeModel,
		Voice:        h.Config.RealtimeVoice,
		Instructions: h.Config.SystemPrompt,
		Greeting:     h.Config.Greeting,
		Temperature:  h.Config.AITemperature,
	})
	if err != nil {
		logger.Error("speech backend dial failed", "error", err)
		return
	}
	defer ai.Close()

	var alive atomic.Bool
	alive.Store(true)
	var writeMu sync.Mutex
	h.Registry.Register(callID, relay.Handle{
		Send: func(v any) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteJSON(v)
		},
		Alive: func() bool { return alive.Load() },
	})
	logger.Info("call connected")

	// Handshake frame before the provider's start event.
	if err := h.Relay.Send(callID, protocol.ConnectedFrame{
		Event:           "connected",
		ProtocolVersion: protocol.ProtocolVersion,
		Parameters:      &protocol.ConnectedParams{Name: "DispatchAI", Track: "both_tracks"},
	}); err != nil {
		logger.Warn("connected handshake failed", "error", err)
	}

	workflowDone := make(chan struct{})
	go func() {
		defer close(workflowDone)
		h.Workflow.Run(ctx, callID, ai)
	}()

	go h.pumpBackend(ctx, callID, ai, logger)
	go h.keepalive(ctx, callID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if err := h.Relay.EnqueueFromTelephony(ctx, callID, raw); relay.IsTeardown(err) {
			break
		}
	}
	alive.Store(false)

	// The caller hung up or the socket died. Flip call-ended so the
	// workflow persists the transcript, then bound the wait.
	if state, ok := h.Registry.Lookup(callID); ok {
		state.MarkCallEnded()
	}
	select {
	case <-workflowDone:
	case <-time.After(h.Config.ShutdownGracePeriod):
		logger.Warn("workflow did not finish in time, forcing teardown")
		h.Registry.Unregister(callID)
		<-workflowDone
	}
	logger.Info("call finished")
}

// pumpBackend moves raw backend frames into the relay until the backend
// stream closes or the session is torn down.
func (h StreamHandler) pumpBackend(ctx context.Context, callID string, ai aistream.Session, logger *slog.Logger) {
	for raw := range ai.Frames() {
		if err := h.Relay.EnqueueFromAI(ctx, callID, raw); relay.IsTeardown(err) {
			return
		}
	}
	if err := ai.Err(); err != nil {
		logger.Warn("speech backend stream closed", "error", err)
	}
}

func (h StreamHandler) keepalive(ctx context.Context, callID string) {
	ticker := time.NewTicker(h.Config.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Relay.Send(callID, protocol.KeepaliveFrame{Event: "keepalive"}); relay.IsTeardown(err) {
				return
			}
		}
	}
}
