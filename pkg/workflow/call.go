package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dispatchd/dispatch-gateway/pkg/relay"
	"github.com/dispatchd/dispatch-gateway/pkg/relay/protocol"
)

// AudioSink receives base64 audio payloads bound for the speech backend.
type AudioSink interface {
	AppendAudio(payload string) error
}

// TranscriptSaver persists a finished call's transcript. Implementations
// run after the call is over, off the hot path.
type TranscriptSaver interface {
	Save(ctx context.Context, callID string, entries []relay.TranscriptEntry) error
}

type callStep int

const (
	callReceiveInput callStep = iota
	callProcessAI
	callHandleEmergency
	callPersist
)

// CallWorkflow drives one call's relay loop. It is the single consumer
// of both per-call queues: each iteration drains at most one event per
// side, so ordering within a direction is preserved end to end.
type CallWorkflow struct {
	Registry *relay.Registry
	Relay    *relay.DuplexRelay
	Monitor  *relay.HealthMonitor
	Saver    TranscriptSaver
	Logger   *slog.Logger

	// DrainTimeout bounds each queue wait. Zero uses the relay default.
	DrainTimeout time.Duration
}

func (w *CallWorkflow) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Run loops until the call is torn down or persisted. Step errors are
// logged and leave the session unchanged; the loop keeps going. Teardown
// observed mid-step ends the loop without persisting twice.
func (w *CallWorkflow) Run(ctx context.Context, callID string, sink AudioSink) {
	step := callReceiveInput
	escalationPending := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		state, ok := w.Registry.Lookup(callID)
		if !ok {
			return
		}
		if w.Monitor != nil && w.Monitor.IdleExceeded(state) {
			w.logger().Info("call idle, tearing down", "call_id", callID)
			w.Registry.Unregister(callID)
			return
		}

		switch step {
		case callReceiveInput:
			if exit := w.receiveInput(callID, state, sink); exit {
				return
			}
			if state.CallEnded() {
				step = callPersist
			} else {
				step = callProcessAI
			}

		case callProcessAI:
			exit, escalated := w.processAI(callID, state)
			if exit {
				return
			}
			escalationPending = escalationPending || escalated
			switch {
			case escalationPending:
				step = callHandleEmergency
			case state.CallEnded():
				step = callPersist
			default:
				step = callReceiveInput
			}

		case callHandleEmergency:
			w.handleEmergency(callID, state)
			escalationPending = false
			if state.CallEnded() {
				step = callPersist
			} else {
				step = callReceiveInput
			}

		case callPersist:
			w.persist(ctx, callID, state)
			w.Registry.Unregister(callID)
			return
		}
	}
}

// receiveInput drains at most one AI-bound event. Audio is forwarded to
// the backend and marked in the transcript with a placeholder user
// entry; stop flips the call-ended flag. An empty queue is a no-op step.
func (w *CallWorkflow) receiveInput(callID string, state *relay.SessionState, sink AudioSink) (exit bool) {
	ev, err := w.Relay.Drain(callID, relay.AIBound, w.DrainTimeout)
	if relay.IsTeardown(err) {
		return true
	}
	if errors.Is(err, relay.ErrEmpty) {
		return false
	}

	switch ev.Kind {
	case relay.EventAudioInput:
		if err := sink.AppendAudio(ev.Data); err != nil {
			w.logger().Warn("forward audio failed", "call_id", callID, "error", err)
			return false
		}
		if err := state.AppendTranscript(relay.RoleUser, "Audio input"); err != nil {
			w.logger().Warn("append user turn failed", "call_id", callID, "error", err)
		}
		state.Touch()
	case relay.EventStop:
		state.MarkCallEnded()
	}
	return false
}

// processAI drains at most one telephony-bound event. A completed
// response appends the assistant turn and forwards the text to the
// caller.
func (w *CallWorkflow) processAI(callID string, state *relay.SessionState) (exit, escalated bool) {
	ev, err := w.Relay.Drain(callID, relay.TelephonyBound, w.DrainTimeout)
	if relay.IsTeardown(err) {
		return true, false
	}
	if errors.Is(err, relay.ErrEmpty) {
		return false, false
	}
	if ev.Kind != relay.EventResponse {
		return false, false
	}

	if ev.Text != "" {
		if err := state.AppendTranscript(relay.RoleAssistant, ev.Text); err != nil {
			w.logger().Warn("append assistant turn failed", "call_id", callID, "error", err)
		}
		if err := w.Relay.Send(callID, protocol.ResponseFrame{Event: "response", Text: ev.Text}); err != nil && !relay.IsTeardown(err) {
			w.logger().Warn("send response failed", "call_id", callID, "error", err)
		}
	}
	return false, ev.Escalation
}

// handleEmergency marks the session escalated and notifies the caller.
// Escalation is one-way for the life of the call.
func (w *CallWorkflow) handleEmergency(callID string, state *relay.SessionState) {
	state.MarkEscalated()
	if err := state.AppendTranscript(relay.RoleSystem, "Call escalated to a human dispatcher"); err != nil {
		w.logger().Warn("append escalation note failed", "call_id", callID, "error", err)
	}
	if err := w.Relay.Send(callID, protocol.EscalateFrame{
		Event:   "escalate",
		Message: "Emergency services have been notified",
	}); err != nil && !relay.IsTeardown(err) {
		w.logger().Warn("send escalate failed", "call_id", callID, "error", err)
	}
	w.logger().Info("call escalated", "call_id", callID)
}

func (w *CallWorkflow) persist(ctx context.Context, callID string, state *relay.SessionState) {
	entries := state.Transcript()
	if len(entries) == 0 {
		w.logger().Info("no transcript to persist", "call_id", callID)
		return
	}
	if w.Saver == nil {
		return
	}
	if err := w.Saver.Save(ctx, callID, entries); err != nil {
		w.logger().Error("persist transcript failed", "call_id", callID, "error", err)
		return
	}
	w.logger().Info("transcript persisted", "call_id", callID, "entries", len(entries))
}

// TicketSaver adapts the ticket pipeline to the TranscriptSaver seam.
type TicketSaver struct {
	Workflow *TicketWorkflow
	Logger   *slog.Logger
}

func (s *TicketSaver) Save(ctx context.Context, callID string, entries []relay.TranscriptEntry) error {
	state := s.Workflow.Run(ctx, entries)
	if state.Status != TicketCompleted {
		return fmt.Errorf("ticket pipeline for call %s: %s", callID, state.Err.Message)
	}
	if s.Logger != nil {
		s.Logger.Info("ticket created", "call_id", callID, "ticket_id", state.TicketID)
	}
	return nil
}
