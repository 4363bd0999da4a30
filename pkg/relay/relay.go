package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dispatchd/dispatch-gateway/pkg/relay/protocol"
)

// DuplexRelay moves events between the telephony side and the speech-AI
// side through the registry's bounded queues. Within a single direction
// events keep their arrival order; the two directions are independent.
type DuplexRelay struct {
	reg          *Registry
	logger       *slog.Logger
	drainTimeout time.Duration
}

type RelayOptions struct {
	// DrainTimeout caps how long Drain waits for an event. Defaults to
	// 100ms so callers never block indefinitely.
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

func NewDuplexRelay(reg *Registry, opts RelayOptions) *DuplexRelay {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &DuplexRelay{reg: reg, logger: opts.Logger, drainTimeout: opts.DrainTimeout}
}

// EnqueueFromTelephony processes one raw inbound telephony frame. A start
// event stores the stream token and acknowledges outward; media frames are
// normalized onto the AI-bound queue; stop is normalized onto the same
// queue so the workflow observes it in order. Malformed frames are logged
// and dropped.
func (d *DuplexRelay) EnqueueFromTelephony(ctx context.Context, callID string, raw []byte) error {
	entry, ok := d.reg.entry(callID)
	if !ok {
		return ErrNotFound
	}

	ev, err := protocol.DecodeTelephonyEvent(raw)
	if err != nil {
		d.logger.Warn("dropping malformed telephony event", "call_id", callID, "error", err)
		return nil
	}

	switch e := ev.(type) {
	case protocol.StreamStart:
		entry.state.SetStreamToken(e.StreamSID)
		entry.state.Touch()
		if entry.handle.Send != nil {
			if err := entry.handle.Send(protocol.ConnectedFrame{Event: "connected", StreamSID: e.StreamSID}); err != nil {
				d.logger.Warn("connected ack failed", "call_id", callID, "error", err)
			}
		}
		return nil
	case protocol.MediaFrame:
		entry.state.CountMedia()
		return d.put(ctx, entry, AIBound, Event{
			Kind:      EventAudioInput,
			CallID:    callID,
			Data:      e.Payload,
			Timestamp: e.Timestamp,
		})
	case protocol.StreamStop:
		entry.state.Touch()
		return d.put(ctx, entry, AIBound, Event{Kind: EventStop, CallID: callID})
	default:
		return nil
	}
}

// EnqueueFromAI processes one raw backend frame. Finalized transcript
// chunks become normalized responses on the telephony-bound queue; raw
// audio output is written straight to the telephony connection as a media
// payload; every other type only refreshes lastResponseAt.
func (d *DuplexRelay) EnqueueFromAI(ctx context.Context, callID string, raw []byte) error {
	entry, ok := d.reg.entry(callID)
	if !ok {
		return ErrNotFound
	}
	entry.state.TouchResponse()

	ev, err := protocol.DecodeAIEvent(raw)
	if err != nil {
		d.logger.Warn("dropping malformed backend event", "call_id", callID, "error", err)
		return nil
	}

	switch ev.Type {
	case protocol.AIEventResponseDone:
		return d.put(ctx, entry, TelephonyBound, Event{
			Kind:       EventResponse,
			CallID:     callID,
			Text:       ev.Transcript,
			Escalation: ev.Escalation,
			Timestamp:  time.Now().UnixMilli(),
		})
	case protocol.AIEventAudioDelta:
		if entry.handle.Send == nil {
			return nil
		}
		if err := entry.handle.Send(protocol.OutboundMedia{
			Event: "media",
			Media: protocol.MediaPayload{Payload: ev.AudioB64},
		}); err != nil {
			d.logger.Warn("audio forward failed", "call_id", callID, "error", err)
		}
		return nil
	default:
		return nil
	}
}

// put blocks while the queue is at capacity; a sustained backlog surfaces
// through the health monitor instead of by dropping events.
func (d *DuplexRelay) put(ctx context.Context, entry *sessionEntry, side QueueSide, ev Event) error {
	select {
	case entry.queue(side) <- ev:
		return nil
	default:
	}
	select {
	case entry.queue(side) <- ev:
		return nil
	case <-entry.done:
		return ErrNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain pops the next event from one queue side, waiting at most timeout
// (the relay default when timeout <= 0). ErrEmpty signals a quiet queue;
// ErrNotFound signals teardown observed mid-flight.
func (d *DuplexRelay) Drain(callID string, side QueueSide, timeout time.Duration) (Event, error) {
	entry, ok := d.reg.entry(callID)
	if !ok {
		return Event{}, ErrNotFound
	}
	if timeout <= 0 {
		timeout = d.drainTimeout
	}

	// Teardown wins over buffered events.
	select {
	case <-entry.done:
		return Event{}, ErrNotFound
	default:
	}

	select {
	case ev := <-entry.queue(side):
		return ev, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-entry.queue(side):
		return ev, nil
	case <-entry.done:
		return Event{}, ErrNotFound
	case <-timer.C:
		return Event{}, ErrEmpty
	}
}

// Send writes an outbound frame to a session's telephony connection.
func (d *DuplexRelay) Send(callID string, v any) error {
	entry, ok := d.reg.entry(callID)
	if !ok {
		return ErrNotFound
	}
	if entry.handle.Send == nil {
		return nil
	}
	return entry.handle.Send(v)
}

// IsTeardown reports whether err is the normal post-teardown signal.
func IsTeardown(err error) bool {
	return errors.Is(err, ErrNotFound)
}
