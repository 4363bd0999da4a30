package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNotFound reports that no session exists for a call id. After
	// teardown every lookup and drain for that id returns ErrNotFound;
	// loops treat it as the cue to exit, never as retryable.
	ErrNotFound = errors.New("session not found")

	// ErrEmpty reports a drain timeout with no event available.
	ErrEmpty = errors.New("queue empty")
)

// QueueSide selects one of the two per-call queues.
type QueueSide int

const (
	// AIBound holds normalized events that arrived from the telephony
	// side and head toward the speech-AI backend.
	AIBound QueueSide = iota
	// TelephonyBound holds normalized events that arrived from the AI
	// side and head toward the caller.
	TelephonyBound
)

// EventKind tags a normalized queue event.
type EventKind int

const (
	EventAudioInput EventKind = iota
	EventStop
	EventResponse
)

// Event is the normalized unit moved through the per-call queues.
type Event struct {
	Kind       EventKind
	CallID     string
	Data       string
	Text       string
	Timestamp  int64
	Escalation bool
}

// Handle carries the per-connection capabilities a session registers:
// writing outbound frames to the telephony connection and probing its
// liveness. Both must be safe for concurrent use.
type Handle struct {
	Send  func(v any) error
	Alive func() bool
}

type sessionEntry struct {
	state    *SessionState
	handle   Handle
	aiBound  chan Event
	telBound chan Event
	done     chan struct{}
	once     sync.Once
}

// Registry is the single owner of the callId → session mapping and the
// per-call queues. Every other component reaches session state through
// Lookup for the duration of one step only.
type Registry struct {
	logger   *slog.Logger
	capacity int
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type RegistryOptions struct {
	// QueueCapacity bounds each per-call queue. Defaults to 100.
	QueueCapacity int
	Logger        *slog.Logger
	Now           func() time.Time
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		logger:   opts.Logger,
		capacity: opts.QueueCapacity,
		now:      opts.Now,
		sessions: make(map[string]*sessionEntry),
	}
}

// Register creates the session state and its two bounded queues.
// Registration always succeeds; capacity limits apply only to enqueue.
// Re-registering an id tears down the previous session first.
func (r *Registry) Register(callID string, h Handle) *SessionState {
	entry := &sessionEntry{
		state:    newSessionState(callID, r.now),
		handle:   h,
		aiBound:  make(chan Event, r.capacity),
		telBound: make(chan Event, r.capacity),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	old := r.sessions[callID]
	r.sessions[callID] = entry
	r.mu.Unlock()

	if old != nil {
		r.remove(callID, old)
	}

	r.logger.Info("session registered", "call_id", callID)
	return entry.state
}

// Unregister removes all per-call resources. It is idempotent and safe to
// call concurrently with in-flight relay operations: after it returns,
// lookups and drains for the id report ErrNotFound rather than a stale
// session.
func (r *Registry) Unregister(callID string) {
	r.mu.Lock()
	entry := r.sessions[callID]
	r.mu.Unlock()
	if entry == nil {
		return
	}
	r.remove(callID, entry)
}

func (r *Registry) remove(callID string, entry *sessionEntry) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[callID] == entry {
			delete(r.sessions, callID)
		}
		r.mu.Unlock()
		entry.state.markTerminated()
		close(entry.done)
		r.logger.Info("session removed", "call_id", callID)
	})
}

// Lookup returns the session state for one step's worth of work.
func (r *Registry) Lookup(callID string) (*SessionState, bool) {
	entry, ok := r.entry(callID)
	if !ok {
		return nil, false
	}
	return entry.state, true
}

// IDs returns a snapshot of the registered call ids. Monitor loops iterate
// over the snapshot and tolerate ids that disappear before they get to them.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Backlog reports the number of unconsumed events on each queue.
func (r *Registry) Backlog(callID string) (aiBound, telBound int, ok bool) {
	entry, found := r.entry(callID)
	if !found {
		return 0, 0, false
	}
	return len(entry.aiBound), len(entry.telBound), true
}

func (r *Registry) entry(callID string) (*sessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[callID]
	return entry, ok
}

func (e *sessionEntry) queue(side QueueSide) chan Event {
	if side == AIBound {
		return e.aiBound
	}
	return e.telBound
}
