package relay

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status is the coarse lifecycle of a call session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// Transcript roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptEntry is one conversation message. Entries are append-only and
// always carry a non-empty role and text.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is the per-call mutable record. All access goes through
// its methods; the mutex preserves the atomicity the single-task source
// model got for free.
type SessionState struct {
	id string

	mu             sync.Mutex
	streamToken    string
	transcript     []TranscriptEntry
	pendingInput   string
	callEnded      bool
	escalated      bool
	connectedAt    time.Time
	lastActivityAt time.Time
	lastResponseAt time.Time
	mediaCounter   int64
	status         Status

	now func() time.Time
}

func newSessionState(id string, now func() time.Time) *SessionState {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &SessionState{
		id:             id,
		connectedAt:    t,
		lastActivityAt: t,
		status:         StatusConnecting,
		now:            now,
	}
}

func (s *SessionState) ID() string { return s.id }

// AppendTranscript adds one entry. Role and text must be non-empty.
func (s *SessionState) AppendTranscript(role, text string) error {
	if strings.TrimSpace(role) == "" || strings.TrimSpace(text) == "" {
		return fmt.Errorf("transcript entry requires role and text")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, TranscriptEntry{Role: role, Text: text, Timestamp: s.now()})
	return nil
}

// Transcript returns a copy of the entries in append order.
func (s *SessionState) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// AppendPendingInput accumulates partial user input up to cap characters;
// excess is truncated.
func (s *SessionState) AppendPendingInput(text string, cap int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingInput += text
	if cap > 0 && len(s.pendingInput) > cap {
		s.pendingInput = s.pendingInput[:cap]
	}
}

// TakePendingInput returns and clears the scratch buffer.
func (s *SessionState) TakePendingInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingInput
	s.pendingInput = ""
	return out
}

func (s *SessionState) SetStreamToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamToken = token
}

func (s *SessionState) StreamToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamToken
}

// MarkCallEnded is monotonic: once set it stays set.
func (s *SessionState) MarkCallEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callEnded = true
}

func (s *SessionState) CallEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callEnded
}

// MarkEscalated is monotonic: once set it stays set.
func (s *SessionState) MarkEscalated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalated = true
}

func (s *SessionState) Escalated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalated
}

// Touch refreshes lastActivityAt for idle-timeout accounting.
func (s *SessionState) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = s.now()
}

// TouchResponse refreshes lastResponseAt on any backend event.
func (s *SessionState) TouchResponse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResponseAt = s.now()
}

func (s *SessionState) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

func (s *SessionState) LastResponseAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponseAt
}

func (s *SessionState) ConnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt
}

// CountMedia bumps the inbound media counter and promotes a connecting
// session to active.
func (s *SessionState) CountMedia() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaCounter++
	s.lastActivityAt = s.now()
	if s.status == StatusConnecting {
		s.status = StatusActive
	}
}

func (s *SessionState) MediaCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaCounter
}

func (s *SessionState) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *SessionState) markTerminated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusTerminated
}
