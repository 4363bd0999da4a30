// Package ticketstore persists classified incident tickets. The store is
// write-once: a ticket id is assigned exactly once per finished call and
// never overwritten.
package ticketstore

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrDuplicate = errors.New("ticket already exists")
	ErrEmptyID   = errors.New("ticket id is required")
)

// Store is the write-once ticket sink. No read path is required by the
// relay core.
type Store interface {
	Put(ctx context.Context, ticketID string, record map[string]any) error
}

// Memory is an in-memory Store for tests and deployments without a
// database configured.
type Memory struct {
	mu      sync.Mutex
	records map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[string]any)}
}

func (m *Memory) Put(ctx context.Context, ticketID string, record map[string]any) error {
	if ticketID == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[ticketID]; exists {
		return ErrDuplicate
	}
	copied := make(map[string]any, len(record))
	for k, v := range record {
		copied[k] = v
	}
	m.records[ticketID] = copied
	return nil
}

// Get exists for test assertions only.
func (m *Memory) Get(ticketID string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ticketID]
	return rec, ok
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
