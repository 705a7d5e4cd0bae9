package events

import (
	"context"
	"sync"
)

// Memory is an in-process Publisher for tests and single-node deployments
// that run without a message bus.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory constructs an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the event.
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
