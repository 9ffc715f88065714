package publish

import (
	"context"
	"sync"
)

// Memory collects events in process, mainly for tests and local runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory constructs an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish appends the event.
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
