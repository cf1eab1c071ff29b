// Package memory contains an in-memory publisher for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []harvest.AcceptedEvent
	err    error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the event and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, event harvest.AcceptedEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []harvest.AcceptedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]harvest.AcceptedEvent, len(p.events))
	copy(out, p.events)
	return out
}
