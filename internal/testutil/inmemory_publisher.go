package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/lifecycle/internal/publisher"
	"github.com/samber/lo"
)

var _ publisher.EventPublisher = (*InMemoryEventPublisher)(nil)

// InMemoryEventPublisher records published lifecycle events
type InMemoryEventPublisher struct {
	mu     sync.RWMutex
	events []*publisher.Event
}

func NewInMemoryEventPublisher() *InMemoryEventPublisher {
	return &InMemoryEventPublisher{events: make([]*publisher.Event, 0)}
}

func (p *InMemoryEventPublisher) Publish(_ context.Context, event *publisher.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// GetEvents returns all published events
func (p *InMemoryEventPublisher) GetEvents() []*publisher.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*publisher.Event(nil), p.events...)
}

// EventsNamed returns the published events called name
func (p *InMemoryEventPublisher) EventsNamed(name publisher.EventName) []*publisher.Event {
	return lo.Filter(p.GetEvents(), func(e *publisher.Event, _ int) bool {
		return e.Name == name
	})
}

// Clear removes all published events
func (p *InMemoryEventPublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = make([]*publisher.Event, 0)
}
