// Package statemachine is a small generic transition engine. A machine holds
// one current state and a table of guarded transitions. Each call to
// Transition executes at most one of them and never panics on a bad event.
package statemachine

import (
	"context"
	"sync"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/samber/lo"
)

// Event names a transition
type Event string

func (e Event) String() string {
	return string(e)
}

// Command is the typed payload of one event
type Command interface {
	Event() Event
}

// Transition moves the machine from any of From to one of To when Event fires
type Transition[S ~string, C Command] struct {
	From  []S
	To    []S
	Event Event

	// Handle performs the transition and returns the resulting state. A
	// returned error leaves the machine in its current state.
	Handle func(ctx context.Context, from S, cmd C) (S, error)

	OnSuccess func(ctx context.Context, from, to S, cmd C)
	OnError   func(ctx context.Context, from S, cmd C, err error)
}

// Machine executes transitions one at a time
type Machine[S ~string, C Command] struct {
	mu          sync.Mutex
	name        string
	state       S
	transitions []Transition[S, C]
}

// New creates a machine in the initial state. Transitions are matched in
// registration order.
func New[S ~string, C Command](name string, initial S, transitions ...Transition[S, C]) *Machine[S, C] {
	return &Machine[S, C]{
		name:        name,
		state:       initial,
		transitions: transitions,
	}
}

// Name returns the machine name used in errors and metrics
func (m *Machine[S, C]) Name() string {
	return m.name
}

// State returns the current state
func (m *Machine[S, C]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event has a transition out of the current state
func (m *Machine[S, C]) Can(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.find(event)
	return ok
}

// Transition runs the first transition registered for cmd's event whose From
// contains the current state and returns the new state. Handle and the
// callbacks run under the machine lock and must not call back into it.
func (m *Machine[S, C]) Transition(ctx context.Context, cmd C) (S, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	event := cmd.Event()

	t, ok := m.find(event)
	if !ok {
		return from, ierr.NewError("invalid transition").
			WithHintf("Cannot %s while %s", event, from).
			WithReportableDetails(map[string]any{
				"machine": m.name,
				"event":   event,
				"state":   from,
			}).
			MarkAll(ierr.ErrInvalidTransition, ierr.ErrInvalidOperation)
	}

	to, err := t.Handle(ctx, from, cmd)
	if err == nil && !lo.Contains(t.To, to) {
		err = ierr.NewError("transition produced an unexpected state").
			WithHintf("%s moved %s to %s", event, from, to).
			WithReportableDetails(map[string]any{
				"machine": m.name,
				"event":   event,
				"from":    from,
				"to":      to,
				"allowed": t.To,
			}).
			Mark(ierr.ErrInvariant)
	}
	if err != nil {
		if t.OnError != nil {
			t.OnError(ctx, from, cmd, err)
		}
		return from, err
	}

	m.state = to
	if t.OnSuccess != nil {
		t.OnSuccess(ctx, from, to, cmd)
	}
	return to, nil
}

func (m *Machine[S, C]) find(event Event) (Transition[S, C], bool) {
	return lo.Find(m.transitions, func(t Transition[S, C]) bool {
		return t.Event == event && lo.Contains(t.From, m.state)
	})
}
