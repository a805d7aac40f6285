package statemachine

import (
	"context"
	"errors"
	"testing"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doorState string

const (
	doorOpen   doorState = "open"
	doorClosed doorState = "closed"
	doorLocked doorState = "locked"
)

type doorCmd struct {
	event Event
	fail  error
	to    doorState
}

func (c doorCmd) Event() Event { return c.event }

const (
	eventClose Event = "CLOSE"
	eventLock  Event = "LOCK"
	eventOpen  Event = "OPEN"
)

type recorder struct {
	successes []string
	failures  []error
}

func newDoor(rec *recorder) *Machine[doorState, doorCmd] {
	handle := func(_ context.Context, _ doorState, cmd doorCmd) (doorState, error) {
		if cmd.fail != nil {
			return "", cmd.fail
		}
		return cmd.to, nil
	}
	onSuccess := func(_ context.Context, from, to doorState, cmd doorCmd) {
		rec.successes = append(rec.successes, string(from)+"->"+string(to))
	}
	onError := func(_ context.Context, _ doorState, _ doorCmd, err error) {
		rec.failures = append(rec.failures, err)
	}

	return New("door", doorOpen,
		Transition[doorState, doorCmd]{
			From: []doorState{doorOpen}, To: []doorState{doorClosed}, Event: eventClose,
			Handle: handle, OnSuccess: onSuccess, OnError: onError,
		},
		Transition[doorState, doorCmd]{
			From: []doorState{doorClosed}, To: []doorState{doorLocked}, Event: eventLock,
			Handle: handle, OnSuccess: onSuccess, OnError: onError,
		},
		Transition[doorState, doorCmd]{
			From: []doorState{doorClosed, doorLocked}, To: []doorState{doorOpen}, Event: eventOpen,
			Handle: handle, OnSuccess: onSuccess, OnError: onError,
		},
	)
}

func TestMachine_Transition(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := newDoor(rec)

	assert.Equal(t, "door", m.Name())
	assert.True(t, m.Can(eventClose))
	assert.False(t, m.Can(eventLock))

	state, err := m.Transition(ctx, doorCmd{event: eventClose, to: doorClosed})
	require.NoError(t, err)
	assert.Equal(t, doorClosed, state)
	assert.Equal(t, doorClosed, m.State())

	state, err = m.Transition(ctx, doorCmd{event: eventLock, to: doorLocked})
	require.NoError(t, err)
	assert.Equal(t, doorLocked, state)

	assert.Equal(t, []string{"open->closed", "closed->locked"}, rec.successes)
	assert.Empty(t, rec.failures)
}

func TestMachine_InvalidTransition(t *testing.T) {
	rec := &recorder{}
	m := newDoor(rec)

	state, err := m.Transition(context.Background(), doorCmd{event: eventLock, to: doorLocked})
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrInvalidTransition))
	assert.True(t, ierr.IsInvalidOperation(err))
	assert.Equal(t, doorOpen, state)
	assert.Equal(t, doorOpen, m.State())
	assert.Empty(t, rec.successes)
	// no transition matched so no OnError either
	assert.Empty(t, rec.failures)
}

func TestMachine_HandlerFailureKeepsState(t *testing.T) {
	rec := &recorder{}
	m := newDoor(rec)
	boom := errors.New("boom")

	state, err := m.Transition(context.Background(), doorCmd{event: eventClose, fail: boom})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, doorOpen, state)
	assert.Equal(t, doorOpen, m.State())
	assert.Equal(t, []error{boom}, rec.failures)

	// the same transition can be retried from the unchanged state
	state, err = m.Transition(context.Background(), doorCmd{event: eventClose, to: doorClosed})
	require.NoError(t, err)
	assert.Equal(t, doorClosed, state)
}

func TestMachine_UnexpectedTargetState(t *testing.T) {
	rec := &recorder{}
	m := newDoor(rec)

	_, err := m.Transition(context.Background(), doorCmd{event: eventClose, to: doorLocked})
	require.Error(t, err)
	assert.True(t, ierr.IsInvariant(err))
	assert.Equal(t, doorOpen, m.State())
	assert.Len(t, rec.failures, 1)
}

func TestMachine_FirstMatchingTransitionWins(t *testing.T) {
	var calls []string
	m := New("ordered", doorOpen,
		Transition[doorState, doorCmd]{
			From: []doorState{doorClosed}, To: []doorState{doorOpen}, Event: eventClose,
			Handle: func(context.Context, doorState, doorCmd) (doorState, error) {
				calls = append(calls, "wrong_source")
				return doorOpen, nil
			},
		},
		Transition[doorState, doorCmd]{
			From: []doorState{doorOpen}, To: []doorState{doorClosed}, Event: eventClose,
			Handle: func(context.Context, doorState, doorCmd) (doorState, error) {
				calls = append(calls, "first")
				return doorClosed, nil
			},
		},
		Transition[doorState, doorCmd]{
			From: []doorState{doorOpen}, To: []doorState{doorLocked}, Event: eventClose,
			Handle: func(context.Context, doorState, doorCmd) (doorState, error) {
				calls = append(calls, "second")
				return doorLocked, nil
			},
		},
	)

	_, err := m.Transition(context.Background(), doorCmd{event: eventClose})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, calls)
	assert.Equal(t, doorClosed, m.State())
}
