package testutil

import (
	"context"
	"sync"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/postgres"
)

var _ postgres.Locker = (*InMemoryLocker)(nil)

// InMemoryLocker mirrors the advisory locker inside one process
type InMemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{held: make(map[string]bool)}
}

func (l *InMemoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, ierr.NewError("lock held by another process").
			WithHintf("%s is already being processed, retry later", key).
			WithReportableDetails(map[string]any{"lock_key": key}).
			MarkAll(ierr.ErrLockHeld, ierr.ErrRetryable)
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, key)
		})
	}, nil
}

// IsHeld reports whether key is currently locked
func (l *InMemoryLocker) IsHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}
