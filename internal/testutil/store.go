package testutil

import (
	"context"
	"sort"
	"sync"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// FilterFunc is a generic filter function type
type FilterFunc[T any] func(item T) bool

// SortFunc is a generic sort function type
type SortFunc[T any] func(i, j T) bool

// Snapshotter is implemented by stores that take part in MockPostgresClient
// transactions. Snapshot returns a func restoring the current contents.
type Snapshotter interface {
	Snapshot() (restore func())
}

// InMemoryStore implements a generic in-memory store. Items are kept by
// value so callers never share memory with the store.
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewInMemoryStore creates a new InMemoryStore
func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{
		items: make(map[string]T),
	}
}

// Create adds a new item to the store
func (s *InMemoryStore[T]) Create(_ context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return ierr.NewError("item already exists").
			WithHintf("%s already exists", id).
			Mark(ierr.ErrAlreadyExists)
	}

	s.items[id] = item
	return nil
}

// Get retrieves an item by ID
func (s *InMemoryStore[T]) Get(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, exists := s.items[id]; exists {
		return item, nil
	}

	var zero T
	return zero, ierr.NewError("item not found").
		WithHintf("%s not found", id).
		Mark(ierr.ErrNotFound)
}

// Exists reports whether id is stored
func (s *InMemoryStore[T]) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.items[id]
	return exists
}

// List retrieves items matching filterFn, sorted by sortFn
func (s *InMemoryStore[T]) List(filterFn FilterFunc[T], sortFn SortFunc[T]) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]T, 0)
	for _, item := range s.items {
		if filterFn == nil || filterFn(item) {
			result = append(result, item)
		}
	}

	if sortFn != nil {
		sort.Slice(result, func(i, j int) bool {
			return sortFn(result[i], result[j])
		})
	}
	return result
}

// Count returns the total number of items matching filterFn
func (s *InMemoryStore[T]) Count(filterFn FilterFunc[T]) int {
	return len(s.List(filterFn, nil))
}

// Update updates an existing item
func (s *InMemoryStore[T]) Update(_ context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return ierr.NewError("item not found").
			WithHintf("%s not found", id).
			Mark(ierr.ErrNotFound)
	}

	s.items[id] = item
	return nil
}

// Clear removes all items from the store
func (s *InMemoryStore[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
}

func (s *InMemoryStore[T]) Snapshot() func() {
	s.mu.RLock()
	saved := lo.Assign(s.items)
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.items = saved
	}
}

// CheckTenant reports whether a row of tenantID is visible from ctx
func CheckTenant(ctx context.Context, tenantID string) bool {
	ctxTenant := types.GetTenantID(ctx)
	return ctxTenant == "" || tenantID == ctxTenant
}

// notFound matches the error the postgres repositories return
func notFound(entity, id string) error {
	return ierr.NewError(entity+" not found").
		WithHintf("%s not found", entity).
		WithReportableDetails(map[string]any{"id": id}).
		Mark(ierr.ErrNotFound)
}
