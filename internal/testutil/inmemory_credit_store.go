package testutil

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/credit"
	"github.com/samber/lo"
)

// InMemoryCreditStore implements credit.Repository
type InMemoryCreditStore struct {
	*InMemoryStore[credit.Credit]
}

func NewInMemoryCreditStore() *InMemoryCreditStore {
	return &InMemoryCreditStore{
		InMemoryStore: NewInMemoryStore[credit.Credit](),
	}
}

func (s *InMemoryCreditStore) CreateIfNotExists(ctx context.Context, c *credit.Credit) (bool, error) {
	if s.Exists(c.ID) {
		return false, nil
	}
	if err := s.InMemoryStore.Create(ctx, c.ID, *c); err != nil {
		return false, err
	}
	return true, nil
}

func (s *InMemoryCreditStore) Get(ctx context.Context, id string) (*credit.Credit, error) {
	c, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenant(ctx, c.TenantID) {
		return nil, notFound("credit", id)
	}
	return &c, nil
}

func (s *InMemoryCreditStore) Update(ctx context.Context, c *credit.Credit) error {
	if _, err := s.Get(ctx, c.ID); err != nil {
		return err
	}
	return s.InMemoryStore.Update(ctx, c.ID, *c)
}

func (s *InMemoryCreditStore) ListActiveByCustomer(ctx context.Context, customerID string) ([]*credit.Credit, error) {
	out := s.List(func(c credit.Credit) bool {
		return c.CustomerID == customerID && c.Active && CheckTenant(ctx, c.TenantID)
	}, func(a, b credit.Credit) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return lo.ToSlicePtr(out), nil
}
