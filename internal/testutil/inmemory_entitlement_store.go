package testutil

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/entitlement"
	"github.com/samber/lo"
)

// InMemoryEntitlementStore implements entitlement.Repository
type InMemoryEntitlementStore struct {
	*InMemoryStore[entitlement.Entitlement]
}

func NewInMemoryEntitlementStore() *InMemoryEntitlementStore {
	return &InMemoryEntitlementStore{
		InMemoryStore: NewInMemoryStore[entitlement.Entitlement](),
	}
}

func (s *InMemoryEntitlementStore) Create(ctx context.Context, e *entitlement.Entitlement) error {
	return s.InMemoryStore.Create(ctx, e.ID, *e)
}

func (s *InMemoryEntitlementStore) Get(ctx context.Context, id string) (*entitlement.Entitlement, error) {
	e, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenant(ctx, e.TenantID) {
		return nil, notFound("entitlement", id)
	}
	return &e, nil
}

func (s *InMemoryEntitlementStore) Update(ctx context.Context, e *entitlement.Entitlement) error {
	if _, err := s.Get(ctx, e.ID); err != nil {
		return err
	}
	return s.InMemoryStore.Update(ctx, e.ID, *e)
}

func (s *InMemoryEntitlementStore) ListActiveByCustomer(ctx context.Context, customerID string, at time.Time) ([]*entitlement.Entitlement, error) {
	out := s.List(func(e entitlement.Entitlement) bool {
		return e.CustomerID == customerID && CheckTenant(ctx, e.TenantID) && e.ActiveAt(at)
	}, func(a, b entitlement.Entitlement) bool {
		if a.FeatureSlug == b.FeatureSlug {
			return a.ID < b.ID
		}
		return a.FeatureSlug < b.FeatureSlug
	})
	return lo.ToSlicePtr(out), nil
}

func (s *InMemoryEntitlementStore) ListBySubscriptionItems(ctx context.Context, itemIDs []string) ([]*entitlement.Entitlement, error) {
	out := s.List(func(e entitlement.Entitlement) bool {
		return e.SubscriptionItemID != nil && lo.Contains(itemIDs, *e.SubscriptionItemID) && CheckTenant(ctx, e.TenantID)
	}, func(a, b entitlement.Entitlement) bool {
		if a.StartAt.Equal(b.StartAt) {
			return a.ID < b.ID
		}
		return a.StartAt.Before(b.StartAt)
	})
	return lo.ToSlicePtr(out), nil
}
