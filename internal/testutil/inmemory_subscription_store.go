package testutil

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository
type InMemorySubscriptionStore struct {
	*InMemoryStore[subscription.Subscription]
	// invoices backs the open invoice condition of ListDue
	invoices *InMemoryInvoiceStore
}

func NewInMemorySubscriptionStore(invoices *InMemoryInvoiceStore) *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[subscription.Subscription](),
		invoices:      invoices,
	}
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	taken := s.Count(func(existing subscription.Subscription) bool {
		return existing.TenantID == sub.TenantID && existing.CustomerID == sub.CustomerID
	})
	if taken > 0 {
		return ierr.NewError("subscription already exists").
			WithHint("subscription already exists").
			WithReportableDetails(map[string]any{"customer_id": sub.CustomerID}).
			Mark(ierr.ErrAlreadyExists)
	}
	return s.InMemoryStore.Create(ctx, sub.ID, *sub)
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenant(ctx, sub.TenantID) {
		return nil, notFound("subscription", id)
	}
	return &sub, nil
}

func (s *InMemorySubscriptionStore) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	subs := s.List(func(sub subscription.Subscription) bool {
		return sub.CustomerID == customerID && CheckTenant(ctx, sub.TenantID)
	}, nil)
	if len(subs) == 0 {
		return nil, notFound("subscription", customerID)
	}
	return &subs[0], nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	if existing, err := s.InMemoryStore.Get(ctx, sub.ID); err != nil || !CheckTenant(ctx, existing.TenantID) {
		return notFound("subscription", sub.ID)
	}
	return s.InMemoryStore.Update(ctx, sub.ID, *sub)
}

func (s *InMemorySubscriptionStore) ListDue(_ context.Context, now time.Time, afterID string, limit int) ([]*subscription.Subscription, error) {
	closed := []types.SubscriptionStatus{
		types.SubscriptionStatusPastDued,
		types.SubscriptionStatusCanceled,
		types.SubscriptionStatusExpired,
	}
	due := func(at *time.Time) bool {
		return at != nil && !at.After(now)
	}

	subs := s.List(func(sub subscription.Subscription) bool {
		if sub.ID <= afterID {
			return false
		}
		if s.invoices != nil && s.invoices.hasOpen(sub.ID) {
			return true
		}
		if lo.Contains(closed, sub.Status) {
			return false
		}
		return !sub.Active ||
			due(sub.NextInvoiceAt) ||
			(sub.CurrentCycleEndAt != nil && sub.CurrentCycleEndAt.Before(now)) ||
			due(sub.PastDueAt) ||
			due(sub.CancelAt) ||
			due(sub.ChangeAt) ||
			due(sub.ExpireAt)
	}, func(a, b subscription.Subscription) bool {
		return a.ID < b.ID
	})

	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return lo.ToSlicePtr(subs), nil
}
