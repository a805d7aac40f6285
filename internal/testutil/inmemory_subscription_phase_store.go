package testutil

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/samber/lo"
)

// InMemorySubscriptionPhaseStore implements subscription.PhaseRepository
type InMemorySubscriptionPhaseStore struct {
	*InMemoryStore[subscription.Phase]
}

func NewInMemorySubscriptionPhaseStore() *InMemorySubscriptionPhaseStore {
	return &InMemorySubscriptionPhaseStore{
		InMemoryStore: NewInMemoryStore[subscription.Phase](),
	}
}

func (s *InMemorySubscriptionPhaseStore) Create(ctx context.Context, phase *subscription.Phase) error {
	return s.InMemoryStore.Create(ctx, phase.ID, *phase)
}

func (s *InMemorySubscriptionPhaseStore) Get(ctx context.Context, id string) (*subscription.Phase, error) {
	phase, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenant(ctx, phase.TenantID) {
		return nil, notFound("subscription phase", id)
	}
	return &phase, nil
}

func (s *InMemorySubscriptionPhaseStore) Update(ctx context.Context, phase *subscription.Phase) error {
	if _, err := s.Get(ctx, phase.ID); err != nil {
		return err
	}
	return s.InMemoryStore.Update(ctx, phase.ID, *phase)
}

func (s *InMemorySubscriptionPhaseStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*subscription.Phase, error) {
	phases := s.List(func(p subscription.Phase) bool {
		return p.SubscriptionID == subscriptionID && CheckTenant(ctx, p.TenantID)
	}, func(a, b subscription.Phase) bool {
		return a.StartAt.Before(b.StartAt)
	})
	return lo.ToSlicePtr(phases), nil
}

func (s *InMemorySubscriptionPhaseStore) GetActiveAt(ctx context.Context, subscriptionID string, at time.Time) (*subscription.Phase, error) {
	phases := s.List(func(p subscription.Phase) bool {
		return p.SubscriptionID == subscriptionID && p.Active && p.Covers(at) && CheckTenant(ctx, p.TenantID)
	}, func(a, b subscription.Phase) bool {
		return a.StartAt.After(b.StartAt)
	})
	if len(phases) == 0 {
		return nil, notFound("subscription phase", subscriptionID)
	}
	return &phases[0], nil
}

// InMemorySubscriptionItemStore implements subscription.ItemRepository
type InMemorySubscriptionItemStore struct {
	*InMemoryStore[subscription.Item]
}

func NewInMemorySubscriptionItemStore() *InMemorySubscriptionItemStore {
	return &InMemorySubscriptionItemStore{
		InMemoryStore: NewInMemoryStore[subscription.Item](),
	}
}

func (s *InMemorySubscriptionItemStore) CreateBulk(ctx context.Context, items []*subscription.Item) error {
	for _, item := range items {
		duplicate := s.Count(func(existing subscription.Item) bool {
			return existing.PhaseID == item.PhaseID && existing.FeaturePlanVersionID == item.FeaturePlanVersionID
		})
		if duplicate > 0 {
			return ierr.NewError("subscription item already exists").
				WithHint("subscription item already exists").
				WithReportableDetails(map[string]any{
					"phase_id":                item.PhaseID,
					"feature_plan_version_id": item.FeaturePlanVersionID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		if err := s.InMemoryStore.Create(ctx, item.ID, *item); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemorySubscriptionItemStore) ListByPhase(ctx context.Context, phaseID string) ([]*subscription.Item, error) {
	items := s.List(func(item subscription.Item) bool {
		return item.PhaseID == phaseID && CheckTenant(ctx, item.TenantID)
	}, func(a, b subscription.Item) bool {
		return a.ID < b.ID
	})
	return lo.ToSlicePtr(items), nil
}
