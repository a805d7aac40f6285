package testutil

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/customer"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/samber/lo"
)

// InMemoryPlanStore implements plan.Repository. Tests seed it directly.
type InMemoryPlanStore struct {
	versions *InMemoryStore[plan.PlanVersion]
	features *InMemoryStore[plan.FeaturePlanVersion]
}

func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{
		versions: NewInMemoryStore[plan.PlanVersion](),
		features: NewInMemoryStore[plan.FeaturePlanVersion](),
	}
}

// AddVersion seeds a plan version together with its features
func (s *InMemoryPlanStore) AddVersion(ctx context.Context, version *plan.PlanVersion, features ...*plan.FeaturePlanVersion) error {
	if err := s.versions.Create(ctx, version.ID, *version); err != nil {
		return err
	}
	for _, f := range features {
		f.PlanVersionID = version.ID
		if err := s.features.Create(ctx, f.ID, *f); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryPlanStore) GetVersion(ctx context.Context, id string) (*plan.PlanVersion, error) {
	v, err := s.versions.Get(ctx, id)
	if err != nil || !CheckTenant(ctx, v.TenantID) {
		return nil, notFound("plan version", id)
	}
	return &v, nil
}

func (s *InMemoryPlanStore) ListFeatures(ctx context.Context, planVersionID string) ([]*plan.FeaturePlanVersion, error) {
	out := s.features.List(func(f plan.FeaturePlanVersion) bool {
		return f.PlanVersionID == planVersionID && CheckTenant(ctx, f.TenantID)
	}, func(a, b plan.FeaturePlanVersion) bool {
		return a.FeatureSlug < b.FeatureSlug
	})
	return lo.ToSlicePtr(out), nil
}

func (s *InMemoryPlanStore) Clear() {
	s.versions.Clear()
	s.features.Clear()
}

// InMemoryCustomerStore implements customer.Repository
type InMemoryCustomerStore struct {
	*InMemoryStore[customer.Customer]
}

func NewInMemoryCustomerStore() *InMemoryCustomerStore {
	return &InMemoryCustomerStore{
		InMemoryStore: NewInMemoryStore[customer.Customer](),
	}
}

// Add seeds a customer
func (s *InMemoryCustomerStore) Add(ctx context.Context, c *customer.Customer) error {
	return s.InMemoryStore.Create(ctx, c.ID, *c)
}

func (s *InMemoryCustomerStore) Get(ctx context.Context, id string) (*customer.Customer, error) {
	c, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenant(ctx, c.TenantID) {
		return nil, notFound("customer", id)
	}
	return &c, nil
}
