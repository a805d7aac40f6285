package testutil

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	*InMemoryStore[invoice.Invoice]
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		InMemoryStore: NewInMemoryStore[invoice.Invoice](),
	}
}

func (s *InMemoryInvoiceStore) CreateIfNotExists(ctx context.Context, inv *invoice.Invoice) (bool, error) {
	if s.Exists(inv.ID) {
		return false, nil
	}
	if err := s.InMemoryStore.Create(ctx, inv.ID, *inv); err != nil {
		return false, err
	}
	return true, nil
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenant(ctx, inv.TenantID) {
		return nil, notFound("invoice", id)
	}
	return &inv, nil
}

func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	if _, err := s.Get(ctx, inv.ID); err != nil {
		return err
	}
	return s.InMemoryStore.Update(ctx, inv.ID, *inv)
}

func (s *InMemoryInvoiceStore) ListBySubscription(ctx context.Context, subscriptionID string, statuses ...types.InvoiceStatus) ([]*invoice.Invoice, error) {
	return s.list(func(inv invoice.Invoice) bool {
		return inv.SubscriptionID == subscriptionID &&
			CheckTenant(ctx, inv.TenantID) &&
			(len(statuses) == 0 || lo.Contains(statuses, inv.Status))
	}), nil
}

func (s *InMemoryInvoiceStore) ListByPhase(ctx context.Context, phaseID string) ([]*invoice.Invoice, error) {
	return s.list(func(inv invoice.Invoice) bool {
		return inv.PhaseID == phaseID && CheckTenant(ctx, inv.TenantID)
	}), nil
}

func (s *InMemoryInvoiceStore) list(filter FilterFunc[invoice.Invoice]) []*invoice.Invoice {
	return lo.ToSlicePtr(s.List(filter, func(a, b invoice.Invoice) bool {
		if a.CycleStartAt.Equal(b.CycleStartAt) {
			return a.ID < b.ID
		}
		return a.CycleStartAt.Before(b.CycleStartAt)
	}))
}

func (s *InMemoryInvoiceStore) hasOpen(subscriptionID string) bool {
	return s.Count(func(inv invoice.Invoice) bool {
		return inv.SubscriptionID == subscriptionID && inv.Status.IsOpen()
	}) > 0
}
