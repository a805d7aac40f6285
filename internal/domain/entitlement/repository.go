package entitlement

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, e *Entitlement) error
	Get(ctx context.Context, id string) (*Entitlement, error)
	Update(ctx context.Context, e *Entitlement) error

	// ListActiveByCustomer returns custom and non custom entitlements active at t
	ListActiveByCustomer(ctx context.Context, customerID string, at time.Time) ([]*Entitlement, error)
	// ListBySubscriptionItems returns every entitlement of the items, ended or not
	ListBySubscriptionItems(ctx context.Context, itemIDs []string) ([]*Entitlement, error)
}
