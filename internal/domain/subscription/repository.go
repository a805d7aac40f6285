package subscription

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByCustomerID(ctx context.Context, customerID string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error

	// ListDue scans every tenant for non terminal subscriptions with work due
	// at now and for any subscription with an open invoice, ordered by id and
	// starting after afterID
	ListDue(ctx context.Context, now time.Time, afterID string, limit int) ([]*Subscription, error)
}

// PhaseRepository stores subscription phases
type PhaseRepository interface {
	Create(ctx context.Context, phase *Phase) error
	Get(ctx context.Context, id string) (*Phase, error)
	Update(ctx context.Context, phase *Phase) error

	// ListBySubscription returns all phases ordered by start_at
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*Phase, error)

	// GetActiveAt returns the active phase whose window covers at
	GetActiveAt(ctx context.Context, subscriptionID string, at time.Time) (*Phase, error)
}

// ItemRepository stores the items of a phase
type ItemRepository interface {
	CreateBulk(ctx context.Context, items []*Item) error
	ListByPhase(ctx context.Context, phaseID string) ([]*Item, error)
}
