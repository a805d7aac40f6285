package invoice

import (
	"context"

	"github.com/flexprice/lifecycle/internal/types"
)

type Repository interface {
	// CreateIfNotExists inserts inv unless a row with the same id exists.
	// created is false when the row was already there.
	CreateIfNotExists(ctx context.Context, inv *Invoice) (created bool, err error)
	Get(ctx context.Context, id string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error

	// ListBySubscription returns invoices ordered by cycle start. Without
	// statuses every invoice is returned.
	ListBySubscription(ctx context.Context, subscriptionID string, statuses ...types.InvoiceStatus) ([]*Invoice, error)
	ListByPhase(ctx context.Context, phaseID string) ([]*Invoice, error)
}
