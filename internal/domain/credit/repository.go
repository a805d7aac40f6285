package credit

import "context"

type Repository interface {
	// CreateIfNotExists inserts c unless a credit with the same id exists
	CreateIfNotExists(ctx context.Context, c *Credit) (created bool, err error)
	Get(ctx context.Context, id string) (*Credit, error)
	Update(ctx context.Context, c *Credit) error

	// ListActiveByCustomer returns active credits, oldest first
	ListActiveByCustomer(ctx context.Context, customerID string) ([]*Credit, error)
}
