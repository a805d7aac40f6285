package customer

import "context"

type Repository interface {
	Get(ctx context.Context, id string) (*Customer, error)
}
