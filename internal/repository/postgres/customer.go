package postgres

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/customer"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
)

type customerRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewCustomerRepository(db *postgres.DB, logger *logger.Logger) customer.Repository {
	return &customerRepository{db: db, logger: logger}
}

func (r *customerRepository) Get(ctx context.Context, id string) (*customer.Customer, error) {
	query := `
		SELECT id, tenant_id, project_id, email, currency, payment_provider_customer_id,
			default_payment_method_id, created_at, updated_at
		FROM customers
		WHERE id = :id AND tenant_id = :tenant_id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"id": id}))
	if err == nil {
		var c customer.Customer
		if err = namedGet(rows, &c); err == nil {
			return &c, nil
		}
	}
	return nil, translate(err, "customer", "get", map[string]any{"customer_id": id})
}
