package postgres

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/credit"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
)

const creditColumns = `
	id, tenant_id, code, customer_id, invoice_id, currency, total_amount, amount_used, active,
	created_at, updated_at`

type creditRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewCreditRepository(db *postgres.DB, logger *logger.Logger) credit.Repository {
	return &creditRepository{db: db, logger: logger}
}

func (r *creditRepository) CreateIfNotExists(ctx context.Context, c *credit.Credit) (bool, error) {
	query := `
		INSERT INTO credits (` + creditColumns + `
		) VALUES (
			:id, :tenant_id, :code, :customer_id, :invoice_id, :currency, :total_amount, :amount_used, :active,
			:created_at, :updated_at
		)
		ON CONFLICT (id) DO NOTHING`

	res, err := r.db.NamedExecContext(ctx, query, c)
	if err != nil {
		return false, translate(err, "credit", "create", map[string]any{"credit_id": c.ID})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(err, "credit", "create", map[string]any{"credit_id": c.ID})
	}
	return n > 0, nil
}

func (r *creditRepository) Get(ctx context.Context, id string) (*credit.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE id = :id AND tenant_id = :tenant_id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"id": id}))
	if err == nil {
		var c credit.Credit
		if err = namedGet(rows, &c); err == nil {
			return &c, nil
		}
	}
	return nil, translate(err, "credit", "get", map[string]any{"credit_id": id})
}

func (r *creditRepository) Update(ctx context.Context, c *credit.Credit) error {
	query := `
		UPDATE credits SET
			amount_used = :amount_used,
			active = :active,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.db.NamedExecContext(ctx, query, c)
	if err == nil {
		err = requireAffected(res)
	}
	return translate(err, "credit", "update", map[string]any{"credit_id": c.ID})
}

func (r *creditRepository) ListActiveByCustomer(ctx context.Context, customerID string) ([]*credit.Credit, error) {
	query := `
		SELECT ` + creditColumns + ` FROM credits
		WHERE customer_id = :customer_id AND tenant_id = :tenant_id AND active = TRUE
		ORDER BY created_at, id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"customer_id": customerID}))
	if err != nil {
		return nil, translate(err, "credit", "list", map[string]any{"customer_id": customerID})
	}
	out, err := namedSelect[credit.Credit](rows)
	return out, translate(err, "credit", "list", map[string]any{"customer_id": customerID})
}
