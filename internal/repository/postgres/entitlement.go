package postgres

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/entitlement"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/lib/pq"
)

const entitlementColumns = `
	id, tenant_id, customer_id, subscription_item_id, feature_plan_version_id, feature_slug,
	feature_type, "limit", units, usage, start_at, end_at, is_custom, created_at, updated_at`

type entitlementRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewEntitlementRepository(db *postgres.DB, logger *logger.Logger) entitlement.Repository {
	return &entitlementRepository{db: db, logger: logger}
}

func (r *entitlementRepository) Create(ctx context.Context, e *entitlement.Entitlement) error {
	query := `
		INSERT INTO customer_entitlements (` + entitlementColumns + `
		) VALUES (
			:id, :tenant_id, :customer_id, :subscription_item_id, :feature_plan_version_id, :feature_slug,
			:feature_type, :limit, :units, :usage, :start_at, :end_at, :is_custom, :created_at, :updated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, e)
	return translate(err, "entitlement", "create", map[string]any{
		"entitlement_id": e.ID,
		"customer_id":    e.CustomerID,
	})
}

func (r *entitlementRepository) Get(ctx context.Context, id string) (*entitlement.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + ` FROM customer_entitlements WHERE id = :id AND tenant_id = :tenant_id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"id": id}))
	if err == nil {
		var e entitlement.Entitlement
		if err = namedGet(rows, &e); err == nil {
			return &e, nil
		}
	}
	return nil, translate(err, "entitlement", "get", map[string]any{"entitlement_id": id})
}

func (r *entitlementRepository) Update(ctx context.Context, e *entitlement.Entitlement) error {
	query := `
		UPDATE customer_entitlements SET
			subscription_item_id = :subscription_item_id,
			"limit" = :limit,
			units = :units,
			usage = :usage,
			end_at = :end_at,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.db.NamedExecContext(ctx, query, e)
	if err == nil {
		err = requireAffected(res)
	}
	return translate(err, "entitlement", "update", map[string]any{"entitlement_id": e.ID})
}

func (r *entitlementRepository) ListActiveByCustomer(ctx context.Context, customerID string, at time.Time) ([]*entitlement.Entitlement, error) {
	query := `
		SELECT ` + entitlementColumns + ` FROM customer_entitlements
		WHERE customer_id = :customer_id
			AND tenant_id = :tenant_id
			AND start_at <= :at
			AND (end_at IS NULL OR end_at >= :at)
		ORDER BY feature_slug, id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{
		"customer_id": customerID,
		"at":          at.UTC(),
	}))
	if err != nil {
		return nil, translate(err, "entitlement", "list", map[string]any{"customer_id": customerID})
	}
	out, err := namedSelect[entitlement.Entitlement](rows)
	return out, translate(err, "entitlement", "list", map[string]any{"customer_id": customerID})
}

func (r *entitlementRepository) ListBySubscriptionItems(ctx context.Context, itemIDs []string) ([]*entitlement.Entitlement, error) {
	if len(itemIDs) == 0 {
		return []*entitlement.Entitlement{}, nil
	}
	query := `
		SELECT ` + entitlementColumns + ` FROM customer_entitlements
		WHERE subscription_item_id = ANY(:item_ids) AND tenant_id = :tenant_id
		ORDER BY start_at, id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{
		"item_ids": pq.Array(itemIDs),
	}))
	if err != nil {
		return nil, translate(err, "entitlement", "list", nil)
	}
	out, err := namedSelect[entitlement.Entitlement](rows)
	return out, translate(err, "entitlement", "list", nil)
}
