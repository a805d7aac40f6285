package postgres

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
)

type planRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewPlanRepository(db *postgres.DB, logger *logger.Logger) plan.Repository {
	return &planRepository{db: db, logger: logger}
}

func (r *planRepository) GetVersion(ctx context.Context, id string) (*plan.PlanVersion, error) {
	query := `
		SELECT id, tenant_id, plan_id, currency, billing_period, payment_method_required,
			payment_provider, created_at, updated_at
		FROM plan_versions
		WHERE id = :id AND tenant_id = :tenant_id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"id": id}))
	if err == nil {
		var pv plan.PlanVersion
		if err = namedGet(rows, &pv); err == nil {
			return &pv, nil
		}
	}
	return nil, translate(err, "plan version", "get", map[string]any{"plan_version_id": id})
}

func (r *planRepository) ListFeatures(ctx context.Context, planVersionID string) ([]*plan.FeaturePlanVersion, error) {
	query := `
		SELECT id, tenant_id, plan_version_id, feature_slug, feature_type, unit_price, "limit",
			default_units, package_size, aggregation_method, created_at, updated_at
		FROM feature_plan_versions
		WHERE plan_version_id = :plan_version_id AND tenant_id = :tenant_id
		ORDER BY feature_slug`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{
		"plan_version_id": planVersionID,
	}))
	if err != nil {
		return nil, translate(err, "plan features", "list", map[string]any{"plan_version_id": planVersionID})
	}
	out, err := namedSelect[plan.FeaturePlanVersion](rows)
	return out, translate(err, "plan features", "list", map[string]any{"plan_version_id": planVersionID})
}
