package postgres

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/subscription"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
)

const subscriptionColumns = `
	id, tenant_id, customer_id, project_id, status, active, current_phase_id,
	current_cycle_start_at, current_cycle_end_at, previous_cycle_start_at, previous_cycle_end_at,
	next_invoice_at, last_invoice_at, past_due_at, cancel_at, change_at, expire_at,
	metadata, created_at, updated_at`

type subscriptionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{db: db, logger: logger}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `
		) VALUES (
			:id, :tenant_id, :customer_id, :project_id, :status, :active, :current_phase_id,
			:current_cycle_start_at, :current_cycle_end_at, :previous_cycle_start_at, :previous_cycle_end_at,
			:next_invoice_at, :last_invoice_at, :past_due_at, :cancel_at, :change_at, :expire_at,
			:metadata, :created_at, :updated_at
		)`

	r.logger.Debugw("creating subscription",
		"subscription_id", sub.ID,
		"customer_id", sub.CustomerID,
	)

	_, err := r.db.NamedExecContext(ctx, query, sub)
	return translate(err, "subscription", "create", map[string]any{
		"subscription_id": sub.ID,
		"customer_id":     sub.CustomerID,
	})
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = :id AND tenant_id = :tenant_id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"id": id}))
	if err == nil {
		var sub subscription.Subscription
		if err = namedGet(rows, &sub); err == nil {
			return &sub, nil
		}
	}
	return nil, translate(err, "subscription", "get", map[string]any{"subscription_id": id})
}

func (r *subscriptionRepository) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE customer_id = :customer_id AND tenant_id = :tenant_id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"customer_id": customerID}))
	if err == nil {
		var sub subscription.Subscription
		if err = namedGet(rows, &sub); err == nil {
			return &sub, nil
		}
	}
	return nil, translate(err, "subscription", "get", map[string]any{"customer_id": customerID})
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		UPDATE subscriptions SET
			status = :status,
			active = :active,
			current_phase_id = :current_phase_id,
			current_cycle_start_at = :current_cycle_start_at,
			current_cycle_end_at = :current_cycle_end_at,
			previous_cycle_start_at = :previous_cycle_start_at,
			previous_cycle_end_at = :previous_cycle_end_at,
			next_invoice_at = :next_invoice_at,
			last_invoice_at = :last_invoice_at,
			past_due_at = :past_due_at,
			cancel_at = :cancel_at,
			change_at = :change_at,
			expire_at = :expire_at,
			metadata = :metadata,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.db.NamedExecContext(ctx, query, sub)
	if err == nil {
		err = requireAffected(res)
	}
	return translate(err, "subscription", "update", map[string]any{"subscription_id": sub.ID})
}

func (r *subscriptionRepository) ListDue(ctx context.Context, now time.Time, afterID string, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + ` FROM subscriptions s
		WHERE s.id > :after_id
			AND (
				(
					s.status NOT IN ('past_dued', 'canceled', 'expired')
					AND (
						s.active = false
						OR s.next_invoice_at <= :now
						OR s.current_cycle_end_at < :now
						OR s.past_due_at <= :now
						OR s.cancel_at <= :now
						OR s.change_at <= :now
						OR s.expire_at <= :now
					)
				)
				OR EXISTS (
					SELECT 1 FROM invoices i
					WHERE i.subscription_id = s.id AND i.status IN ('draft', 'unpaid', 'waiting')
				)
			)
		ORDER BY s.id
		LIMIT :limit`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"now":      now.UTC(),
		"after_id": afterID,
		"limit":    limit,
	})
	if err != nil {
		return nil, translate(err, "subscription", "list", nil)
	}
	subs, err := namedSelect[subscription.Subscription](rows)
	return subs, translate(err, "subscription", "list", nil)
}

const phaseColumns = `
	id, tenant_id, subscription_id, plan_version_id, status, active, start_at, end_at,
	trial_days, trial_ends_at, when_to_bill, collection_method, grace_period,
	billing_anchor_day, billing_anchor_month, payment_method_id, metadata, created_at, updated_at`

type phaseRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewPhaseRepository(db *postgres.DB, logger *logger.Logger) subscription.PhaseRepository {
	return &phaseRepository{db: db, logger: logger}
}

func (r *phaseRepository) Create(ctx context.Context, phase *subscription.Phase) error {
	query := `
		INSERT INTO subscription_phases (` + phaseColumns + `
		) VALUES (
			:id, :tenant_id, :subscription_id, :plan_version_id, :status, :active, :start_at, :end_at,
			:trial_days, :trial_ends_at, :when_to_bill, :collection_method, :grace_period,
			:billing_anchor_day, :billing_anchor_month, :payment_method_id, :metadata, :created_at, :updated_at
		)`

	r.logger.Debugw("creating subscription phase",
		"phase_id", phase.ID,
		"subscription_id", phase.SubscriptionID,
	)

	_, err := r.db.NamedExecContext(ctx, query, phase)
	return translate(err, "subscription phase", "create", map[string]any{"phase_id": phase.ID})
}

func (r *phaseRepository) Get(ctx context.Context, id string) (*subscription.Phase, error) {
	query := `SELECT ` + phaseColumns + ` FROM subscription_phases WHERE id = :id AND tenant_id = :tenant_id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"id": id}))
	if err == nil {
		var phase subscription.Phase
		if err = namedGet(rows, &phase); err == nil {
			return &phase, nil
		}
	}
	return nil, translate(err, "subscription phase", "get", map[string]any{"phase_id": id})
}

func (r *phaseRepository) Update(ctx context.Context, phase *subscription.Phase) error {
	query := `
		UPDATE subscription_phases SET
			status = :status,
			active = :active,
			end_at = :end_at,
			trial_ends_at = :trial_ends_at,
			billing_anchor_day = :billing_anchor_day,
			billing_anchor_month = :billing_anchor_month,
			payment_method_id = :payment_method_id,
			metadata = :metadata,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.db.NamedExecContext(ctx, query, phase)
	if err == nil {
		err = requireAffected(res)
	}
	return translate(err, "subscription phase", "update", map[string]any{"phase_id": phase.ID})
}

func (r *phaseRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]*subscription.Phase, error) {
	query := `
		SELECT ` + phaseColumns + ` FROM subscription_phases
		WHERE subscription_id = :subscription_id AND tenant_id = :tenant_id
		ORDER BY start_at`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{
		"subscription_id": subscriptionID,
	}))
	if err != nil {
		return nil, translate(err, "subscription phase", "list", map[string]any{"subscription_id": subscriptionID})
	}
	phases, err := namedSelect[subscription.Phase](rows)
	return phases, translate(err, "subscription phase", "list", map[string]any{"subscription_id": subscriptionID})
}

func (r *phaseRepository) GetActiveAt(ctx context.Context, subscriptionID string, at time.Time) (*subscription.Phase, error) {
	query := `
		SELECT ` + phaseColumns + ` FROM subscription_phases
		WHERE subscription_id = :subscription_id
			AND tenant_id = :tenant_id
			AND active = TRUE
			AND start_at <= :at
			AND (end_at IS NULL OR end_at >= :at)
		ORDER BY start_at DESC
		LIMIT 1`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{
		"subscription_id": subscriptionID,
		"at":              at.UTC(),
	}))
	if err == nil {
		var phase subscription.Phase
		if err = namedGet(rows, &phase); err == nil {
			return &phase, nil
		}
	}
	return nil, translate(err, "active subscription phase", "get", map[string]any{
		"subscription_id": subscriptionID,
		"at":              at,
	})
}

const itemColumns = `id, tenant_id, phase_id, feature_plan_version_id, units, created_at, updated_at`

type itemRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewItemRepository(db *postgres.DB, logger *logger.Logger) subscription.ItemRepository {
	return &itemRepository{db: db, logger: logger}
}

func (r *itemRepository) CreateBulk(ctx context.Context, items []*subscription.Item) error {
	if len(items) == 0 {
		return nil
	}
	query := `
		INSERT INTO subscription_items (` + itemColumns + `)
		VALUES (:id, :tenant_id, :phase_id, :feature_plan_version_id, :units, :created_at, :updated_at)`

	_, err := r.db.NamedExecContext(ctx, query, items)
	return translate(err, "subscription item", "create", map[string]any{"phase_id": items[0].PhaseID})
}

func (r *itemRepository) ListByPhase(ctx context.Context, phaseID string) ([]*subscription.Item, error) {
	query := `
		SELECT ` + itemColumns + ` FROM subscription_items
		WHERE phase_id = :phase_id AND tenant_id = :tenant_id
		ORDER BY id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"phase_id": phaseID}))
	if err != nil {
		return nil, translate(err, "subscription item", "list", map[string]any{"phase_id": phaseID})
	}
	items, err := namedSelect[subscription.Item](rows)
	return items, translate(err, "subscription item", "list", map[string]any{"phase_id": phaseID})
}
