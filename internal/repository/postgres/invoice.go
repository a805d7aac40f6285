package postgres

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

const invoiceColumns = `
	id, tenant_id, subscription_id, phase_id, customer_id, cycle_start_at, cycle_end_at,
	previous_cycle_start_at, previous_cycle_end_at, status, type, when_to_bill, collection_method,
	currency, closing, due_at, past_due_at, subtotal, total, amount_credit_used, payment_provider,
	payment_provider_invoice_id, payment_provider_invoice_url, payment_attempts, paid_at,
	prorated_at, metadata, created_at, updated_at`

type invoiceRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{db: db, logger: logger}
}

func (r *invoiceRepository) CreateIfNotExists(ctx context.Context, inv *invoice.Invoice) (bool, error) {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `
		) VALUES (
			:id, :tenant_id, :subscription_id, :phase_id, :customer_id, :cycle_start_at, :cycle_end_at,
			:previous_cycle_start_at, :previous_cycle_end_at, :status, :type, :when_to_bill, :collection_method,
			:currency, :closing, :due_at, :past_due_at, :subtotal, :total, :amount_credit_used, :payment_provider,
			:payment_provider_invoice_id, :payment_provider_invoice_url, :payment_attempts, :paid_at,
			:prorated_at, :metadata, :created_at, :updated_at
		)
		ON CONFLICT (id) DO NOTHING`

	res, err := r.db.NamedExecContext(ctx, query, inv)
	if err != nil {
		return false, translate(err, "invoice", "create", map[string]any{"invoice_id": inv.ID})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(err, "invoice", "create", map[string]any{"invoice_id": inv.ID})
	}

	r.logger.Debugw("upserted invoice",
		"invoice_id", inv.ID,
		"phase_id", inv.PhaseID,
		"created", n > 0,
	)
	return n > 0, nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = :id AND tenant_id = :tenant_id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"id": id}))
	if err == nil {
		var inv invoice.Invoice
		if err = namedGet(rows, &inv); err == nil {
			return &inv, nil
		}
	}
	return nil, translate(err, "invoice", "get", map[string]any{"invoice_id": id})
}

func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	query := `
		UPDATE invoices SET
			status = :status,
			type = :type,
			due_at = :due_at,
			past_due_at = :past_due_at,
			subtotal = :subtotal,
			total = :total,
			amount_credit_used = :amount_credit_used,
			payment_provider_invoice_id = :payment_provider_invoice_id,
			payment_provider_invoice_url = :payment_provider_invoice_url,
			payment_attempts = :payment_attempts,
			paid_at = :paid_at,
			prorated_at = :prorated_at,
			metadata = :metadata,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.db.NamedExecContext(ctx, query, inv)
	if err == nil {
		err = requireAffected(res)
	}
	return translate(err, "invoice", "update", map[string]any{"invoice_id": inv.ID})
}

func (r *invoiceRepository) ListBySubscription(ctx context.Context, subscriptionID string, statuses ...types.InvoiceStatus) ([]*invoice.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + ` FROM invoices
		WHERE subscription_id = :subscription_id
			AND tenant_id = :tenant_id
			AND (cardinality(:statuses) = 0 OR status = ANY(:statuses))
		ORDER BY cycle_start_at, id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{
		"subscription_id": subscriptionID,
		"statuses":        pq.Array(lo.Map(statuses, func(s types.InvoiceStatus, _ int) string { return string(s) })),
	}))
	if err != nil {
		return nil, translate(err, "invoice", "list", map[string]any{"subscription_id": subscriptionID})
	}
	invoices, err := namedSelect[invoice.Invoice](rows)
	return invoices, translate(err, "invoice", "list", map[string]any{"subscription_id": subscriptionID})
}

func (r *invoiceRepository) ListByPhase(ctx context.Context, phaseID string) ([]*invoice.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + ` FROM invoices
		WHERE phase_id = :phase_id AND tenant_id = :tenant_id
		ORDER BY cycle_start_at, id`

	rows, err := r.db.NamedQueryContext(ctx, query, tenantParams(ctx, map[string]interface{}{"phase_id": phaseID}))
	if err != nil {
		return nil, translate(err, "invoice", "list", map[string]any{"phase_id": phaseID})
	}
	invoices, err := namedSelect[invoice.Invoice](rows)
	return invoices, translate(err, "invoice", "list", map[string]any{"phase_id": phaseID})
}
