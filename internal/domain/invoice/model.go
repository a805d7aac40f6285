package invoice

import (
	"time"

	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Invoice bills one window of a subscription phase. The id is derived from
// the phase and the window so that creating it twice yields one row.
type Invoice struct {
	ID                   string                 `db:"id" json:"id"`
	SubscriptionID       string                 `db:"subscription_id" json:"subscription_id"`
	PhaseID              string                 `db:"phase_id" json:"phase_id"`
	CustomerID           string                 `db:"customer_id" json:"customer_id"`
	CycleStartAt         time.Time              `db:"cycle_start_at" json:"cycle_start_at"`
	CycleEndAt           time.Time              `db:"cycle_end_at" json:"cycle_end_at"`
	PreviousCycleStartAt *time.Time             `db:"previous_cycle_start_at" json:"previous_cycle_start_at,omitempty"`
	PreviousCycleEndAt   *time.Time             `db:"previous_cycle_end_at" json:"previous_cycle_end_at,omitempty"`
	Status               types.InvoiceStatus    `db:"status" json:"status"`
	Type                 types.InvoiceType      `db:"type" json:"type"`
	WhenToBill           types.WhenToBill       `db:"when_to_bill" json:"when_to_bill"`
	CollectionMethod     types.CollectionMethod `db:"collection_method" json:"collection_method"`
	Currency             string                 `db:"currency" json:"currency"`
	Closing              bool                   `db:"closing" json:"closing"`
	DueAt                time.Time              `db:"due_at" json:"due_at"`
	PastDueAt            time.Time              `db:"past_due_at" json:"past_due_at"`
	Subtotal             decimal.Decimal        `db:"subtotal" json:"subtotal"`
	Total                decimal.Decimal        `db:"total" json:"total"`
	AmountCreditUsed     decimal.Decimal        `db:"amount_credit_used" json:"amount_credit_used"`

	PaymentProvider           string                `db:"payment_provider" json:"payment_provider"`
	PaymentProviderInvoiceID  *string               `db:"payment_provider_invoice_id" json:"payment_provider_invoice_id,omitempty"`
	PaymentProviderInvoiceURL *string               `db:"payment_provider_invoice_url" json:"payment_provider_invoice_url,omitempty"`
	PaymentAttempts           types.PaymentAttempts `db:"payment_attempts" json:"payment_attempts"`

	PaidAt     *time.Time     `db:"paid_at" json:"paid_at,omitempty"`
	ProratedAt *time.Time     `db:"prorated_at" json:"prorated_at,omitempty"`
	Metadata   types.Metadata `db:"metadata" json:"metadata,omitempty"`

	types.BaseModel
}

// HasProviderInvoice reports whether the provider side invoice was created
func (i *Invoice) HasProviderInvoice() bool {
	return lo.FromPtr(i.PaymentProviderInvoiceID) != ""
}

// IsPayInAdvance reports whether the invoice bills flat charges up front
func (i *Invoice) IsPayInAdvance() bool {
	return i.WhenToBill == types.WhenToBillPayInAdvance
}

// BillsFlat reports whether flat features are charged on this invoice.
// A closing pay in advance invoice only charges them for the part of its
// window that starts after the last cycle billed up front.
func (i *Invoice) BillsFlat() bool {
	if !(i.Closing && i.IsPayInAdvance()) {
		return true
	}
	return i.PreviousCycleEndAt != nil && i.CycleStartAt.After(*i.PreviousCycleEndAt)
}

// AmountPaid is the total actually charged, zero until paid
func (i *Invoice) AmountPaid() decimal.Decimal {
	if i.Status != types.InvoiceStatusPaid {
		return decimal.Zero
	}
	return i.Total
}

// UsageWindow is the window whose metered usage this invoice bills.
// Regular pay in advance invoices bill the usage of the previous cycle, nil
// when there was none. A closing invoice bills usage from the start of the
// last billed cycle when it carries one.
func (i *Invoice) UsageWindow() (start, end *time.Time) {
	if !i.IsPayInAdvance() {
		return &i.CycleStartAt, &i.CycleEndAt
	}
	if !i.Closing {
		return i.PreviousCycleStartAt, i.PreviousCycleEndAt
	}
	if i.PreviousCycleStartAt != nil {
		return i.PreviousCycleStartAt, &i.CycleEndAt
	}
	return &i.CycleStartAt, &i.CycleEndAt
}
