package credit

import (
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/shopspring/decimal"
)

// Credit is a balance owed to a customer, issued when a paid invoice is
// prorated. The id is derived from the prorated invoice.
type Credit struct {
	ID          string          `db:"id" json:"id"`
	Code        string          `db:"code" json:"code"`
	CustomerID  string          `db:"customer_id" json:"customer_id"`
	InvoiceID   string          `db:"invoice_id" json:"invoice_id"`
	Currency    string          `db:"currency" json:"currency"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	AmountUsed  decimal.Decimal `db:"amount_used" json:"amount_used"`
	Active      bool            `db:"active" json:"active"`

	types.BaseModel
}

// Remaining returns the unused balance
func (c *Credit) Remaining() decimal.Decimal {
	remaining := c.TotalAmount.Sub(c.AmountUsed)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Use consumes up to amount from the balance and returns what was applied.
// A fully used credit is deactivated.
func (c *Credit) Use(amount decimal.Decimal) decimal.Decimal {
	applied := decimal.Min(c.Remaining(), amount)
	if applied.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	c.AmountUsed = c.AmountUsed.Add(applied)
	if c.Remaining().IsZero() {
		c.Active = false
	}
	return applied
}
