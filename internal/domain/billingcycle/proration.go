package billingcycle

import (
	"time"

	"github.com/flexprice/lifecycle/internal/types"
	"github.com/shopspring/decimal"
)

// Prorate returns the share of the anchored period covered by the inclusive
// window [start, end]
func Prorate(start, end time.Time, anchor Anchor, period types.BillingPeriod) (decimal.Decimal, error) {
	cycle, err := Calculate(Input{
		CurrentCycleStartAt: start,
		Anchor:              anchor,
		Period:              period,
		EndAt:               &end,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return cycle.ProrationFactor, nil
}

// CapCredit limits a refund to what was actually paid, less the credits
// already issued against the same payment. The result is never negative.
func CapCredit(potential, amountPaid, previouslyCredited decimal.Decimal) decimal.Decimal {
	if potential.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	if potential.GreaterThan(amountPaid) {
		potential = amountPaid
	}

	available := amountPaid.Sub(previouslyCredited)
	if potential.GreaterThan(available) {
		potential = available
	}

	if potential.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return potential
}
