package billingcycle

import (
	"testing"

	"github.com/flexprice/lifecycle/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProrate(t *testing.T) {
	factor, err := Prorate(date(2024, 1, 1), endOfDay(2024, 1, 15), Anchor{Day: 1}, types.BillingPeriodMonth)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Div(decimal.NewFromInt(31)).Equal(factor))

	factor, err = Prorate(date(2024, 1, 1), endOfDay(2024, 3, 1), Anchor{Day: 1}, types.BillingPeriodMonth)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1).Equal(factor), "window beyond the cycle is capped at one")

	_, err = Prorate(date(2024, 1, 10), date(2024, 1, 1), Anchor{Day: 1}, types.BillingPeriodMonth)
	require.Error(t, err)
}

func TestCapCredit(t *testing.T) {
	tests := []struct {
		name      string
		potential decimal.Decimal
		paid      decimal.Decimal
		previous  decimal.Decimal
		expected  decimal.Decimal
	}{
		{
			name:      "below_paid",
			potential: decimal.NewFromInt(4),
			paid:      decimal.NewFromInt(10),
			previous:  decimal.Zero,
			expected:  decimal.NewFromInt(4),
		},
		{
			name:      "capped_at_paid",
			potential: decimal.NewFromInt(15),
			paid:      decimal.NewFromInt(10),
			previous:  decimal.Zero,
			expected:  decimal.NewFromInt(10),
		},
		{
			name:      "reduced_by_previous_credits",
			potential: decimal.NewFromInt(8),
			paid:      decimal.NewFromInt(10),
			previous:  decimal.NewFromInt(5),
			expected:  decimal.NewFromInt(5),
		},
		{
			name:      "fully_credited_already",
			potential: decimal.NewFromInt(8),
			paid:      decimal.NewFromInt(10),
			previous:  decimal.NewFromInt(10),
			expected:  decimal.Zero,
		},
		{
			name:      "negative_potential",
			potential: decimal.NewFromInt(-3),
			paid:      decimal.NewFromInt(10),
			previous:  decimal.Zero,
			expected:  decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CapCredit(tt.potential, tt.paid, tt.previous)
			assert.True(t, tt.expected.Equal(got), "want %s got %s", tt.expected, got)
		})
	}
}
