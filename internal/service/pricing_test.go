package service

import (
	"testing"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	"github.com/flexprice/lifecycle/internal/domain/usage"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pricingFixture() PricingInput {
	features := map[string]*plan.FeaturePlanVersion{
		"fpv_seats": {
			ID:          "fpv_seats",
			FeatureSlug: "seats",
			FeatureType: types.FeatureTypeFlat,
			UnitPrice:   decimal.NewFromInt(30),
		},
		"fpv_api": {
			ID:                "fpv_api",
			FeatureSlug:       "api_calls",
			FeatureType:       types.FeatureTypeUsage,
			UnitPrice:         decimal.RequireFromString("0.01"),
			AggregationMethod: types.AggregationSum,
		},
		"fpv_storage": {
			ID:                "fpv_storage",
			FeatureSlug:       "storage",
			FeatureType:       types.FeatureTypePackage,
			UnitPrice:         decimal.NewFromInt(5),
			PackageSize:       100,
			AggregationMethod: types.AggregationMax,
		},
	}

	return PricingInput{
		Invoice: &invoice.Invoice{
			ID:           "inv_1",
			CycleStartAt: jan1,
			CycleEndAt:   cycleEnd(feb1),
			WhenToBill:   types.WhenToBillPayInArrear,
		},
		Phase: &subscription.Phase{
			ID:                 "phase_1",
			StartAt:            jan1,
			WhenToBill:         types.WhenToBillPayInArrear,
			BillingAnchorDay:   1,
			BillingAnchorMonth: 1,
		},
		Period: types.BillingPeriodMonth,
		Items: []*subscription.Item{
			{ID: "item_seats", FeaturePlanVersionID: "fpv_seats", Units: lo.ToPtr(int64(2))},
			{ID: "item_api", FeaturePlanVersionID: "fpv_api"},
			{ID: "item_storage", FeaturePlanVersionID: "fpv_storage"},
		},
		Features: features,
		Usage: map[string]*usage.Usage{
			"item_api":     {Sum: decimal.NewFromInt(1234)},
			"item_storage": {Max: decimal.NewFromInt(250), Sum: decimal.NewFromInt(9000)},
		},
	}
}

func TestPriceInvoice(t *testing.T) {
	lines, subtotal, err := PriceInvoice(pricingFixture())
	require.NoError(t, err)
	require.Len(t, lines, 3)

	byKey := lo.KeyBy(lines, func(l LineItem) string { return l.Key })

	seats := byKey["item_seats"]
	assert.True(t, seats.Amount.Equal(decimal.NewFromInt(60)), "2 seats for a full cycle, got %s", seats.Amount)
	assert.Equal(t, "seats (2024-01-01 - 2024-01-31)", seats.Description)
	assert.True(t, seats.PeriodStart.Equal(jan1))

	api := byKey["item_api"]
	assert.True(t, api.Quantity.Equal(decimal.NewFromInt(1234)))
	assert.True(t, api.Amount.Equal(decimal.RequireFromString("12.34")))

	// 250 units in packages of 100 is 3 packages
	storage := byKey["item_storage"]
	assert.True(t, storage.Quantity.Equal(decimal.NewFromInt(250)))
	assert.True(t, storage.Amount.Equal(decimal.NewFromInt(15)))

	assert.True(t, subtotal.Equal(decimal.RequireFromString("87.34")), "subtotal %s", subtotal)
}

func TestPriceInvoice_PartialCycle(t *testing.T) {
	in := pricingFixture()
	in.Items = in.Items[:1]
	in.Invoice.CycleEndAt = cycleEnd(jan16)

	lines, subtotal, err := PriceInvoice(in)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	// 15 of 31 days of 2 seats at 30
	assert.True(t, subtotal.Equal(decimal.RequireFromString("29.03")), "subtotal %s", subtotal)

	single, err := FlatAmount(in.Features["fpv_seats"], 1, jan1, cycleEnd(jan16), in.Phase.Anchor(), in.Period)
	require.NoError(t, err)
	assert.True(t, single.Equal(decimal.RequireFromString("14.52")))
}

func TestPriceInvoice_AdvanceInvoices(t *testing.T) {
	t.Run("first cycle has no usage", func(t *testing.T) {
		in := pricingFixture()
		in.Invoice.WhenToBill = types.WhenToBillPayInAdvance

		lines, subtotal, err := PriceInvoice(in)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, "item_seats", lines[0].Key)
		assert.True(t, subtotal.Equal(decimal.NewFromInt(60)))
	})

	t.Run("usage of the previous cycle", func(t *testing.T) {
		in := pricingFixture()
		in.Invoice.WhenToBill = types.WhenToBillPayInAdvance
		in.Invoice.CycleStartAt = feb1
		in.Invoice.CycleEndAt = cycleEnd(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
		in.Invoice.PreviousCycleStartAt = lo.ToPtr(jan1)
		in.Invoice.PreviousCycleEndAt = lo.ToPtr(cycleEnd(feb1))

		lines, subtotal, err := PriceInvoice(in)
		require.NoError(t, err)
		require.Len(t, lines, 3)
		api, ok := lo.Find(lines, func(l LineItem) bool { return l.Key == "item_api" })
		require.True(t, ok)
		assert.True(t, api.PeriodStart.Equal(jan1), "usage is billed for the previous cycle")
		assert.True(t, subtotal.Equal(decimal.RequireFromString("87.34")))
	})

	t.Run("closing invoice leaves flat charges out", func(t *testing.T) {
		in := pricingFixture()
		in.Invoice.WhenToBill = types.WhenToBillPayInAdvance
		in.Invoice.Closing = true
		in.Invoice.CycleEndAt = cycleEnd(jan16)

		lines, subtotal, err := PriceInvoice(in)
		require.NoError(t, err)
		require.Len(t, lines, 2)
		for _, line := range lines {
			assert.NotEqual(t, types.FeatureTypeFlat, line.FeatureType)
		}
		assert.True(t, subtotal.Equal(decimal.RequireFromString("27.34")))
	})
}

func TestPriceInvoice_SkipsZeroLines(t *testing.T) {
	in := pricingFixture()
	in.Usage = nil

	lines, subtotal, err := PriceInvoice(in)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "item_seats", lines[0].Key)
	assert.True(t, subtotal.Equal(decimal.NewFromInt(60)))
}

func TestPriceInvoice_NegativeUsage(t *testing.T) {
	in := pricingFixture()
	in.Usage["item_api"] = &usage.Usage{Sum: decimal.NewFromInt(-5)}

	_, _, err := PriceInvoice(in)
	require.Error(t, err)
	assert.True(t, ierr.IsInvariant(err))
}

func TestPriceInvoice_UnknownFeature(t *testing.T) {
	in := pricingFixture()
	in.Items = append(in.Items, &subscription.Item{ID: "item_ghost", FeaturePlanVersionID: "fpv_ghost"})

	_, _, err := PriceInvoice(in)
	require.Error(t, err)
	assert.True(t, ierr.IsInvariant(err))
}
