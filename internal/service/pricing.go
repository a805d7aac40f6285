package service

import (
	"fmt"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/billingcycle"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	"github.com/flexprice/lifecycle/internal/domain/usage"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// LineItem is one priced charge of an invoice. Key is the subscription item
// id and identifies the line on the payment provider.
type LineItem struct {
	Key         string
	ItemID      string
	FeatureSlug string
	FeatureType types.FeatureType
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// PricingInput is everything needed to price an invoice without I/O.
// Usage is keyed by subscription item id.
type PricingInput struct {
	Invoice  *invoice.Invoice
	Phase    *subscription.Phase
	Period   types.BillingPeriod
	Items    []*subscription.Item
	Features map[string]*plan.FeaturePlanVersion
	Usage    map[string]*usage.Usage
}

// PriceInvoice computes the line items and subtotal of an invoice. Lines
// with a zero amount are left out.
func PriceInvoice(in PricingInput) ([]LineItem, decimal.Decimal, error) {
	lines := make([]LineItem, 0, len(in.Items))
	subtotal := decimal.Zero

	usageStart, usageEnd := in.Invoice.UsageWindow()

	for _, item := range in.Items {
		feature, ok := in.Features[item.FeaturePlanVersionID]
		if !ok {
			return nil, decimal.Zero, ierr.NewError("subscription item has no feature").
				WithHintf("Feature %s is not part of the plan version", item.FeaturePlanVersionID).
				WithReportableDetails(map[string]any{
					"item_id":                 item.ID,
					"feature_plan_version_id": item.FeaturePlanVersionID,
				}).
				Mark(ierr.ErrInvariant)
		}

		var (
			line LineItem
			err  error
		)
		switch {
		case feature.IsFlat():
			if !in.Invoice.BillsFlat() {
				continue
			}
			line, err = priceFlat(in, item, feature)
		default:
			if usageStart == nil || usageEnd == nil {
				continue
			}
			line, err = priceUsage(item, feature, in.Usage[item.ID], *usageStart, *usageEnd)
		}
		if err != nil {
			return nil, decimal.Zero, err
		}
		if line.Amount.IsZero() {
			continue
		}

		lines = append(lines, line)
		subtotal = subtotal.Add(line.Amount)
	}

	return lines, subtotal, nil
}

// FlatAmount is the price of units of a flat feature over [start, end]
func FlatAmount(feature *plan.FeaturePlanVersion, units int64, start, end time.Time, anchor billingcycle.Anchor, period types.BillingPeriod) (decimal.Decimal, error) {
	factor, err := billingcycle.Prorate(start, end, anchor, period)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(units).
		Mul(feature.UnitPrice).
		Mul(factor).
		Round(2), nil
}

func priceFlat(in PricingInput, item *subscription.Item, feature *plan.FeaturePlanVersion) (LineItem, error) {
	start, end := in.Invoice.CycleStartAt, in.Invoice.CycleEndAt
	units := lo.FromPtr(item.Units)

	amount, err := FlatAmount(feature, units, start, end, in.Phase.Anchor(), in.Period)
	if err != nil {
		return LineItem{}, err
	}

	return LineItem{
		Key:         item.ID,
		ItemID:      item.ID,
		FeatureSlug: feature.FeatureSlug,
		FeatureType: feature.FeatureType,
		Description: describe(feature.FeatureSlug, start, end),
		Quantity:    decimal.NewFromInt(units),
		UnitPrice:   feature.UnitPrice,
		Amount:      amount,
		PeriodStart: start,
		PeriodEnd:   end,
	}, nil
}

func priceUsage(item *subscription.Item, feature *plan.FeaturePlanVersion, u *usage.Usage, start, end time.Time) (LineItem, error) {
	quantity := decimal.Zero
	if u != nil {
		quantity = u.Value(feature.AggregationMethod)
	}
	if quantity.IsNegative() {
		return LineItem{}, ierr.NewError("negative usage").
			WithHintf("Usage of %s cannot be negative", feature.FeatureSlug).
			WithReportableDetails(map[string]any{
				"item_id":  item.ID,
				"feature":  feature.FeatureSlug,
				"quantity": quantity.String(),
			}).
			Mark(ierr.ErrInvariant)
	}

	billed := quantity
	if feature.FeatureType == types.FeatureTypePackage {
		size := feature.PackageSize
		if size <= 0 {
			size = 1
		}
		billed = quantity.Div(decimal.NewFromInt(size)).Ceil()
	}

	return LineItem{
		Key:         item.ID,
		ItemID:      item.ID,
		FeatureSlug: feature.FeatureSlug,
		FeatureType: feature.FeatureType,
		Description: describe(feature.FeatureSlug, start, end),
		Quantity:    quantity,
		UnitPrice:   feature.UnitPrice,
		Amount:      billed.Mul(feature.UnitPrice).Round(2),
		PeriodStart: start,
		PeriodEnd:   end,
	}, nil
}

func describe(slug string, start, end time.Time) string {
	return fmt.Sprintf("%s (%s - %s)", slug, start.Format(time.DateOnly), end.Format(time.DateOnly))
}
