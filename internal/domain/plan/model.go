package plan

import (
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/shopspring/decimal"
)

// PlanVersion is an immutable published version of a plan
type PlanVersion struct {
	ID                    string              `db:"id" json:"id"`
	PlanID                string              `db:"plan_id" json:"plan_id"`
	Currency              string              `db:"currency" json:"currency"`
	BillingPeriod         types.BillingPeriod `db:"billing_period" json:"billing_period"`
	PaymentMethodRequired bool                `db:"payment_method_required" json:"payment_method_required"`
	PaymentProvider       string              `db:"payment_provider" json:"payment_provider"`

	types.BaseModel
}

// FeaturePlanVersion prices one feature inside a plan version
type FeaturePlanVersion struct {
	ID                string                  `db:"id" json:"id"`
	PlanVersionID     string                  `db:"plan_version_id" json:"plan_version_id"`
	FeatureSlug       string                  `db:"feature_slug" json:"feature_slug"`
	FeatureType       types.FeatureType       `db:"feature_type" json:"feature_type"`
	UnitPrice         decimal.Decimal         `db:"unit_price" json:"unit_price"`
	Limit             *int64                  `db:"limit" json:"limit,omitempty"`
	DefaultUnits      *int64                  `db:"default_units" json:"default_units,omitempty"`
	PackageSize       int64                   `db:"package_size" json:"package_size"`
	AggregationMethod types.AggregationMethod `db:"aggregation_method" json:"aggregation_method"`

	types.BaseModel
}

// IsFlat reports whether the feature is billed from item units
func (f *FeaturePlanVersion) IsFlat() bool {
	return f.FeatureType == types.FeatureTypeFlat
}
