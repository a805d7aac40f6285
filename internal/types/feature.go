package types

import (
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/samber/lo"
)

// FeatureType decides how a feature is priced on an invoice
type FeatureType string

const (
	// FeatureTypeFlat is charged once per cycle for the configured units
	FeatureTypeFlat FeatureType = "flat"
	// FeatureTypeUsage is charged per unit of metered usage
	FeatureTypeUsage FeatureType = "usage"
	// FeatureTypeTier is metered usage priced with the feature's unit price
	FeatureTypeTier FeatureType = "tier"
	// FeatureTypePackage is metered usage sold in blocks of units
	FeatureTypePackage FeatureType = "package"
)

func (f FeatureType) String() string {
	return string(f)
}

// IsMetered reports whether the feature is priced from analytics usage
func (f FeatureType) IsMetered() bool {
	return f != FeatureTypeFlat
}

func (f FeatureType) Validate() error {
	allowed := []FeatureType{
		FeatureTypeFlat,
		FeatureTypeUsage,
		FeatureTypeTier,
		FeatureTypePackage,
	}
	if !lo.Contains(allowed, f) {
		return ierr.NewError("invalid feature type").
			WithHint("Invalid feature type").
			WithReportableDetails(map[string]any{
				"feature_type": f,
				"allowed":      allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// AggregationMethod selects which usage aggregate is billed
type AggregationMethod string

const (
	AggregationSum   AggregationMethod = "sum"
	AggregationMax   AggregationMethod = "max"
	AggregationCount AggregationMethod = "count"
	AggregationLast  AggregationMethod = "last"
)

func (a AggregationMethod) Validate() error {
	allowed := []AggregationMethod{
		AggregationSum,
		AggregationMax,
		AggregationCount,
		AggregationLast,
	}
	if !lo.Contains(allowed, a) {
		return ierr.NewError("invalid aggregation method").
			WithHint("Invalid aggregation method").
			WithReportableDetails(map[string]any{
				"aggregation_method": a,
				"allowed":            allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
