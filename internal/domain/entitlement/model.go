package entitlement

import (
	"time"

	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// Entitlement grants a customer the use of a feature. Non custom entitlements
// follow a subscription item and are end dated, never deleted, when the item
// goes away.
type Entitlement struct {
	ID                   string            `db:"id" json:"id"`
	CustomerID           string            `db:"customer_id" json:"customer_id"`
	SubscriptionItemID   *string           `db:"subscription_item_id" json:"subscription_item_id,omitempty"`
	FeaturePlanVersionID string            `db:"feature_plan_version_id" json:"feature_plan_version_id"`
	FeatureSlug          string            `db:"feature_slug" json:"feature_slug"`
	FeatureType          types.FeatureType `db:"feature_type" json:"feature_type"`
	Limit                *int64            `db:"limit" json:"limit,omitempty"`
	Units                *int64            `db:"units" json:"units,omitempty"`
	Usage                int64             `db:"usage" json:"usage"`
	StartAt              time.Time         `db:"start_at" json:"start_at"`
	EndAt                *time.Time        `db:"end_at" json:"end_at,omitempty"`
	IsCustom             bool              `db:"is_custom" json:"is_custom"`

	types.BaseModel
}

// ActiveAt reports whether the entitlement is usable at t
func (e *Entitlement) ActiveAt(t time.Time) bool {
	if t.Before(e.StartAt) {
		return false
	}
	return e.EndAt == nil || !t.After(*e.EndAt)
}

// ItemID returns the subscription item id, empty for custom entitlements
func (e *Entitlement) ItemID() string {
	return lo.FromPtr(e.SubscriptionItemID)
}
