package subscription

import (
	"time"

	"github.com/flexprice/lifecycle/internal/domain/billingcycle"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
)

// Phase is one plan version assignment of a subscription together with its
// billing terms. Phases of a subscription are contiguous and never overlap.
type Phase struct {
	ID                 string                 `db:"id" json:"id"`
	SubscriptionID     string                 `db:"subscription_id" json:"subscription_id"`
	PlanVersionID      string                 `db:"plan_version_id" json:"plan_version_id"`
	Status             types.PhaseStatus      `db:"status" json:"status"`
	Active             bool                   `db:"active" json:"active"`
	StartAt            time.Time              `db:"start_at" json:"start_at"`
	EndAt              *time.Time             `db:"end_at" json:"end_at,omitempty"`
	TrialDays          int                    `db:"trial_days" json:"trial_days"`
	TrialEndsAt        *time.Time             `db:"trial_ends_at" json:"trial_ends_at,omitempty"`
	WhenToBill         types.WhenToBill       `db:"when_to_bill" json:"when_to_bill"`
	CollectionMethod   types.CollectionMethod `db:"collection_method" json:"collection_method"`
	GracePeriod        int                    `db:"grace_period" json:"grace_period"`
	BillingAnchorDay   int                    `db:"billing_anchor_day" json:"billing_anchor_day"`
	BillingAnchorMonth int                    `db:"billing_anchor_month" json:"billing_anchor_month"`
	PaymentMethodID    *string                `db:"payment_method_id" json:"payment_method_id,omitempty"`
	Metadata           types.Metadata         `db:"metadata" json:"metadata,omitempty"`

	types.BaseModel
}

// Anchor returns the billing anchor used for cycle calculation
func (p *Phase) Anchor() billingcycle.Anchor {
	return billingcycle.Anchor{
		Day:   p.BillingAnchorDay,
		Month: time.Month(p.BillingAnchorMonth),
	}
}

// Covers reports whether t falls inside the phase window
func (p *Phase) Covers(t time.Time) bool {
	if t.Before(p.StartAt) {
		return false
	}
	return p.EndAt == nil || !t.After(*p.EndAt)
}

// Overlaps reports whether the windows of p and other intersect
func (p *Phase) Overlaps(other *Phase) bool {
	if p.EndAt != nil && p.EndAt.Before(other.StartAt) {
		return false
	}
	if other.EndAt != nil && other.EndAt.Before(p.StartAt) {
		return false
	}
	return true
}

// IsPayInAdvance reports whether flat charges are billed at cycle start
func (p *Phase) IsPayInAdvance() bool {
	return p.WhenToBill == types.WhenToBillPayInAdvance
}

// GraceEndsAt returns the end of the grace window for an invoice due at dueAt
func (p *Phase) GraceEndsAt(dueAt time.Time) time.Time {
	return dueAt.AddDate(0, 0, p.GracePeriod)
}

func (p *Phase) Validate() error {
	if p.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			WithHint("A phase must belong to a subscription").
			Mark(ierr.ErrValidation)
	}
	if p.PlanVersionID == "" {
		return ierr.NewError("plan_version_id is required").
			WithHint("Please provide a plan version for the phase").
			Mark(ierr.ErrValidation)
	}
	if p.StartAt.IsZero() {
		return ierr.NewError("start_at is required").
			WithHint("Please provide a start date for the phase").
			Mark(ierr.ErrValidation)
	}
	if p.EndAt != nil && !p.EndAt.After(p.StartAt) {
		return ierr.NewError("end_at must be after start_at").
			WithHint("The phase end date must be after its start date").
			WithReportableDetails(map[string]any{
				"start_at": p.StartAt,
				"end_at":   *p.EndAt,
			}).
			Mark(ierr.ErrValidation)
	}
	if p.TrialDays < 0 {
		return ierr.NewError("trial_days cannot be negative").
			WithHint("Trial days cannot be negative").
			Mark(ierr.ErrValidation)
	}
	if p.GracePeriod < 0 {
		return ierr.NewError("grace_period cannot be negative").
			WithHint("Grace period cannot be negative").
			Mark(ierr.ErrValidation)
	}
	if p.BillingAnchorDay < 1 || p.BillingAnchorDay > 31 {
		return ierr.NewError("invalid billing anchor day").
			WithHint("Billing anchor day must be between 1 and 31").
			WithReportableDetails(map[string]any{"billing_anchor_day": p.BillingAnchorDay}).
			Mark(ierr.ErrValidation)
	}
	if p.BillingAnchorMonth < 1 || p.BillingAnchorMonth > 12 {
		return ierr.NewError("invalid billing anchor month").
			WithHint("Billing anchor month must be between 1 and 12").
			WithReportableDetails(map[string]any{"billing_anchor_month": p.BillingAnchorMonth}).
			Mark(ierr.ErrValidation)
	}
	if err := p.WhenToBill.Validate(); err != nil {
		return err
	}
	return p.CollectionMethod.Validate()
}

// Item is one feature of the plan version sold in a phase
type Item struct {
	ID                   string `db:"id" json:"id"`
	PhaseID              string `db:"phase_id" json:"phase_id"`
	FeaturePlanVersionID string `db:"feature_plan_version_id" json:"feature_plan_version_id"`
	// Units is nil for usage metered features
	Units *int64 `db:"units" json:"units,omitempty"`

	types.BaseModel
}
