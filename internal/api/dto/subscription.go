package dto

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/flexprice/lifecycle/internal/validator"
	"github.com/samber/lo"
)

type CreateSubscriptionRequest struct {
	CustomerID string         `json:"customer_id" validate:"required"`
	ProjectID  string         `json:"project_id" validate:"required"`
	Metadata   types.Metadata `json:"metadata,omitempty"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ToSubscription builds a pending subscription without a phase
func (r *CreateSubscriptionRequest) ToSubscription(ctx context.Context, now time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID: r.CustomerID,
		ProjectID:  r.ProjectID,
		Status:     types.SubscriptionStatusPending,
		Active:     false,
		Metadata:   types.Metadata{}.Merge(r.Metadata),
		BaseModel:  types.GetDefaultBaseModel(ctx, now),
	}
}

type CreatePhaseItemRequest struct {
	FeaturePlanVersionID string `json:"feature_plan_version_id" validate:"required"`
	Units                *int64 `json:"units,omitempty" validate:"omitempty,gt=0"`
}

type CreatePhaseRequest struct {
	SubscriptionID   string                 `json:"subscription_id" validate:"required"`
	PlanVersionID    string                 `json:"plan_version_id" validate:"required"`
	StartAt          time.Time              `json:"start_at" validate:"required"`
	EndAt            *time.Time             `json:"end_at,omitempty"`
	TrialDays        int                    `json:"trial_days" validate:"gte=0"`
	WhenToBill       types.WhenToBill       `json:"when_to_bill" validate:"required,enum"`
	CollectionMethod types.CollectionMethod `json:"collection_method" validate:"required,enum"`
	GracePeriod      int                    `json:"grace_period" validate:"gte=0"`
	// BillingAnchorDay defaults to the day of StartAt
	BillingAnchorDay int `json:"billing_anchor_day,omitempty" validate:"omitempty,min=1,max=31"`
	// BillingAnchorMonth defaults to the month of StartAt
	BillingAnchorMonth int                      `json:"billing_anchor_month,omitempty" validate:"omitempty,min=1,max=12"`
	PaymentMethodID    *string                  `json:"payment_method_id,omitempty"`
	Metadata           types.Metadata           `json:"metadata,omitempty"`
	Items              []CreatePhaseItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r *CreatePhaseRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}

	if r.EndAt != nil && !r.EndAt.After(r.StartAt) {
		return ierr.NewError("end_at must be after start_at").
			WithHint("The phase end date must be after its start date").
			WithReportableDetails(map[string]any{
				"start_at": r.StartAt,
				"end_at":   *r.EndAt,
			}).
			Mark(ierr.ErrValidation)
	}

	seen := make(map[string]bool, len(r.Items))
	for _, item := range r.Items {
		if seen[item.FeaturePlanVersionID] {
			return ierr.NewError("duplicate feature in phase items").
				WithHintf("Feature %s is listed more than once", item.FeaturePlanVersionID).
				WithReportableDetails(map[string]any{
					"feature_plan_version_id": item.FeaturePlanVersionID,
				}).
				Mark(ierr.ErrValidation)
		}
		seen[item.FeaturePlanVersionID] = true
	}
	return nil
}

// ToPhase builds the phase in its initial status. Anchors default to the
// start date.
func (r *CreatePhaseRequest) ToPhase(ctx context.Context, now time.Time) *subscription.Phase {
	start := r.StartAt.UTC()
	status := types.PhaseStatusActive
	if r.TrialDays > 0 {
		status = types.PhaseStatusTrialing
	}

	var endAt *time.Time
	if r.EndAt != nil {
		endAt = lo.ToPtr(r.EndAt.UTC())
	}

	return &subscription.Phase{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION_PHASE),
		SubscriptionID:     r.SubscriptionID,
		PlanVersionID:      r.PlanVersionID,
		Status:             status,
		Active:             true,
		StartAt:            start,
		EndAt:              endAt,
		TrialDays:          r.TrialDays,
		WhenToBill:         r.WhenToBill,
		CollectionMethod:   r.CollectionMethod,
		GracePeriod:        r.GracePeriod,
		BillingAnchorDay:   lo.Ternary(r.BillingAnchorDay > 0, r.BillingAnchorDay, start.Day()),
		BillingAnchorMonth: lo.Ternary(r.BillingAnchorMonth > 0, r.BillingAnchorMonth, int(start.Month())),
		PaymentMethodID:    r.PaymentMethodID,
		Metadata:           types.Metadata{}.Merge(r.Metadata),
		BaseModel:          types.GetDefaultBaseModel(ctx, now),
	}
}

// CancelSubscriptionRequest ends the current phase now or schedules it.
// A nil EffectiveAt cancels immediately.
type CancelSubscriptionRequest struct {
	SubscriptionID string     `json:"subscription_id" validate:"required"`
	EffectiveAt    *time.Time `json:"effective_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	Note           string     `json:"note,omitempty"`
}

func (r *CancelSubscriptionRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ToMetadata returns the reason and note as subscription metadata
func (r *CancelSubscriptionRequest) ToMetadata() types.Metadata {
	m := types.Metadata{}
	if r.Reason != "" {
		m[types.MetadataKeyReason] = r.Reason
	}
	if r.Note != "" {
		m[types.MetadataKeyNote] = r.Note
	}
	return m
}

type SubscriptionResponse struct {
	*subscription.Subscription
	Phases []*subscription.Phase `json:"phases,omitempty"`
}
