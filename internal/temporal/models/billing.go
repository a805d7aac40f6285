package models

import (
	"time"

	ierr "github.com/flexprice/lifecycle/internal/errors"
)

const (
	// BillingTaskQueue is used when temporal.task_queue is not configured
	BillingTaskQueue = "lifecycle-billing"

	SubscriptionBillingWorkflowName = "SubscriptionBillingWorkflow"
	ListDueSubscriptionsActivity    = "ListDueSubscriptions"
	ProcessSubscriptionActivity     = "ProcessSubscription"

	// BillingScheduleID identifies the single billing schedule of a deployment
	BillingScheduleID = "lifecycle-billing-schedule"
)

// Application error types that the workflow never retries
const (
	ErrTypeBusiness  = "BusinessError"
	ErrTypeInvariant = "InvariantViolation"
)

// SubscriptionBillingWorkflowInput drives one billing pass. A zero Now means
// the workflow start time.
type SubscriptionBillingWorkflowInput struct {
	Now            time.Time `json:"now"`
	BatchSize      int       `json:"batch_size"`
	MaxConcurrency int       `json:"max_concurrency"`
}

func (i *SubscriptionBillingWorkflowInput) Validate() error {
	if i.BatchSize < 0 || i.MaxConcurrency < 0 {
		return ierr.NewError("batch size and concurrency must not be negative").
			WithHint("Leave them unset to use the defaults").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type SubscriptionBillingWorkflowResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Contended int `json:"contended"`
}

type ListDueSubscriptionsInput struct {
	Now     time.Time `json:"now"`
	AfterID string    `json:"after_id"`
	Limit   int       `json:"limit"`
}

type DueSubscription struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
}

type ListDueSubscriptionsResult struct {
	Subscriptions []DueSubscription `json:"subscriptions"`
}

type ProcessSubscriptionInput struct {
	SubscriptionID string    `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	Now            time.Time `json:"now"`
}

func (i *ProcessSubscriptionInput) Validate() error {
	if i.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			WithHint("Subscription ID is required").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ProcessSubscriptionResult reports whether the run was skipped because
// another worker held the subscription
type ProcessSubscriptionResult struct {
	SubscriptionID string `json:"subscription_id"`
	Contended      bool   `json:"contended"`
}
