package activities

import (
	"context"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/service"
	"github.com/flexprice/lifecycle/internal/temporal/models"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

const BillingActivityPrefix = "BillingActivities"

// BillingActivities exposes the subscription processor to the billing workflow
type BillingActivities struct {
	processor service.SubscriptionProcessor
	logger    *logger.Logger
}

func NewBillingActivities(processor service.SubscriptionProcessor, logger *logger.Logger) *BillingActivities {
	return &BillingActivities{
		processor: processor,
		logger:    logger,
	}
}

// ListDueSubscriptions returns one page of subscriptions with work due at input.Now
func (a *BillingActivities) ListDueSubscriptions(ctx context.Context, input models.ListDueSubscriptionsInput) (*models.ListDueSubscriptionsResult, error) {
	due, err := a.processor.ListDue(ctx, input.Now, input.AfterID, input.Limit)
	if err != nil {
		return nil, toApplicationError(err)
	}

	return &models.ListDueSubscriptionsResult{
		Subscriptions: lo.Map(due, func(d service.DueSubscription, _ int) models.DueSubscription {
			return models.DueSubscription{ID: d.ID, TenantID: d.TenantID}
		}),
	}, nil
}

// ProcessSubscription applies every transition due for one subscription.
// A subscription locked by another worker is reported as contended, not failed.
func (a *BillingActivities) ProcessSubscription(ctx context.Context, input models.ProcessSubscriptionInput) (*models.ProcessSubscriptionResult, error) {
	if err := input.Validate(); err != nil {
		return nil, toApplicationError(err)
	}

	if input.TenantID != "" {
		ctx = types.SetTenantID(ctx, input.TenantID)
	}

	info := activity.GetInfo(ctx)
	err := a.processor.Process(ctx, input.SubscriptionID, input.Now)
	if ierr.Is(err, ierr.ErrLockHeld) {
		a.logger.Infow("subscription held by another worker",
			"subscription_id", input.SubscriptionID,
			"attempt", info.Attempt)
		return &models.ProcessSubscriptionResult{SubscriptionID: input.SubscriptionID, Contended: true}, nil
	}
	if err != nil {
		a.logger.Errorw("failed to process subscription",
			"subscription_id", input.SubscriptionID,
			"attempt", info.Attempt,
			"error", err)
		return nil, toApplicationError(err)
	}

	return &models.ProcessSubscriptionResult{SubscriptionID: input.SubscriptionID}, nil
}

// toApplicationError lets temporal retry transient failures only. Business
// rule violations and invariant breaks fail the activity for good.
func toApplicationError(err error) error {
	switch {
	case ierr.IsInvariant(err):
		return temporal.NewNonRetryableApplicationError(err.Error(), models.ErrTypeInvariant, err)
	case ierr.IsRetryable(err):
		return err
	case isBusinessError(err):
		return temporal.NewNonRetryableApplicationError(err.Error(), models.ErrTypeBusiness, err)
	default:
		return err
	}
}

func isBusinessError(err error) bool {
	return ierr.IsValidation(err) ||
		ierr.IsNotFound(err) ||
		ierr.IsAlreadyExists(err) ||
		ierr.IsInvalidOperation(err) ||
		ierr.Is(err, ierr.ErrInvalidTransition) ||
		ierr.Is(err, ierr.ErrTrialNotEnded) ||
		ierr.Is(err, ierr.ErrPaymentMethodRequired) ||
		ierr.Is(err, ierr.ErrPhaseOverlap) ||
		ierr.Is(err, ierr.ErrTerminationScheduled) ||
		ierr.Is(err, ierr.ErrInvoiceNotDue)
}
