package workflows

import (
	"time"

	"github.com/flexprice/lifecycle/internal/temporal/models"
	"github.com/samber/lo"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	defaultBatchSize      = 100
	defaultMaxConcurrency = 10
)

// SubscriptionBillingWorkflow pages through the subscriptions with work due
// and processes each one in its own activity. A subscription that fails does
// not fail the pass, it is counted and picked up again by the next run.
func SubscriptionBillingWorkflow(ctx workflow.Context, input models.SubscriptionBillingWorkflowInput) (*models.SubscriptionBillingWorkflowResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	logger := workflow.GetLogger(ctx)
	now := input.Now
	if now.IsZero() {
		now = workflow.Now(ctx)
	}
	batchSize := lo.Ternary(input.BatchSize > 0, input.BatchSize, defaultBatchSize)
	concurrency := lo.Ternary(input.MaxConcurrency > 0, input.MaxConcurrency, defaultMaxConcurrency)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute * 3,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{models.ErrTypeBusiness, models.ErrTypeInvariant},
		},
	})

	logger.Info("starting billing pass", "now", now, "batch_size", batchSize)

	result := &models.SubscriptionBillingWorkflowResult{}
	afterID := ""
	for {
		var page models.ListDueSubscriptionsResult
		err := workflow.ExecuteActivity(ctx, models.ListDueSubscriptionsActivity, models.ListDueSubscriptionsInput{
			Now:     now,
			AfterID: afterID,
			Limit:   batchSize,
		}).Get(ctx, &page)
		if err != nil {
			logger.Error("failed to list due subscriptions", "error", err)
			return nil, err
		}

		for _, chunk := range lo.Chunk(page.Subscriptions, concurrency) {
			futures := make([]workflow.Future, 0, len(chunk))
			for _, due := range chunk {
				futures = append(futures, workflow.ExecuteActivity(ctx, models.ProcessSubscriptionActivity, models.ProcessSubscriptionInput{
					SubscriptionID: due.ID,
					TenantID:       due.TenantID,
					Now:            now,
				}))
			}

			for i, future := range futures {
				var processed models.ProcessSubscriptionResult
				if err := future.Get(ctx, &processed); err != nil {
					logger.Error("subscription not processed", "subscription_id", chunk[i].ID, "error", err)
					result.Failed++
					continue
				}
				if processed.Contended {
					result.Contended++
					continue
				}
				result.Processed++
			}
		}

		if len(page.Subscriptions) < batchSize {
			break
		}
		afterID = page.Subscriptions[len(page.Subscriptions)-1].ID
	}

	logger.Info("billing pass finished",
		"processed", result.Processed,
		"failed", result.Failed,
		"contended", result.Contended)

	return result, nil
}
