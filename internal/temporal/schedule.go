package temporal

import (
	"context"
	"errors"
	"time"

	"github.com/flexprice/lifecycle/internal/config"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/temporal/models"
	"github.com/flexprice/lifecycle/internal/temporal/workflows"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

const defaultScheduleInterval = 5 * time.Minute

// ScheduleBilling makes sure the billing workflow runs every
// billing.schedule_interval. Overlapping runs are skipped, the next pass picks
// up whatever the running one has not reached. An existing schedule is kept.
func ScheduleBilling(ctx context.Context, c *TemporalClient, cfg *config.Configuration, log *logger.Logger) error {
	interval := cfg.Billing.ScheduleInterval
	if interval <= 0 {
		interval = defaultScheduleInterval
	}

	_, err := c.Client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: models.BillingScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Action: &client.ScheduleWorkflowAction{
			ID:        models.SubscriptionBillingWorkflowName,
			Workflow:  workflows.SubscriptionBillingWorkflow,
			TaskQueue: TaskQueue(cfg),
			Args: []interface{}{models.SubscriptionBillingWorkflowInput{
				BatchSize:      cfg.Billing.ScanBatchSize,
				MaxConcurrency: cfg.Billing.MaxConcurrency,
			}},
		},
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		log.Infow("billing schedule already exists", "schedule_id", models.BillingScheduleID)
		return nil
	}
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to schedule the billing workflow").
			WithReportableDetails(map[string]any{
				"schedule_id": models.BillingScheduleID,
				"interval":    interval.String(),
			}).
			Mark(ierr.ErrSystem)
	}

	log.Infow("billing schedule created",
		"schedule_id", models.BillingScheduleID,
		"interval", interval.String())
	return nil
}
