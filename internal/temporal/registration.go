package temporal

import (
	"github.com/flexprice/lifecycle/internal/service"
	"github.com/flexprice/lifecycle/internal/temporal/activities"
	"github.com/flexprice/lifecycle/internal/temporal/workflows"
	"go.temporal.io/sdk/worker"
)

// RegisterWorkflowsAndActivities registers all workflows and activities with a Temporal worker.
func RegisterWorkflowsAndActivities(w worker.Worker, params service.ServiceParams) {
	w.RegisterWorkflow(workflows.SubscriptionBillingWorkflow)

	billingActivities := activities.NewBillingActivities(service.NewSubscriptionProcessor(params), params.Logger)
	w.RegisterActivity(billingActivities)

	params.Logger.Infow("registered temporal workflows and activities",
		"workflows", []string{"SubscriptionBillingWorkflow"},
		"activity_prefix", activities.BillingActivityPrefix)
}
