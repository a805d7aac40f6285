package workflows_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/service"
	"github.com/flexprice/lifecycle/internal/temporal/activities"
	"github.com/flexprice/lifecycle/internal/temporal/models"
	"github.com/flexprice/lifecycle/internal/temporal/workflows"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

// fakeProcessor fails each subscription with the queued errors, one per call
type fakeProcessor struct {
	mu     sync.Mutex
	due    []service.DueSubscription
	errs   map[string][]error
	calls  map[string]int
	nowArg time.Time
}

func newFakeProcessor(ids ...string) *fakeProcessor {
	p := &fakeProcessor{errs: map[string][]error{}, calls: map[string]int{}}
	for _, id := range ids {
		p.due = append(p.due, service.DueSubscription{ID: id, TenantID: "tenant_1"})
	}
	sort.Slice(p.due, func(i, j int) bool { return p.due[i].ID < p.due[j].ID })
	return p
}

func (p *fakeProcessor) Process(_ context.Context, subscriptionID string, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[subscriptionID]++
	p.nowArg = now
	if queued := p.errs[subscriptionID]; len(queued) > 0 {
		p.errs[subscriptionID] = queued[1:]
		return queued[0]
	}
	return nil
}

func (p *fakeProcessor) ProcessWithRetry(ctx context.Context, subscriptionID string, now time.Time) error {
	return p.Process(ctx, subscriptionID, now)
}

func (p *fakeProcessor) ProcessDue(context.Context, time.Time) (*service.ProcessResult, error) {
	return &service.ProcessResult{}, nil
}

func (p *fakeProcessor) ListDue(_ context.Context, _ time.Time, afterID string, limit int) ([]service.DueSubscription, error) {
	var page []service.DueSubscription
	for _, d := range p.due {
		if d.ID > afterID && len(page) < limit {
			page = append(page, d)
		}
	}
	return page, nil
}

func (p *fakeProcessor) callsFor(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

type BillingWorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env       *testsuite.TestWorkflowEnvironment
	processor *fakeProcessor
}

func TestBillingWorkflow(t *testing.T) {
	suite.Run(t, new(BillingWorkflowSuite))
}

func (s *BillingWorkflowSuite) setup(ids ...string) {
	s.processor = newFakeProcessor(ids...)
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterWorkflow(workflows.SubscriptionBillingWorkflow)
	s.env.RegisterActivity(activities.NewBillingActivities(s.processor, logger.NewNoopLogger()))
}

func (s *BillingWorkflowSuite) run(input models.SubscriptionBillingWorkflowInput) *models.SubscriptionBillingWorkflowResult {
	s.env.ExecuteWorkflow(workflows.SubscriptionBillingWorkflow, input)
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var result models.SubscriptionBillingWorkflowResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	return &result
}

func (s *BillingWorkflowSuite) TestProcessesEveryPage() {
	s.setup("sub_a", "sub_b", "sub_c", "sub_d", "sub_e")

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	result := s.run(models.SubscriptionBillingWorkflowInput{Now: now, BatchSize: 2, MaxConcurrency: 2})

	s.Equal(models.SubscriptionBillingWorkflowResult{Processed: 5}, *result)
	for _, id := range []string{"sub_a", "sub_b", "sub_c", "sub_d", "sub_e"} {
		s.Equal(1, s.processor.callsFor(id), id)
	}
	s.True(s.processor.nowArg.Equal(now))
}

func (s *BillingWorkflowSuite) TestFailuresDoNotStopThePass() {
	s.setup("sub_a", "sub_b", "sub_c")
	s.processor.errs["sub_b"] = []error{
		ierr.NewError("phase is not active").Mark(ierr.ErrInvalidOperation),
	}
	s.processor.errs["sub_c"] = []error{
		ierr.NewError("locked").Mark(ierr.ErrLockHeld),
	}

	result := s.run(models.SubscriptionBillingWorkflowInput{})

	s.Equal(models.SubscriptionBillingWorkflowResult{Processed: 1, Failed: 1, Contended: 1}, *result)
	s.Equal(1, s.processor.callsFor("sub_b"), "business errors are not retried")
	s.Equal(1, s.processor.callsFor("sub_c"))
}

func (s *BillingWorkflowSuite) TestRetryableErrorsAreRetried() {
	s.setup("sub_a")
	s.processor.errs["sub_a"] = []error{
		ierr.NewError("provider unavailable").Mark(ierr.ErrRetryable),
		ierr.NewError("provider unavailable").Mark(ierr.ErrRetryable),
	}

	result := s.run(models.SubscriptionBillingWorkflowInput{})

	s.Equal(models.SubscriptionBillingWorkflowResult{Processed: 1}, *result)
	s.Equal(3, s.processor.callsFor("sub_a"))
}

func (s *BillingWorkflowSuite) TestInvariantViolationsAreNotRetried() {
	s.setup("sub_a")
	s.processor.errs["sub_a"] = []error{
		ierr.NewError("negative usage").Mark(ierr.ErrInvariant),
	}

	result := s.run(models.SubscriptionBillingWorkflowInput{})

	s.Equal(models.SubscriptionBillingWorkflowResult{Failed: 1}, *result)
	s.Equal(1, s.processor.callsFor("sub_a"))
}

func (s *BillingWorkflowSuite) TestRejectsNegativeBatchSize() {
	s.setup()
	s.env.ExecuteWorkflow(workflows.SubscriptionBillingWorkflow, models.SubscriptionBillingWorkflowInput{BatchSize: -1})
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *BillingWorkflowSuite) TestProcessSubscriptionActivity() {
	processor := newFakeProcessor("sub_a")
	processor.errs["sub_a"] = []error{ierr.NewError("bad request").Mark(ierr.ErrValidation)}

	env := s.NewTestActivityEnvironment()
	env.RegisterActivity(activities.NewBillingActivities(processor, logger.NewNoopLogger()))

	_, err := env.ExecuteActivity(models.ProcessSubscriptionActivity, models.ProcessSubscriptionInput{SubscriptionID: "sub_a"})
	s.Require().Error(err)
	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.True(appErr.NonRetryable())
	s.Equal(models.ErrTypeBusiness, appErr.Type())

	_, err = env.ExecuteActivity(models.ProcessSubscriptionActivity, models.ProcessSubscriptionInput{})
	s.Require().Error(err)
	s.Equal(1, processor.callsFor("sub_a"), "input is validated before processing")

	val, err := env.ExecuteActivity(models.ProcessSubscriptionActivity, models.ProcessSubscriptionInput{SubscriptionID: "sub_a"})
	s.Require().NoError(err)
	var result models.ProcessSubscriptionResult
	s.Require().NoError(val.Get(&result))
	s.Equal("sub_a", result.SubscriptionID)
	s.False(result.Contended)
}
