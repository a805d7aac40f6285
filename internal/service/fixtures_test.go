package service

import (
	"time"

	"github.com/flexprice/lifecycle/internal/api/dto"
	"github.com/flexprice/lifecycle/internal/domain/customer"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	"github.com/flexprice/lifecycle/internal/testutil"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	testProPlanVersionID        = "planv_pro_monthly"
	testFreePlanVersionID       = "planv_free_monthly"
	testEnterprisePlanVersionID = "planv_enterprise_monthly"

	testSeatsFeatureID      = "fpv_pro_seats"
	testAPICallsFeatureID   = "fpv_pro_api_calls"
	testFreeSeatsFeatureID  = "fpv_free_seats"
	testEnterpriseFeatureID = "fpv_enterprise_seats"

	testProviderCustomerID = "cus_acme"
	testPaymentMethodID    = "pm_card_visa"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan16 = time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	feb1  = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

// lifecycleTestData holds what every lifecycle suite seeds before a test
type lifecycleTestData struct {
	params    ServiceParams
	subs      SubscriptionService
	processor SubscriptionProcessor
	testData  struct {
		customer   *customer.Customer
		noProvider *customer.Customer
		pro        *plan.PlanVersion
	}
}

// lifecycleSuite wires the services over the in-memory stores
type lifecycleSuite struct {
	testutil.BaseServiceTestSuite
	lifecycleTestData
}

func (s *lifecycleSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.setupServices()
	s.setupTestData()
}

func (s *lifecycleSuite) TearDownTest() {
	s.params.Background.Wait()
	s.BaseServiceTestSuite.TearDownTest()
}

func (s *lifecycleSuite) setupServices() {
	stores := s.GetStores()
	s.params = NewServiceParams(
		s.GetLogger(),
		s.GetConfig(),
		s.GetDB(),
		s.GetLocker(),
		stores.SubscriptionRepo,
		stores.PhaseRepo,
		stores.ItemRepo,
		stores.PlanRepo,
		stores.CustomerRepo,
		stores.InvoiceRepo,
		stores.EntitlementRepo,
		stores.CreditRepo,
		s.GetUsageReader(),
		s.GetProvider(),
		s.GetCache(),
		s.GetPublisher(),
		s.GetMetrics(),
		s.GetSentry(),
	)
	s.subs = NewSubscriptionService(s.params)
	s.processor = NewSubscriptionProcessor(s.params)
}

func (s *lifecycleSuite) setupTestData() {
	ctx := s.GetContext()
	stores := s.GetStores()

	s.testData.pro = &plan.PlanVersion{
		ID:                    testProPlanVersionID,
		PlanID:                "plan_pro",
		Currency:              "usd",
		BillingPeriod:         types.BillingPeriodMonth,
		PaymentMethodRequired: true,
		PaymentProvider:       "fake",
		BaseModel:             types.GetDefaultBaseModel(ctx, jan1),
	}
	s.NoError(stores.PlanRepo.AddVersion(ctx, s.testData.pro,
		&plan.FeaturePlanVersion{
			ID:           testSeatsFeatureID,
			FeatureSlug:  "seats",
			FeatureType:  types.FeatureTypeFlat,
			UnitPrice:    decimal.NewFromInt(30),
			DefaultUnits: lo.ToPtr(int64(1)),
			Limit:        lo.ToPtr(int64(10)),
			BaseModel:    types.GetDefaultBaseModel(ctx, jan1),
		},
		&plan.FeaturePlanVersion{
			ID:                testAPICallsFeatureID,
			FeatureSlug:       "api_calls",
			FeatureType:       types.FeatureTypeUsage,
			UnitPrice:         decimal.RequireFromString("0.01"),
			AggregationMethod: types.AggregationSum,
			BaseModel:         types.GetDefaultBaseModel(ctx, jan1),
		},
	))

	s.NoError(stores.PlanRepo.AddVersion(ctx, &plan.PlanVersion{
		ID:            testFreePlanVersionID,
		PlanID:        "plan_free",
		Currency:      "usd",
		BillingPeriod: types.BillingPeriodMonth,
		BaseModel:     types.GetDefaultBaseModel(ctx, jan1),
	}, &plan.FeaturePlanVersion{
		ID:           testFreeSeatsFeatureID,
		FeatureSlug:  "seats",
		FeatureType:  types.FeatureTypeFlat,
		UnitPrice:    decimal.Zero,
		DefaultUnits: lo.ToPtr(int64(1)),
		BaseModel:    types.GetDefaultBaseModel(ctx, jan1),
	}))

	s.NoError(stores.PlanRepo.AddVersion(ctx, &plan.PlanVersion{
		ID:                    testEnterprisePlanVersionID,
		PlanID:                "plan_enterprise",
		Currency:              "usd",
		BillingPeriod:         types.BillingPeriodMonth,
		PaymentMethodRequired: true,
		PaymentProvider:       "fake",
		BaseModel:             types.GetDefaultBaseModel(ctx, jan1),
	}, &plan.FeaturePlanVersion{
		ID:           testEnterpriseFeatureID,
		FeatureSlug:  "seats",
		FeatureType:  types.FeatureTypeFlat,
		UnitPrice:    decimal.NewFromInt(100),
		DefaultUnits: lo.ToPtr(int64(5)),
		BaseModel:    types.GetDefaultBaseModel(ctx, jan1),
	}))

	s.testData.customer = &customer.Customer{
		ID:                        "cust_acme",
		ProjectID:                 "proj_acme",
		Email:                     "billing@acme.test",
		Currency:                  "usd",
		PaymentProviderCustomerID: lo.ToPtr(testProviderCustomerID),
		BaseModel:                 types.GetDefaultBaseModel(ctx, jan1),
	}
	s.NoError(stores.CustomerRepo.Add(ctx, s.testData.customer))

	s.testData.noProvider = &customer.Customer{
		ID:        "cust_offline",
		ProjectID: "proj_offline",
		Email:     "owner@offline.test",
		Currency:  "usd",
		BaseModel: types.GetDefaultBaseModel(ctx, jan1),
	}
	s.NoError(stores.CustomerRepo.Add(ctx, s.testData.noProvider))

	s.GetProvider().SetDefaultPaymentMethod(testProviderCustomerID, testPaymentMethodID)
}

// createSubscription creates a pending subscription for c
func (s *lifecycleSuite) createSubscription(c *customer.Customer) *subscription.Subscription {
	resp, err := s.subs.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		CustomerID: c.ID,
		ProjectID:  c.ProjectID,
	}, jan1)
	s.Require().NoError(err)
	return resp.Subscription
}

// phaseRequest is a pay in advance, charged automatically phase of the pro
// plan with the default seats and metered api calls
func phaseRequest(subscriptionID string, start time.Time) dto.CreatePhaseRequest {
	return dto.CreatePhaseRequest{
		SubscriptionID:   subscriptionID,
		PlanVersionID:    testProPlanVersionID,
		StartAt:          start,
		WhenToBill:       types.WhenToBillPayInAdvance,
		CollectionMethod: types.CollectionMethodChargeAutomatically,
		GracePeriod:      3,
		Items: []dto.CreatePhaseItemRequest{
			{FeaturePlanVersionID: testSeatsFeatureID},
			{FeaturePlanVersionID: testAPICallsFeatureID},
		},
	}
}

func (s *lifecycleSuite) createPhase(req dto.CreatePhaseRequest, now time.Time) *subscription.Phase {
	phase, err := s.subs.CreatePhase(s.GetContext(), req, now)
	s.Require().NoError(err)
	return phase
}

// subscribe creates a subscription with one phase built from req
func (s *lifecycleSuite) subscribe(mutate func(req *dto.CreatePhaseRequest)) (*subscription.Subscription, *subscription.Phase) {
	sub := s.createSubscription(s.testData.customer)
	req := phaseRequest(sub.ID, jan1)
	if mutate != nil {
		mutate(&req)
	}
	return sub, s.createPhase(req, jan1)
}

// process runs the processor for sub at now and waits for post commit work
func (s *lifecycleSuite) process(sub *subscription.Subscription, now time.Time) {
	s.Require().NoError(s.processor.Process(s.GetContext(), sub.ID, now))
	s.params.Background.Wait()
}

// machine opens a phase machine, closed when the test ends
func (s *lifecycleSuite) machine(sub *subscription.Subscription, phase *subscription.Phase) *PhaseMachine {
	m, err := NewPhaseMachine(s.GetContext(), s.params, sub.ID, phase.ID)
	s.Require().NoError(err)
	s.T().Cleanup(m.Close)
	return m
}

func (s *lifecycleSuite) reloadSubscription(id string) *subscription.Subscription {
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return sub
}

func (s *lifecycleSuite) reloadPhase(id string) *subscription.Phase {
	phase, err := s.GetStores().PhaseRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return phase
}

func (s *lifecycleSuite) invoices(subscriptionID string) []*invoice.Invoice {
	invoices, err := s.GetStores().InvoiceRepo.ListBySubscription(s.GetContext(), subscriptionID)
	s.Require().NoError(err)
	return invoices
}

// cycleEnd is the last instant before next
func cycleEnd(next time.Time) time.Time {
	return types.EndOf(next)
}
