package service

import (
	"testing"
	"time"

	"github.com/flexprice/lifecycle/internal/api/dto"
	"github.com/flexprice/lifecycle/internal/domain/customer"
	"github.com/flexprice/lifecycle/internal/domain/entitlement"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/publisher"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type ProcessorSuite struct {
	lifecycleSuite
}

func TestProcessor(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) itemFor(phaseID, featureID string) *subscription.Item {
	items, err := s.GetStores().ItemRepo.ListByPhase(s.GetContext(), phaseID)
	s.Require().NoError(err)
	item, ok := lo.Find(items, func(i *subscription.Item) bool {
		return i.FeaturePlanVersionID == featureID
	})
	s.Require().True(ok, "no item for %s", featureID)
	return item
}

func (s *ProcessorSuite) TestTrialLifecycle() {
	sub, phase := s.subscribe(withTrial(15, types.WhenToBillPayInAdvance))
	api := s.itemFor(phase.ID, testAPICallsFeatureID)
	s.GetUsageReader().Record(api.ID, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(9999))
	s.GetUsageReader().Record(api.ID, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(500))

	s.process(sub, jan1)
	s.Equal(types.PhaseStatusTrialing, s.reloadPhase(phase.ID).Status)
	s.Empty(s.invoices(sub.ID), "trials are free")

	s.process(sub, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	s.Equal(types.PhaseStatusTrialing, s.reloadPhase(phase.ID).Status)

	// the trial ends and the first cycle is billed and paid
	s.process(sub, jan16)
	s.Equal(types.PhaseStatusActive, s.reloadPhase(phase.ID).Status)

	invoices := s.invoices(sub.ID)
	s.Require().Len(invoices, 1)
	first := invoices[0]
	s.Equal(types.InvoiceStatusPaid, first.Status)
	s.True(first.CycleStartAt.Equal(jan16))
	s.True(first.Total.Equal(decimal.NewFromInt(30)), "total %s", first.Total)
	s.Nil(first.PreviousCycleStartAt, "usage during the trial is never billed")

	feb16 := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	s.process(sub, feb16)

	current := s.reloadSubscription(sub.ID)
	s.Equal(types.SubscriptionStatusActive, current.Status)
	s.True(current.CurrentCycleStartAt.Equal(feb16))
	s.True(current.CurrentCycleEndAt.Equal(cycleEnd(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC))))

	invoices = s.invoices(sub.ID)
	s.Require().Len(invoices, 2)
	second := invoices[1]
	s.Equal(types.InvoiceStatusPaid, second.Status)
	s.True(second.CycleStartAt.Equal(feb16))
	s.True(second.PreviousCycleStartAt.Equal(jan16))
	// 30 for seats plus 500 calls of the previous cycle at 0.01
	s.True(second.Total.Equal(decimal.NewFromInt(35)), "total %s", second.Total)

	s.Len(s.GetPublisher().EventsNamed(publisher.EventInvoicePaid), 2)
}

func (s *ProcessorSuite) TestProcessIsIdempotent() {
	sub, _ := s.subscribe(nil)
	s.process(sub, jan1)

	before := s.reloadSubscription(sub.ID)
	invoices := s.invoices(sub.ID)
	events := len(s.GetPublisher().GetEvents())
	calls := s.GetProvider().Calls("collect_payment")

	s.process(sub, jan1)

	s.Equal(before, s.reloadSubscription(sub.ID))
	s.Equal(invoices, s.invoices(sub.ID))
	s.Len(s.GetPublisher().GetEvents(), events)
	s.Equal(calls, s.GetProvider().Calls("collect_payment"))
	s.Equal(1, s.GetProvider().Calls("create_invoice"))
}

func (s *ProcessorSuite) TestArrearCatchUp() {
	sub, _ := s.subscribe(func(req *dto.CreatePhaseRequest) {
		req.WhenToBill = types.WhenToBillPayInArrear
	})

	apr1 := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	s.process(sub, apr1.AddDate(0, 0, 1))

	invoices := s.invoices(sub.ID)
	s.Require().Len(invoices, 3, "january to march are billed in one run")
	for i, inv := range invoices {
		start := jan1.AddDate(0, i, 0)
		s.True(inv.CycleStartAt.Equal(start), "invoice %d starts %s", i, inv.CycleStartAt)
		s.True(inv.CycleEndAt.Equal(cycleEnd(start.AddDate(0, 1, 0))))
		s.Equal(types.InvoiceStatusPaid, inv.Status)
		s.True(inv.Total.Equal(decimal.NewFromInt(30)))
	}

	current := s.reloadSubscription(sub.ID)
	s.True(current.CurrentCycleStartAt.Equal(apr1))
	s.True(current.CurrentCycleEndAt.Equal(cycleEnd(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))))
	s.True(current.NextInvoiceAt.Equal(*current.CurrentCycleEndAt))
}

func (s *ProcessorSuite) TestChangeToNextPhase() {
	sub, first := s.subscribe(func(req *dto.CreatePhaseRequest) {
		req.EndAt = lo.ToPtr(cycleEnd(feb1))
	})
	second := s.createPhase(dto.CreatePhaseRequest{
		SubscriptionID:   sub.ID,
		PlanVersionID:    testEnterprisePlanVersionID,
		StartAt:          feb1,
		WhenToBill:       types.WhenToBillPayInAdvance,
		CollectionMethod: types.CollectionMethodChargeAutomatically,
		Items:            []dto.CreatePhaseItemRequest{{FeaturePlanVersionID: testEnterpriseFeatureID}},
	}, jan1)

	s.process(sub, jan1)
	current := s.reloadSubscription(sub.ID)
	s.Require().NotNil(current.ChangeAt)
	s.True(current.ChangeAt.Equal(cycleEnd(feb1)))
	s.Nil(current.ExpireAt)

	s.process(sub, feb1)

	changed := s.reloadPhase(first.ID)
	s.Equal(types.PhaseStatusChanged, changed.Status)
	s.False(changed.Active)

	next := s.reloadPhase(second.ID)
	s.Equal(types.PhaseStatusActive, next.Status)
	s.True(next.StartAt.Equal(feb1))

	current = s.reloadSubscription(sub.ID)
	s.Equal(second.ID, lo.FromPtr(current.CurrentPhaseID))
	s.Equal(types.SubscriptionStatusActive, current.Status)
	s.True(current.Active)
	s.Nil(current.ChangeAt)
	s.True(current.CurrentCycleStartAt.Equal(feb1))

	enterprise, ok := lo.Find(s.invoices(sub.ID), func(inv *invoice.Invoice) bool { return inv.PhaseID == second.ID })
	s.Require().True(ok)
	s.Equal(types.InvoiceStatusPaid, enterprise.Status)
	s.True(enterprise.Total.Equal(decimal.NewFromInt(500)))

	active, err := s.GetStores().EntitlementRepo.ListActiveByCustomer(s.GetContext(), sub.CustomerID, feb1)
	s.Require().NoError(err)
	s.Equal([]string{testEnterpriseFeatureID}, lo.Map(active, func(e *entitlement.Entitlement, _ int) string {
		return e.FeaturePlanVersionID
	}))
}

func (s *ProcessorSuite) TestExpiry() {
	sub, phase := s.subscribe(func(req *dto.CreatePhaseRequest) {
		req.WhenToBill = types.WhenToBillPayInArrear
		req.EndAt = lo.ToPtr(cycleEnd(feb1))
	})

	s.process(sub, feb1)

	expired := s.reloadPhase(phase.ID)
	s.Equal(types.PhaseStatusExpired, expired.Status)

	current := s.reloadSubscription(sub.ID)
	s.Equal(types.SubscriptionStatusExpired, current.Status)
	s.False(current.Active)
	s.Equal(string(subscription.TerminationExpire), current.Metadata[types.MetadataKeyReason])

	invoices := s.invoices(sub.ID)
	s.Require().Len(invoices, 1, "the last cycle is billed once")
	s.Equal(types.InvoiceStatusPaid, invoices[0].Status)
}

func (s *ProcessorSuite) TestClosedSubscriptionSettlesItsClosingInvoice() {
	sub, _ := s.subscribe(func(req *dto.CreatePhaseRequest) {
		req.WhenToBill = types.WhenToBillPayInArrear
	})
	s.process(sub, jan1)

	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	_, err := s.subs.CancelSubscription(s.GetContext(), dto.CancelSubscriptionRequest{SubscriptionID: sub.ID}, now)
	s.Require().NoError(err)

	invoices := s.invoices(sub.ID)
	s.Require().Len(invoices, 1)
	s.Require().Equal(types.InvoiceStatusUnpaid, invoices[0].Status)

	due, err := s.processor.ListDue(s.GetContext(), now.Add(time.Hour), "", 10)
	s.Require().NoError(err)
	s.Equal([]DueSubscription{{ID: sub.ID, TenantID: types.DefaultTenantID}}, due)

	s.process(sub, now.Add(time.Hour))

	s.Equal(types.InvoiceStatusPaid, s.invoices(sub.ID)[0].Status)
	s.Equal(types.SubscriptionStatusCanceled, s.reloadSubscription(sub.ID).Status)

	due, err = s.processor.ListDue(s.GetContext(), now.Add(2*time.Hour), "", 10)
	s.Require().NoError(err)
	s.Empty(due)
}

func (s *ProcessorSuite) TestCancelAfterThePaidCycleBillsTheRemainder() {
	sub, phase := s.subscribe(nil)
	api := s.itemFor(phase.ID, testAPICallsFeatureID)
	s.GetUsageReader().Record(api.ID, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(500))
	s.GetUsageReader().Record(api.ID, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(300))

	s.process(sub, jan1)

	cancelAt := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	_, err := s.subs.CancelSubscription(s.GetContext(), dto.CancelSubscriptionRequest{
		SubscriptionID: sub.ID,
		EffectiveAt:    lo.ToPtr(cancelAt),
	}, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)

	// the cycle cannot renew past the cancellation and nothing is due yet
	s.process(sub, feb1)
	s.Equal(types.PhaseStatusActive, s.reloadPhase(phase.ID).Status)
	s.Len(s.invoices(sub.ID), 1)

	feb16 := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	s.process(sub, feb16)
	s.Equal(types.PhaseStatusCanceled, s.reloadPhase(phase.ID).Status)

	invoices := s.invoices(sub.ID)
	s.Require().Len(invoices, 2)
	closing, ok := lo.Find(invoices, func(inv *invoice.Invoice) bool { return inv.Closing })
	s.Require().True(ok)
	s.True(closing.CycleStartAt.Equal(feb1), "starts after the paid cycle, got %s", closing.CycleStartAt)
	s.True(closing.CycleEndAt.Equal(cancelAt))
	s.Equal(types.InvoiceTypeHybrid, closing.Type)
	s.Equal(types.InvoiceStatusUnpaid, closing.Status)

	remainder, err := FlatAmount(&plan.FeaturePlanVersion{UnitPrice: decimal.NewFromInt(30)}, 1, feb1, cancelAt, phase.Anchor(), types.BillingPeriodMonth)
	s.Require().NoError(err)
	s.True(remainder.IsPositive())
	// seats up to the cancellation plus 800 calls since the paid cycle started
	s.True(closing.Total.Equal(remainder.Add(decimal.NewFromInt(8))), "total %s", closing.Total)

	s.process(sub, feb16.Add(time.Hour))
	paid, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), closing.ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, paid.Status)

	active, err := s.GetStores().EntitlementRepo.ListActiveByCustomer(s.GetContext(), sub.CustomerID, feb16)
	s.Require().NoError(err)
	s.Empty(active)
}

func (s *ProcessorSuite) TestProcessDue() {
	globex := &customer.Customer{
		ID:                        "cust_globex",
		ProjectID:                 "proj_globex",
		Email:                     "ap@globex.test",
		Currency:                  "usd",
		PaymentProviderCustomerID: lo.ToPtr("cus_globex"),
		BaseModel:                 types.GetDefaultBaseModel(s.GetContext(), jan1),
	}
	s.Require().NoError(s.GetStores().CustomerRepo.Add(s.GetContext(), globex))
	s.GetProvider().SetDefaultPaymentMethod("cus_globex", testPaymentMethodID)

	acme, _ := s.subscribe(nil)
	other := s.createSubscription(globex)
	s.createPhase(phaseRequest(other.ID, jan1), jan1)

	result, err := s.processor.ProcessDue(s.GetContext(), jan1)
	s.Require().NoError(err)
	s.Equal(&ProcessResult{Processed: 2}, result)
	s.params.Background.Wait()

	result, err = s.processor.ProcessDue(s.GetContext(), jan16)
	s.Require().NoError(err)
	s.Equal(&ProcessResult{}, result, "nothing is due mid cycle")

	cfg := s.GetConfig()
	retry := cfg.Billing.LockRetryMaxElapsed
	cfg.Billing.LockRetryMaxElapsed = 0
	defer func() { cfg.Billing.LockRetryMaxElapsed = retry }()

	release, err := s.GetLocker().TryLock(s.GetContext(), postgres.SubscriptionLockKey(acme.ID))
	s.Require().NoError(err)

	result, err = s.processor.ProcessDue(s.GetContext(), feb1)
	s.Require().NoError(err)
	s.Equal(&ProcessResult{Processed: 1, Contended: 1}, result)
	s.params.Background.Wait()

	s.Len(s.invoices(acme.ID), 1, "the locked subscription was left alone")
	s.Len(s.invoices(other.ID), 2)

	release()
	result, err = s.processor.ProcessDue(s.GetContext(), feb1)
	s.Require().NoError(err)
	s.Equal(&ProcessResult{Processed: 1}, result)
	s.Len(s.invoices(acme.ID), 2)
}
