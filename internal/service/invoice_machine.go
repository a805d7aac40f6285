package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/billingcycle"
	"github.com/flexprice/lifecycle/internal/domain/credit"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/paymentprovider"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	"github.com/flexprice/lifecycle/internal/domain/usage"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/idempotency"
	"github.com/flexprice/lifecycle/internal/metrics"
	"github.com/flexprice/lifecycle/internal/publisher"
	"github.com/flexprice/lifecycle/internal/statemachine"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	EventFinalizeInvoice statemachine.Event = "FINALIZE_INVOICE"
	EventProrateInvoice  statemachine.Event = "PRORATE_INVOICE"
	EventCollectPayment  statemachine.Event = "COLLECT_PAYMENT"
)

// creditItemPrefix keys the provider line that applies a credit
const creditItemPrefix = "credit:"

// InvoiceCommand is one of the commands accepted by the invoice machine
type InvoiceCommand interface {
	statemachine.Command
	invoiceCommand()
}

type FinalizeInvoiceCmd struct {
	Now time.Time
}

func (FinalizeInvoiceCmd) Event() statemachine.Event { return EventFinalizeInvoice }
func (FinalizeInvoiceCmd) invoiceCommand()           {}

// ProrateInvoiceCmd credits the unused part of a paid invoice. The customer
// keeps the service for [StartAt, EndAt].
type ProrateInvoiceCmd struct {
	Now     time.Time
	StartAt time.Time
	EndAt   time.Time
}

func (ProrateInvoiceCmd) Event() statemachine.Event { return EventProrateInvoice }
func (ProrateInvoiceCmd) invoiceCommand()           {}

type CollectPaymentCmd struct {
	Now time.Time
	// AutoFinalize finalizes a draft before collecting it
	AutoFinalize bool
}

func (CollectPaymentCmd) Event() statemachine.Event { return EventCollectPayment }
func (CollectPaymentCmd) invoiceCommand()           {}

// PaymentReporter is told when an invoice it owns gets paid
type PaymentReporter interface {
	ReportPayment(ctx context.Context, cmd ReportPaymentCmd) error
}

type invoiceTransition = statemachine.Transition[types.InvoiceStatus, InvoiceCommand]

var finalizedInvoiceStatuses = []types.InvoiceStatus{
	types.InvoiceStatusUnpaid,
	types.InvoiceStatusWaiting,
	types.InvoiceStatusPaid,
	types.InvoiceStatusVoid,
	types.InvoiceStatusFailed,
}

// InvoiceMachine drives one invoice from draft to a settled status. Every
// transition reloads the invoice and writes it back in one transaction.
type InvoiceMachine struct {
	ServiceParams
	machine  *statemachine.Machine[types.InvoiceStatus, InvoiceCommand]
	reporter PaymentReporter

	mu      sync.RWMutex
	invoice invoice.Invoice
	kept    error
}

// NewInvoiceMachine builds a machine for inv. reporter may be nil when no
// phase needs to hear about payments.
func NewInvoiceMachine(params ServiceParams, inv *invoice.Invoice, reporter PaymentReporter) *InvoiceMachine {
	m := &InvoiceMachine{
		ServiceParams: params,
		reporter:      reporter,
		invoice:       *inv,
	}

	m.machine = statemachine.New(metrics.MachineInvoice, inv.Status,
		invoiceTransition{
			From:      []types.InvoiceStatus{types.InvoiceStatusDraft},
			To:        []types.InvoiceStatus{types.InvoiceStatusUnpaid, types.InvoiceStatusVoid, types.InvoiceStatusPaid},
			Event:     EventFinalizeInvoice,
			Handle:    m.handleFinalize,
			OnSuccess: m.onSuccess,
			OnError:   m.onError,
		},
		invoiceTransition{
			From:   finalizedInvoiceStatuses,
			To:     finalizedInvoiceStatuses,
			Event:  EventFinalizeInvoice,
			Handle: keepInvoiceStatus,
		},
		invoiceTransition{
			From:      []types.InvoiceStatus{types.InvoiceStatusPaid},
			To:        []types.InvoiceStatus{types.InvoiceStatusPaid},
			Event:     EventProrateInvoice,
			Handle:    m.handleProrate,
			OnSuccess: m.onSuccess,
			OnError:   m.onError,
		},
		invoiceTransition{
			From:   []types.InvoiceStatus{types.InvoiceStatusPaid, types.InvoiceStatusVoid},
			To:     []types.InvoiceStatus{types.InvoiceStatusPaid, types.InvoiceStatusVoid},
			Event:  EventCollectPayment,
			Handle: keepInvoiceStatus,
		},
		invoiceTransition{
			From:      []types.InvoiceStatus{types.InvoiceStatusDraft},
			To:        finalizedInvoiceStatuses,
			Event:     EventCollectPayment,
			Handle:    m.handleCollect,
			OnSuccess: m.onSuccess,
			OnError:   m.onError,
		},
		invoiceTransition{
			From: []types.InvoiceStatus{types.InvoiceStatusUnpaid},
			To: []types.InvoiceStatus{
				types.InvoiceStatusUnpaid,
				types.InvoiceStatusWaiting,
				types.InvoiceStatusPaid,
				types.InvoiceStatusFailed,
			},
			Event:     EventCollectPayment,
			Handle:    m.handleCollect,
			OnSuccess: m.onSuccess,
			OnError:   m.onError,
		},
		invoiceTransition{
			From: []types.InvoiceStatus{types.InvoiceStatusWaiting},
			To: []types.InvoiceStatus{
				types.InvoiceStatusWaiting,
				types.InvoiceStatusPaid,
				types.InvoiceStatusVoid,
				types.InvoiceStatusFailed,
			},
			Event:     EventCollectPayment,
			Handle:    m.handleCollect,
			OnSuccess: m.onSuccess,
			OnError:   m.onError,
		},
	)
	return m
}

// Status returns the invoice status as of the last transition
func (m *InvoiceMachine) Status() types.InvoiceStatus {
	return m.machine.State()
}

// Invoice returns a copy of the invoice as of the last transition
func (m *InvoiceMachine) Invoice() invoice.Invoice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.invoice
}

// Finalize prices the invoice, then voids it or finalizes it on the payment provider
func (m *InvoiceMachine) Finalize(ctx context.Context, cmd FinalizeInvoiceCmd) error {
	return m.transition(ctx, cmd)
}

// Prorate credits the unused part of a paid pay in advance invoice
func (m *InvoiceMachine) Prorate(ctx context.Context, cmd ProrateInvoiceCmd) error {
	return m.transition(ctx, cmd)
}

// CollectPayment charges or polls the invoice until it settles
func (m *InvoiceMachine) CollectPayment(ctx context.Context, cmd CollectPaymentCmd) error {
	return m.transition(ctx, cmd)
}

func (m *InvoiceMachine) transition(ctx context.Context, cmd InvoiceCommand) error {
	_, err := m.machine.Transition(ctx, cmd)
	if ierr.Is(err, ierr.ErrInvalidTransition) {
		m.Metrics.Transition(metrics.MachineInvoice, cmd.Event().String(), metrics.OutcomeRefused)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	kept := m.kept
	m.kept = nil
	m.mu.Unlock()
	if kept != nil {
		m.Metrics.Transition(metrics.MachineInvoice, cmd.Event().String(), metrics.OutcomeError)
	}
	return kept
}

func (m *InvoiceMachine) onSuccess(ctx context.Context, from, to types.InvoiceStatus, cmd InvoiceCommand) {
	m.Metrics.Transition(metrics.MachineInvoice, cmd.Event().String(), metrics.OutcomeSuccess)
	if from != to {
		inv := m.Invoice()
		m.Logger.Infow("invoice transitioned",
			"invoice_id", inv.ID,
			"subscription_id", inv.SubscriptionID,
			"event", cmd.Event(),
			"from", from,
			"to", to,
		)
	}
}

func (m *InvoiceMachine) onError(ctx context.Context, from types.InvoiceStatus, cmd InvoiceCommand, err error) {
	inv := m.Invoice()
	outcome := metrics.OutcomeError
	if ierr.IsInvalidOperation(err) {
		outcome = metrics.OutcomeRefused
	}
	m.Metrics.Transition(metrics.MachineInvoice, cmd.Event().String(), outcome)
	m.Sentry.CaptureInvariant(ctx, inv.SubscriptionID, err)
	m.Logger.Warnw("invoice transition failed",
		"invoice_id", inv.ID,
		"subscription_id", inv.SubscriptionID,
		"event", cmd.Event(),
		"status", from,
		"error", err,
	)
}

func keepInvoiceStatus(_ context.Context, from types.InvoiceStatus, _ InvoiceCommand) (types.InvoiceStatus, error) {
	return from, nil
}

// keptError is returned by a step whose writes must be committed even
// though the caller gets an error, e.g. a failed payment attempt. The
// transition succeeds and the error is returned once it is over.
type keptError struct {
	err error
}

func (e *keptError) Error() string { return e.err.Error() }
func (e *keptError) Unwrap() error { return e.err }

type invoiceStep func(ctx context.Context, inv *invoice.Invoice) (types.InvoiceStatus, error)

// run loads the invoice, applies step and saves the result in one
// transaction
func (m *InvoiceMachine) run(ctx context.Context, from types.InvoiceStatus, now time.Time, step invoiceStep) (types.InvoiceStatus, error) {
	var (
		to      types.InvoiceStatus
		updated *invoice.Invoice
		kept    error
	)

	id := m.Invoice().ID
	err := m.DB.WithTx(ctx, func(ctx context.Context) error {
		inv, err := m.InvoiceRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != from {
			return ierr.NewError("invoice changed underneath its machine").
				WithHintf("Invoice %s is %s, expected %s", inv.ID, inv.Status, from).
				WithReportableDetails(map[string]any{
					"invoice_id": inv.ID,
					"persisted":  inv.Status,
					"expected":   from,
				}).
				Mark(ierr.ErrInvariant)
		}

		to, err = step(ctx, inv)
		var ke *keptError
		if ierr.As(err, &ke) {
			kept, err, to = ke.err, nil, inv.Status
		}
		if err != nil {
			return err
		}

		inv.Status = to
		inv.UpdatedAt = now.UTC()
		if err := m.InvoiceRepo.Update(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return from, err
	}

	m.mu.Lock()
	m.invoice = *updated
	m.kept = kept
	m.mu.Unlock()
	return to, nil
}

func (m *InvoiceMachine) handleFinalize(ctx context.Context, from types.InvoiceStatus, cmd InvoiceCommand) (types.InvoiceStatus, error) {
	c := cmd.(FinalizeInvoiceCmd)
	return m.run(ctx, from, c.Now, func(ctx context.Context, inv *invoice.Invoice) (types.InvoiceStatus, error) {
		return m.finalize(ctx, inv, c.Now)
	})
}

func (m *InvoiceMachine) handleProrate(ctx context.Context, from types.InvoiceStatus, cmd InvoiceCommand) (types.InvoiceStatus, error) {
	c := cmd.(ProrateInvoiceCmd)
	return m.run(ctx, from, c.Now, func(ctx context.Context, inv *invoice.Invoice) (types.InvoiceStatus, error) {
		return m.prorate(ctx, inv, c)
	})
}

func (m *InvoiceMachine) handleCollect(ctx context.Context, from types.InvoiceStatus, cmd InvoiceCommand) (types.InvoiceStatus, error) {
	c := cmd.(CollectPaymentCmd)
	if from == types.InvoiceStatusDraft && !c.AutoFinalize {
		return from, ierr.NewError("invoice is not finalized").
			WithHint("Finalize the invoice before collecting it").
			WithReportableDetails(map[string]any{"invoice_id": m.Invoice().ID}).
			Mark(ierr.ErrInvalidOperation)
	}

	return m.run(ctx, from, c.Now, func(ctx context.Context, inv *invoice.Invoice) (types.InvoiceStatus, error) {
		if inv.Status == types.InvoiceStatusDraft {
			status, err := m.finalize(ctx, inv, c.Now)
			if err != nil || status != types.InvoiceStatusUnpaid {
				return status, err
			}
			inv.Status = status
		}

		if inv.Status == types.InvoiceStatusWaiting {
			return m.poll(ctx, inv, c.Now)
		}
		return m.collect(ctx, inv, c.Now)
	})
}

// finalize prices the invoice, mirrors it on the payment provider and
// applies the customer's credits. Invoices with nothing to charge are voided
// without calling the provider.
func (m *InvoiceMachine) finalize(ctx context.Context, inv *invoice.Invoice, now time.Time) (types.InvoiceStatus, error) {
	if inv.DueAt.After(now) {
		return inv.Status, ierr.NewError("invoice is not due yet").
			WithHintf("Invoice %s is due at %s", inv.ID, inv.DueAt.Format(time.RFC3339)).
			WithReportableDetails(map[string]any{
				"invoice_id": inv.ID,
				"due_at":     inv.DueAt,
				"now":        now,
			}).
			MarkAll(ierr.ErrInvoiceNotDue, ierr.ErrInvalidOperation)
	}

	sub, err := m.SubRepo.Get(ctx, inv.SubscriptionID)
	if err != nil {
		return inv.Status, err
	}
	phase, err := m.PhaseRepo.Get(ctx, inv.PhaseID)
	if err != nil {
		return inv.Status, err
	}
	details, err := m.PlanVersions.Get(ctx, phase.PlanVersionID)
	if err != nil {
		return inv.Status, err
	}
	items, err := m.ItemRepo.ListByPhase(ctx, phase.ID)
	if err != nil {
		return inv.Status, err
	}

	features := details.FeaturesByID()
	usageByItem, err := m.readUsage(ctx, sub, inv, items, features)
	if err != nil {
		return inv.Status, err
	}

	lines, subtotal, err := PriceInvoice(PricingInput{
		Invoice:  inv,
		Phase:    phase,
		Period:   details.Version.BillingPeriod,
		Items:    items,
		Features: features,
		Usage:    usageByItem,
	})
	if err != nil {
		return inv.Status, err
	}

	inv.Subtotal = subtotal
	if !details.Version.PaymentMethodRequired {
		inv.Total = subtotal
		inv.AmountCreditUsed = decimal.Zero
		return m.voidSettled(ctx, inv, now)
	}

	credits, used, err := m.allocateCredits(ctx, inv, subtotal)
	if err != nil {
		return inv.Status, err
	}
	inv.AmountCreditUsed = used
	inv.Total = subtotal.Sub(used)
	if inv.Total.IsZero() {
		// nothing left to charge, the provider is never involved
		if err := m.recordCredits(ctx, inv, credits, now); err != nil {
			return inv.Status, err
		}
		return m.voidSettled(ctx, inv, now)
	}

	cust, err := m.CustomerRepo.Get(ctx, inv.CustomerID)
	if err != nil {
		return inv.Status, err
	}
	if !cust.HasProviderAccount() {
		return inv.Status, errPaymentMethodRequired(cust.ID, nil)
	}
	providerCustomerID := lo.FromPtr(cust.PaymentProviderCustomerID)

	providerInv, err := m.upsertProviderInvoice(ctx, inv, providerCustomerID)
	if err != nil {
		return inv.Status, err
	}
	inv.PaymentProviderInvoiceID = lo.ToPtr(providerInv.ID)
	if providerInv.URL != "" {
		inv.PaymentProviderInvoiceURL = lo.ToPtr(providerInv.URL)
	}

	// a previous attempt already finalized it on the provider
	if providerInv.Status != paymentprovider.InvoiceStatusDraft {
		inv.Total = providerInv.Total
		inv.AmountCreditUsed = decimal.Max(decimal.Zero, subtotal.Sub(providerInv.Total))
		return m.settleFinalized(ctx, inv, providerInv, now)
	}

	for _, line := range lines {
		if err := m.upsertProviderItem(ctx, providerInv, paymentprovider.InvoiceItemInput{
			CustomerID:  providerCustomerID,
			Key:         line.Key,
			Description: line.Description,
			Currency:    inv.Currency,
			Amount:      line.Amount,
			PeriodStart: line.PeriodStart,
			PeriodEnd:   line.PeriodEnd,
		}); err != nil {
			return inv.Status, err
		}
	}

	if err := m.recordCredits(ctx, inv, credits, now); err != nil {
		return inv.Status, err
	}
	if err := m.pushCredits(ctx, inv, providerInv, providerCustomerID, credits); err != nil {
		return inv.Status, err
	}

	finalized, err := m.Provider.FinalizeInvoice(ctx, providerInv.ID)
	if err != nil {
		return inv.Status, err
	}
	return m.settleFinalized(ctx, inv, finalized, now)
}

func (m *InvoiceMachine) settleFinalized(ctx context.Context, inv *invoice.Invoice, providerInv *paymentprovider.Invoice, now time.Time) (types.InvoiceStatus, error) {
	switch {
	case providerInv.Status == paymentprovider.InvoiceStatusPaid || !inv.Total.IsPositive():
		return m.markPaid(ctx, inv, now)
	case providerInv.Status == paymentprovider.InvoiceStatusVoid:
		return types.InvoiceStatusVoid, nil
	default:
		return types.InvoiceStatusUnpaid, nil
	}
}

func (m *InvoiceMachine) readUsage(ctx context.Context, sub *subscription.Subscription, inv *invoice.Invoice, items []*subscription.Item, features map[string]*plan.FeaturePlanVersion) (map[string]*usage.Usage, error) {
	out := make(map[string]*usage.Usage)
	start, end := inv.UsageWindow()
	if start == nil || end == nil {
		return out, nil
	}

	for _, item := range items {
		feature, ok := features[item.FeaturePlanVersionID]
		if !ok || !feature.FeatureType.IsMetered() {
			continue
		}
		u, err := m.UsageReader.GetUsagePerFeature(ctx, usage.Query{
			SubscriptionItemID: item.ID,
			CustomerID:         inv.CustomerID,
			ProjectID:          sub.ProjectID,
			Start:              start,
			End:                end,
		})
		if err != nil {
			return nil, err
		}
		out[item.ID] = u
	}
	return out, nil
}

func (m *InvoiceMachine) upsertProviderInvoice(ctx context.Context, inv *invoice.Invoice, providerCustomerID string) (*paymentprovider.Invoice, error) {
	description := fmt.Sprintf("Subscription %s (%s - %s)",
		inv.SubscriptionID,
		inv.CycleStartAt.Format(time.DateOnly),
		inv.CycleEndAt.Format(time.DateOnly),
	)
	method := paymentprovider.CollectionMethod(inv.CollectionMethod)

	if inv.HasProviderInvoice() {
		existing, err := m.Provider.GetInvoice(ctx, lo.FromPtr(inv.PaymentProviderInvoiceID))
		if err != nil {
			return nil, err
		}
		if existing.Status != paymentprovider.InvoiceStatusDraft {
			return existing, nil
		}
		return m.Provider.UpdateInvoice(ctx, existing.ID, paymentprovider.UpdateInvoiceInput{
			Description:      description,
			CollectionMethod: method,
			DueAt:            lo.ToPtr(inv.PastDueAt),
		})
	}

	return m.Provider.CreateInvoice(ctx, paymentprovider.CreateInvoiceInput{
		CustomerID:       providerCustomerID,
		Currency:         inv.Currency,
		Description:      description,
		CollectionMethod: method,
		DueAt:            lo.ToPtr(inv.PastDueAt),
		IdempotencyKey: m.Idempotency.GenerateKey(idempotency.ScopeProviderInvoice, map[string]interface{}{
			"invoice_id": inv.ID,
		}),
		Metadata: map[string]string{
			paymentprovider.MetadataInvoiceID: inv.ID,
		},
	})
}

// upsertProviderItem matches provider lines by their stable key so a
// repeated finalize never duplicates a charge
func (m *InvoiceMachine) upsertProviderItem(ctx context.Context, providerInv *paymentprovider.Invoice, in paymentprovider.InvoiceItemInput) error {
	existing, ok := providerInv.Item(in.Key)
	if !ok {
		_, err := m.Provider.AddInvoiceItem(ctx, providerInv.ID, in)
		return err
	}
	if existing.Amount.Equal(in.Amount) {
		return nil
	}
	_, err := m.Provider.UpdateInvoiceItem(ctx, existing.ID, in)
	return err
}

// creditUse is the part of a credit spent on an invoice
type creditUse struct {
	credit  *credit.Credit
	applied decimal.Decimal
}

// allocateCredits spends the active credits of the invoice currency on
// amount, oldest first. Nothing is written.
func (m *InvoiceMachine) allocateCredits(ctx context.Context, inv *invoice.Invoice, amount decimal.Decimal) ([]creditUse, decimal.Decimal, error) {
	credits, err := m.CreditRepo.ListActiveByCustomer(ctx, inv.CustomerID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	var uses []creditUse
	used := decimal.Zero
	for _, c := range credits {
		remaining := amount.Sub(used)
		if !remaining.IsPositive() {
			break
		}
		if c.Currency != inv.Currency {
			continue
		}

		applied := c.Use(remaining)
		if applied.IsZero() {
			continue
		}
		uses = append(uses, creditUse{credit: c, applied: applied})
		used = used.Add(applied)
	}
	return uses, used, nil
}

// recordCredits stores the amount used of every allocated credit
func (m *InvoiceMachine) recordCredits(ctx context.Context, inv *invoice.Invoice, uses []creditUse, now time.Time) error {
	for _, u := range uses {
		u.credit.UpdatedAt = now.UTC()
		if err := m.CreditRepo.Update(ctx, u.credit); err != nil {
			return err
		}
		m.Logger.Infow("applied credit to invoice",
			"invoice_id", inv.ID,
			"credit_id", u.credit.ID,
			"amount", u.applied.String(),
		)
	}
	return nil
}

// pushCredits adds the allocated credits to the provider invoice as
// negative line items
func (m *InvoiceMachine) pushCredits(ctx context.Context, inv *invoice.Invoice, providerInv *paymentprovider.Invoice, providerCustomerID string, uses []creditUse) error {
	for _, u := range uses {
		if err := m.upsertProviderItem(ctx, providerInv, paymentprovider.InvoiceItemInput{
			CustomerID:  providerCustomerID,
			Key:         creditItemPrefix + u.credit.ID,
			Description: fmt.Sprintf("Credit %s", u.credit.Code),
			Currency:    inv.Currency,
			Amount:      u.applied.Neg(),
			PeriodStart: inv.CycleStartAt,
			PeriodEnd:   inv.CycleEndAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

// voidSettled voids an invoice that has nothing to charge and reports it
// to the phase like a payment
func (m *InvoiceMachine) voidSettled(ctx context.Context, inv *invoice.Invoice, now time.Time) (types.InvoiceStatus, error) {
	if err := m.reportPayment(ctx, inv, now); err != nil {
		return inv.Status, err
	}
	return types.InvoiceStatusVoid, nil
}

// prorate issues a credit for the part of a paid flat charge the customer
// will not use. The credit id is derived from the invoice so a second call
// only stamps prorated_at.
func (m *InvoiceMachine) prorate(ctx context.Context, inv *invoice.Invoice, cmd ProrateInvoiceCmd) (types.InvoiceStatus, error) {
	if !inv.IsPayInAdvance() {
		return inv.Status, ierr.NewError("only pay in advance invoices can be prorated").
			WithHint("Invoices billed in arrear never charge unused time").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if inv.ProratedAt != nil {
		return inv.Status, nil
	}

	creditID := m.Idempotency.ProrationCreditID(inv.ID)
	if _, err := m.CreditRepo.Get(ctx, creditID); err == nil {
		inv.ProratedAt = lo.ToPtr(cmd.Now.UTC())
		return inv.Status, nil
	} else if !ierr.IsNotFound(err) {
		return inv.Status, err
	}

	refund, err := m.unusedAmount(ctx, inv, cmd)
	if err != nil {
		return inv.Status, err
	}

	amount := billingcycle.CapCredit(refund, inv.AmountPaid(), decimal.Zero)
	if amount.IsPositive() {
		c := &credit.Credit{
			ID:          creditID,
			Code:        types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_CREDIT),
			CustomerID:  inv.CustomerID,
			InvoiceID:   inv.ID,
			Currency:    inv.Currency,
			TotalAmount: amount,
			AmountUsed:  decimal.Zero,
			Active:      true,
			BaseModel: types.BaseModel{
				TenantID:  inv.TenantID,
				CreatedAt: cmd.Now.UTC(),
				UpdatedAt: cmd.Now.UTC(),
			},
		}
		created, err := m.CreditRepo.CreateIfNotExists(ctx, c)
		if err != nil {
			return inv.Status, err
		}
		if created {
			m.publishAfterCommit(ctx, publisher.NewEvent(ctx, publisher.EventCreditIssued, c.ID, cmd.Now, map[string]interface{}{
				"credit_id":   c.ID,
				"code":        c.Code,
				"customer_id": c.CustomerID,
				"invoice_id":  inv.ID,
				"amount":      amount.String(),
				"currency":    c.Currency,
			}))
		}
	}

	inv.ProratedAt = lo.ToPtr(cmd.Now.UTC())
	return inv.Status, nil
}

// unusedAmount sums, over the flat lines of the paid provider invoice, what
// was charged beyond the price of the shortened window
func (m *InvoiceMachine) unusedAmount(ctx context.Context, inv *invoice.Invoice, cmd ProrateInvoiceCmd) (decimal.Decimal, error) {
	if !inv.HasProviderInvoice() {
		return decimal.Zero, nil
	}

	phase, err := m.PhaseRepo.Get(ctx, inv.PhaseID)
	if err != nil {
		return decimal.Zero, err
	}
	details, err := m.PlanVersions.Get(ctx, phase.PlanVersionID)
	if err != nil {
		return decimal.Zero, err
	}
	items, err := m.ItemRepo.ListByPhase(ctx, phase.ID)
	if err != nil {
		return decimal.Zero, err
	}
	providerInv, err := m.Provider.GetInvoice(ctx, lo.FromPtr(inv.PaymentProviderInvoiceID))
	if err != nil {
		return decimal.Zero, err
	}

	features := details.FeaturesByID()
	refund := decimal.Zero
	for _, item := range items {
		feature, ok := features[item.FeaturePlanVersionID]
		if !ok || !feature.IsFlat() {
			continue
		}
		line, ok := providerInv.Item(item.ID)
		if !ok {
			continue
		}

		owed, err := FlatAmount(feature, lo.FromPtr(item.Units), cmd.StartAt, cmd.EndAt, phase.Anchor(), details.Version.BillingPeriod)
		if err != nil {
			return decimal.Zero, err
		}
		if diff := line.Amount.Sub(owed); diff.IsPositive() {
			refund = refund.Add(diff)
		}
	}
	return refund, nil
}

// collect charges an unpaid invoice or sends it to the customer
func (m *InvoiceMachine) collect(ctx context.Context, inv *invoice.Invoice, now time.Time) (types.InvoiceStatus, error) {
	if !inv.HasProviderInvoice() {
		return inv.Status, ierr.NewError("unpaid invoice has no provider invoice").
			WithHintf("Invoice %s was finalized without a payment provider invoice", inv.ID).
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrInvariant)
	}
	providerID := lo.FromPtr(inv.PaymentProviderInvoiceID)

	if inv.CollectionMethod == types.CollectionMethodSendInvoice {
		if _, err := m.Provider.SendInvoice(ctx, providerID); err != nil {
			return inv.Status, err
		}
		inv.PaymentAttempts = inv.PaymentAttempts.Append(types.PaymentAttemptStatusWaiting, now)
		return types.InvoiceStatusWaiting, nil
	}

	maxAttempts := m.Config.Billing.MaxPaymentAttempts
	if inv.PaymentAttempts.Failed() >= maxAttempts {
		return m.markFailed(ctx, inv, now, "payment attempts exhausted")
	}

	phase, err := m.PhaseRepo.Get(ctx, inv.PhaseID)
	if err != nil {
		return inv.Status, err
	}
	cust, err := m.CustomerRepo.Get(ctx, inv.CustomerID)
	if err != nil {
		return inv.Status, err
	}
	paymentMethodID, err := m.resolvePaymentMethod(ctx, phase, cust)
	if err != nil {
		return inv.Status, err
	}

	result, err := m.Provider.CollectPayment(ctx, providerID, paymentMethodID)
	if err != nil {
		inv.PaymentAttempts = inv.PaymentAttempts.Append(types.PaymentAttemptStatusFailed, now)
		if inv.PaymentAttempts.Failed() >= maxAttempts {
			return m.markFailed(ctx, inv, now, "payment attempts exhausted")
		}

		var providerErr *paymentprovider.Error
		if ierr.As(err, &providerErr) && providerErr.Declined {
			m.Logger.Warnw("payment declined",
				"invoice_id", inv.ID,
				"attempt", inv.PaymentAttempts.Failed(),
				"error", err,
			)
			return inv.Status, nil
		}
		return inv.Status, &keptError{err: err}
	}

	if result.Status == paymentprovider.InvoiceStatusPaid {
		return m.markPaid(ctx, inv, now)
	}
	inv.PaymentAttempts = inv.PaymentAttempts.Append(types.PaymentAttemptStatusWaiting, now)
	return types.InvoiceStatusWaiting, nil
}

// poll asks the provider how a pending collection ended
func (m *InvoiceMachine) poll(ctx context.Context, inv *invoice.Invoice, now time.Time) (types.InvoiceStatus, error) {
	status, err := m.Provider.GetStatusInvoice(ctx, lo.FromPtr(inv.PaymentProviderInvoiceID))
	if err != nil {
		return inv.Status, err
	}

	switch status {
	case paymentprovider.InvoiceStatusPaid:
		return m.markPaid(ctx, inv, now)
	case paymentprovider.InvoiceStatusVoid:
		return types.InvoiceStatusVoid, nil
	case paymentprovider.InvoiceStatusUncollectible:
		return m.markFailed(ctx, inv, now, "invoice marked uncollectible")
	}

	if inv.PastDueAt.Before(now) {
		return m.markFailed(ctx, inv, now, "invoice past due")
	}
	return types.InvoiceStatusWaiting, nil
}

func (m *InvoiceMachine) markPaid(ctx context.Context, inv *invoice.Invoice, now time.Time) (types.InvoiceStatus, error) {
	inv.PaidAt = lo.ToPtr(now.UTC())
	if inv.Total.IsPositive() {
		inv.PaymentAttempts = inv.PaymentAttempts.Append(types.PaymentAttemptStatusPaid, now)
	}
	inv.Status = types.InvoiceStatusPaid

	if err := m.reportPayment(ctx, inv, now); err != nil {
		return inv.Status, err
	}

	m.publishAfterCommit(ctx, publisher.NewEvent(ctx, publisher.EventInvoicePaid, inv.ID, now, map[string]interface{}{
		"invoice_id":      inv.ID,
		"subscription_id": inv.SubscriptionID,
		"customer_id":     inv.CustomerID,
		"total":           inv.Total.String(),
		"currency":        inv.Currency,
	}))
	return types.InvoiceStatusPaid, nil
}

func (m *InvoiceMachine) markFailed(ctx context.Context, inv *invoice.Invoice, now time.Time, reason string) (types.InvoiceStatus, error) {
	m.Logger.Warnw("invoice failed",
		"invoice_id", inv.ID,
		"subscription_id", inv.SubscriptionID,
		"reason", reason,
	)
	m.publishAfterCommit(ctx, publisher.NewEvent(ctx, publisher.EventInvoiceFailed, inv.ID, now, map[string]interface{}{
		"invoice_id":      inv.ID,
		"subscription_id": inv.SubscriptionID,
		"customer_id":     inv.CustomerID,
		"reason":          reason,
		"attempts":        len(inv.PaymentAttempts),
	}))
	return types.InvoiceStatusFailed, nil
}

// reportPayment tells the owning phase that nothing is owed on inv anymore
func (m *InvoiceMachine) reportPayment(ctx context.Context, inv *invoice.Invoice, now time.Time) error {
	if m.reporter == nil {
		return nil
	}
	return m.reporter.ReportPayment(ctx, ReportPaymentCmd{Now: now, InvoiceID: inv.ID})
}
