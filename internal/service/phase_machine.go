package service

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/customer"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/metrics"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/publisher"
	"github.com/flexprice/lifecycle/internal/statemachine"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// PhaseSnapshot is the state a phase transition decides on. It is loaded
// inside the transaction of every transition and never mutated afterwards.
type PhaseSnapshot struct {
	Subscription subscription.Subscription
	Phase        subscription.Phase
	PlanVersion  plan.PlanVersion
	Features     map[string]*plan.FeaturePlanVersion
	Customer     customer.Customer
	Items        []subscription.Item
	// Upcoming are the active phases starting after this one, by start date
	Upcoming []subscription.Phase
	// Next is the first of Upcoming, if any
	Next *subscription.Phase
}

// hasFeatureTypes reports whether the items include flat and metered features
func (s *PhaseSnapshot) hasFeatureTypes() (hasFlat, hasUsage bool) {
	for _, item := range s.Items {
		feature, ok := s.Features[item.FeaturePlanVersionID]
		if !ok {
			continue
		}
		if feature.IsFlat() {
			hasFlat = true
		} else {
			hasUsage = true
		}
	}
	return hasFlat, hasUsage
}

type phaseTransition = statemachine.Transition[types.PhaseStatus, PhaseCommand]

// PhaseMachine drives one subscription phase. It owns the subscription lock
// from construction until Close.
type PhaseMachine struct {
	ServiceParams
	subscriptionID string
	phaseID        string
	machine        *statemachine.Machine[types.PhaseStatus, PhaseCommand]
	entitlements   *EntitlementSynchronizer
	log            *logger.Logger
	release        func()

	mu       sync.RWMutex
	snapshot *PhaseSnapshot
}

// NewPhaseMachine locks the subscription and loads the phase. It fails fast
// with ErrLockHeld when another worker owns the subscription.
func NewPhaseMachine(ctx context.Context, params ServiceParams, subscriptionID, phaseID string) (*PhaseMachine, error) {
	release, err := params.Locker.TryLock(ctx, postgres.SubscriptionLockKey(subscriptionID))
	if err != nil {
		if ierr.Is(err, ierr.ErrLockHeld) {
			params.Metrics.LockContended()
		}
		return nil, err
	}

	m := &PhaseMachine{
		ServiceParams:  params,
		subscriptionID: subscriptionID,
		phaseID:        phaseID,
		entitlements:   NewEntitlementSynchronizer(params),
		log:            params.Logger.WithSubscription(subscriptionID),
		release:        release,
	}

	snapshot, err := m.load(ctx)
	if err != nil {
		release()
		return nil, err
	}
	m.snapshot = snapshot

	live := []types.PhaseStatus{types.PhaseStatusTrialing, types.PhaseStatusTrialEnded, types.PhaseStatusActive}
	billed := []types.PhaseStatus{types.PhaseStatusTrialEnded, types.PhaseStatusActive}
	active := []types.PhaseStatus{types.PhaseStatusActive}

	m.machine = statemachine.New(metrics.MachinePhase, snapshot.Phase.Status,
		m.transition(EventActivate,
			[]types.PhaseStatus{types.PhaseStatusTrialing, types.PhaseStatusActive},
			[]types.PhaseStatus{types.PhaseStatusTrialing, types.PhaseStatusActive}),
		m.transition(EventEndTrial,
			[]types.PhaseStatus{types.PhaseStatusTrialing},
			billed),
		m.transition(EventInvoice, billed, billed),
		m.transition(EventReportPayment, billed, active),
		m.transition(EventRenew, active, active),
		m.transition(EventCancel, live, append(live, types.PhaseStatusCanceled)),
		m.transition(EventChange, active, append(active, types.PhaseStatusChanged)),
		m.transition(EventExpire, active, append(active, types.PhaseStatusExpired)),
		m.transition(EventPastDue, billed, append(billed, types.PhaseStatusPastDued)),
	)
	return m, nil
}

func (m *PhaseMachine) transition(event statemachine.Event, from, to []types.PhaseStatus) phaseTransition {
	return phaseTransition{
		From:      from,
		To:        lo.Uniq(to),
		Event:     event,
		Handle:    m.handle,
		OnSuccess: m.onSuccess,
		OnError:   m.onError,
	}
}

// Close releases the subscription lock
func (m *PhaseMachine) Close() {
	m.release()
}

// Snapshot returns the state loaded by the last successful transition
func (m *PhaseMachine) Snapshot() PhaseSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.snapshot
}

// State returns the phase status as of the last transition
func (m *PhaseMachine) State() types.PhaseStatus {
	return m.machine.State()
}

// Can reports whether event is allowed from the current status
func (m *PhaseMachine) Can(event statemachine.Event) bool {
	return m.machine.Can(event)
}

// Handle applies cmd and returns the resulting phase status
func (m *PhaseMachine) Handle(ctx context.Context, cmd PhaseCommand) (types.PhaseStatus, error) {
	to, err := m.machine.Transition(ctx, cmd)
	if ierr.Is(err, ierr.ErrInvalidTransition) {
		m.Metrics.Transition(metrics.MachinePhase, cmd.Event().String(), metrics.OutcomeRefused)
	}
	return to, err
}

// ReportPayment moves the phase back to active after an invoice got paid. A
// phase that cannot take payments ignores it.
func (m *PhaseMachine) ReportPayment(ctx context.Context, cmd ReportPaymentCmd) error {
	if !m.Can(EventReportPayment) {
		return nil
	}
	_, err := m.Handle(ctx, cmd)
	return err
}

func (m *PhaseMachine) handle(ctx context.Context, from types.PhaseStatus, cmd PhaseCommand) (types.PhaseStatus, error) {
	var (
		decision PhaseDecision
		reloaded *PhaseSnapshot
	)

	err := m.DB.WithTx(ctx, func(ctx context.Context) error {
		snapshot, err := m.load(ctx)
		if err != nil {
			return err
		}
		if snapshot.Phase.Status != from {
			return ierr.NewError("phase changed underneath its machine").
				WithHintf("Phase %s is %s, expected %s", snapshot.Phase.ID, snapshot.Phase.Status, from).
				WithReportableDetails(map[string]any{
					"phase_id":  snapshot.Phase.ID,
					"persisted": snapshot.Phase.Status,
					"expected":  from,
				}).
				Mark(ierr.ErrInvariant)
		}

		if c, ok := cmd.(EndTrialCmd); ok && trialOver(&snapshot.Phase, c.Now) && snapshot.PlanVersion.PaymentMethodRequired {
			if _, err := m.resolvePaymentMethod(ctx, &snapshot.Phase, &snapshot.Customer); err != nil {
				return err
			}
		}

		decision, err = m.decide(snapshot, cmd)
		if err != nil {
			return err
		}

		for _, effect := range decision.Effects {
			if err := m.apply(ctx, effect); err != nil {
				return err
			}
		}

		reloaded, err = m.load(ctx)
		return err
	})
	if err != nil {
		return from, err
	}

	m.mu.Lock()
	m.snapshot = reloaded
	m.mu.Unlock()
	return decision.Next, nil
}

func (m *PhaseMachine) onSuccess(ctx context.Context, from, to types.PhaseStatus, cmd PhaseCommand) {
	m.Metrics.Transition(metrics.MachinePhase, cmd.Event().String(), metrics.OutcomeSuccess)
	if from == to {
		return
	}

	m.log.Infow("phase transitioned",
		"phase_id", m.phaseID,
		"event", cmd.Event(),
		"from", from,
		"to", to,
	)
	m.publishAfterCommit(ctx, publisher.NewEvent(ctx, publisher.EventPhaseTransitioned, m.phaseID, time.Now().UTC(), map[string]interface{}{
		"subscription_id": m.subscriptionID,
		"phase_id":        m.phaseID,
		"event":           cmd.Event().String(),
		"from":            from,
		"to":              to,
	}))
}

func (m *PhaseMachine) onError(ctx context.Context, from types.PhaseStatus, cmd PhaseCommand, err error) {
	outcome := metrics.OutcomeError
	if ierr.IsInvalidOperation(err) {
		outcome = metrics.OutcomeRefused
	}
	m.Metrics.Transition(metrics.MachinePhase, cmd.Event().String(), outcome)
	m.Sentry.CaptureInvariant(ctx, m.subscriptionID, err)

	if outcome == metrics.OutcomeRefused {
		m.log.Debugw("phase transition refused",
			"phase_id", m.phaseID,
			"event", cmd.Event(),
			"status", from,
			"reason", err,
		)
		return
	}
	m.log.Warnw("phase transition failed",
		"phase_id", m.phaseID,
		"event", cmd.Event(),
		"status", from,
		"error", err,
	)
}

// load reads the phase with everything its transitions decide on
func (m *PhaseMachine) load(ctx context.Context) (*PhaseSnapshot, error) {
	sub, err := m.SubRepo.Get(ctx, m.subscriptionID)
	if err != nil {
		return nil, err
	}
	phase, err := m.PhaseRepo.Get(ctx, m.phaseID)
	if err != nil {
		return nil, err
	}
	if phase.SubscriptionID != sub.ID {
		return nil, ierr.NewError("phase not found").
			WithHintf("Phase %s does not belong to subscription %s", phase.ID, sub.ID).
			Mark(ierr.ErrNotFound)
	}

	details, err := m.PlanVersions.Get(ctx, phase.PlanVersionID)
	if err != nil {
		return nil, err
	}
	cust, err := m.CustomerRepo.Get(ctx, sub.CustomerID)
	if err != nil {
		return nil, err
	}
	items, err := m.ItemRepo.ListByPhase(ctx, phase.ID)
	if err != nil {
		return nil, err
	}
	phases, err := m.PhaseRepo.ListBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	upcoming := lo.FilterMap(phases, func(p *subscription.Phase, _ int) (subscription.Phase, bool) {
		return *p, p.Active && p.ID != phase.ID && p.StartAt.After(phase.StartAt)
	})

	snapshot := &PhaseSnapshot{
		Subscription: *sub,
		Phase:        *phase,
		PlanVersion:  *details.Version,
		Features:     details.FeaturesByID(),
		Customer:     *cust,
		Items: lo.Map(items, func(item *subscription.Item, _ int) subscription.Item {
			return *item
		}),
		Upcoming: upcoming,
	}
	if len(upcoming) > 0 {
		next := upcoming[0]
		snapshot.Next = &next
	}
	return snapshot, nil
}

// apply persists one effect of a decision inside the transition transaction
func (m *PhaseMachine) apply(ctx context.Context, effect PhaseEffect) error {
	switch e := effect.(type) {
	case subscriptionPatch:
		sub := e.subscription
		return m.SubRepo.Update(ctx, &sub)

	case phasePatch:
		phase := e.phase
		return m.PhaseRepo.Update(ctx, &phase)

	case createInvoice:
		inv := e.invoice
		created, err := m.InvoiceRepo.CreateIfNotExists(ctx, &inv)
		if err != nil {
			return err
		}
		if !created {
			m.log.Debugw("invoice already exists", "invoice_id", inv.ID)
		}
		if !e.finalize {
			return nil
		}
		stored, err := m.InvoiceRepo.Get(ctx, inv.ID)
		if err != nil {
			return err
		}
		return NewInvoiceMachine(m.ServiceParams, stored, nil).Finalize(ctx, FinalizeInvoiceCmd{Now: e.now})

	case prorateInvoice:
		inv, err := m.InvoiceRepo.Get(ctx, e.invoiceID)
		if ierr.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if inv.Status != types.InvoiceStatusPaid {
			m.log.Debugw("skipping proration of unpaid invoice", "invoice_id", inv.ID, "status", inv.Status)
			return nil
		}
		return NewInvoiceMachine(m.ServiceParams, inv, nil).Prorate(ctx, ProrateInvoiceCmd{
			Now:     e.now,
			StartAt: e.startAt,
			EndAt:   e.endAt,
		})

	case syncEntitlements:
		return m.entitlements.Sync(ctx, SyncInput{
			SubscriptionID: m.subscriptionID,
			CustomerID:     e.customerID,
			Now:            e.at,
		})

	case endDateEntitlements:
		return m.entitlements.EndDateForPhase(ctx, e.phaseID, e.at)
	}

	return ierr.NewError("unknown phase effect").
		WithHintf("Effect %T is not supported", effect).
		Mark(ierr.ErrSystem)
}

// invoiceFor builds the draft invoice of a window of the phase
func invoiceFor(s *PhaseSnapshot, id string, start, end, now time.Time) invoice.Invoice {
	return invoice.Invoice{
		ID:               id,
		SubscriptionID:   s.Subscription.ID,
		PhaseID:          s.Phase.ID,
		CustomerID:       s.Subscription.CustomerID,
		CycleStartAt:     start,
		CycleEndAt:       end,
		Status:           types.InvoiceStatusDraft,
		WhenToBill:       s.Phase.WhenToBill,
		CollectionMethod: s.Phase.CollectionMethod,
		Currency:         s.PlanVersion.Currency,
		PaymentProvider:  s.PlanVersion.PaymentProvider,
		PaymentAttempts:  types.PaymentAttempts{},
		Metadata:         types.Metadata{},
		BaseModel: types.BaseModel{
			TenantID:  s.Subscription.TenantID,
			CreatedAt: now.UTC(),
			UpdatedAt: now.UTC(),
		},
	}
}
