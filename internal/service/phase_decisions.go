package service

import (
	"time"

	"github.com/flexprice/lifecycle/internal/domain/billingcycle"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// PhaseEffect is one write a phase transition asks for
type PhaseEffect interface {
	phaseEffect()
}

type subscriptionPatch struct {
	subscription subscription.Subscription
}

type phasePatch struct {
	phase subscription.Phase
}

// createInvoice inserts the invoice unless it exists. A finalized invoice is
// priced and pushed to the payment provider in the same transaction.
type createInvoice struct {
	invoice  invoice.Invoice
	finalize bool
	now      time.Time
}

// prorateInvoice credits the unused part of a paid invoice
type prorateInvoice struct {
	invoiceID string
	startAt   time.Time
	endAt     time.Time
	now       time.Time
}

type syncEntitlements struct {
	customerID string
	at         time.Time
}

type endDateEntitlements struct {
	phaseID string
	at      time.Time
}

func (subscriptionPatch) phaseEffect()   {}
func (phasePatch) phaseEffect()          {}
func (createInvoice) phaseEffect()       {}
func (prorateInvoice) phaseEffect()      {}
func (syncEntitlements) phaseEffect()    {}
func (endDateEntitlements) phaseEffect() {}

// PhaseDecision is the outcome of a transition: the next status and the
// writes that get there. Deciding never performs I/O.
type PhaseDecision struct {
	Next    types.PhaseStatus
	Effects []PhaseEffect
}

func (m *PhaseMachine) decide(s *PhaseSnapshot, cmd PhaseCommand) (PhaseDecision, error) {
	switch c := cmd.(type) {
	case ActivateCmd:
		return decideActivate(s, c.Now)
	case EndTrialCmd:
		return decideEndTrial(s, c.Now)
	case InvoiceCmd:
		return m.decideInvoice(s, c.Now)
	case ReportPaymentCmd:
		return decideReportPayment(s, c.Now)
	case RenewCmd:
		return decideRenew(s, c.Now)
	case terminationCommand:
		t, args := c.termination()
		return m.decideTermination(s, t, args)
	}
	return PhaseDecision{}, ierr.NewError("unknown phase command").
		WithHintf("Command %T is not supported", cmd).
		Mark(ierr.ErrSystem)
}

func unchanged(s *PhaseSnapshot) PhaseDecision {
	return PhaseDecision{Next: s.Phase.Status}
}

func trialOver(phase *subscription.Phase, now time.Time) bool {
	return phase.TrialEndsAt != nil && phase.TrialEndsAt.Before(now)
}

// nextInvoiceAt is when the cycle gets billed: at its start when paying in
// advance, at its end otherwise. Trials are never billed.
func nextInvoiceAt(phase *subscription.Phase, cycle billingcycle.Cycle) *time.Time {
	if cycle.IsTrial() {
		return nil
	}
	if phase.IsPayInAdvance() {
		return lo.ToPtr(cycle.Start)
	}
	return lo.ToPtr(cycle.End)
}

func refuse(msg, hint string, marks ...error) error {
	return ierr.NewError(msg).
		WithHint(hint).
		MarkAll(append(marks, ierr.ErrInvalidOperation)...)
}

func decideActivate(s *PhaseSnapshot, now time.Time) (PhaseDecision, error) {
	phase, sub := s.Phase, s.Subscription

	if phase.StartAt.After(now) {
		return PhaseDecision{}, refuse("phase has not started",
			"The phase can only be activated once its start date has passed")
	}
	if sub.IsCurrentPhase(phase.ID) && sub.Active {
		return unchanged(s), nil
	}

	trialDays := 0
	if phase.Status == types.PhaseStatusTrialing {
		trialDays = phase.TrialDays
	}
	cycle, err := billingcycle.Calculate(billingcycle.Input{
		CurrentCycleStartAt: phase.StartAt,
		Anchor:              phase.Anchor(),
		Period:              s.PlanVersion.BillingPeriod,
		TrialDays:           trialDays,
		EndAt:               phase.EndAt,
	})
	if err != nil {
		return PhaseDecision{}, err
	}

	phase.TrialEndsAt = cycle.TrialEndsAt
	phase.UpdatedAt = now

	sub.CurrentPhaseID = lo.ToPtr(phase.ID)
	sub.CurrentCycleStartAt = lo.ToPtr(cycle.Start)
	sub.CurrentCycleEndAt = lo.ToPtr(cycle.End)
	sub.PreviousCycleStartAt = nil
	sub.PreviousCycleEndAt = nil
	sub.NextInvoiceAt = nextInvoiceAt(&phase, cycle)
	sub.Status = types.SubscriptionStatusFromPhase(phase.Status)
	sub.Active = true
	sub.ChangeAt, sub.ExpireAt = nil, nil
	if phase.EndAt != nil {
		if s.Next != nil {
			sub.ChangeAt = phase.EndAt
		} else {
			sub.ExpireAt = phase.EndAt
		}
	}
	sub.UpdatedAt = now

	return PhaseDecision{
		Next: phase.Status,
		Effects: []PhaseEffect{
			subscriptionPatch{subscription: sub},
			phasePatch{phase: phase},
			syncEntitlements{customerID: sub.CustomerID, at: now},
		},
	}, nil
}

func decideEndTrial(s *PhaseSnapshot, now time.Time) (PhaseDecision, error) {
	phase, sub := s.Phase, s.Subscription

	if !trialOver(&phase, now) {
		return PhaseDecision{}, refuse("trial has not ended",
			"The trial can only end after its end date", ierr.ErrTrialNotEnded)
	}

	start := types.After(*phase.TrialEndsAt)
	anchor := billingcycle.AnchorFrom(start)
	cycle, err := billingcycle.Calculate(billingcycle.Input{
		CurrentCycleStartAt: start,
		Anchor:              anchor,
		Period:              s.PlanVersion.BillingPeriod,
		EndAt:               phase.EndAt,
	})
	if err != nil {
		return PhaseDecision{}, err
	}

	next := types.PhaseStatusActive
	if phase.IsPayInAdvance() {
		next = types.PhaseStatusTrialEnded
	}

	phase.Status = next
	phase.BillingAnchorDay = anchor.Day
	phase.BillingAnchorMonth = int(anchor.Month)
	phase.UpdatedAt = now

	sub.PreviousCycleStartAt = sub.CurrentCycleStartAt
	sub.PreviousCycleEndAt = sub.CurrentCycleEndAt
	sub.CurrentCycleStartAt = lo.ToPtr(cycle.Start)
	sub.CurrentCycleEndAt = lo.ToPtr(cycle.End)
	sub.NextInvoiceAt = nextInvoiceAt(&phase, cycle)
	sub.Status = types.SubscriptionStatusFromPhase(next)
	sub.UpdatedAt = now

	return PhaseDecision{
		Next: next,
		Effects: []PhaseEffect{
			subscriptionPatch{subscription: sub},
			phasePatch{phase: phase},
		},
	}, nil
}

func (m *PhaseMachine) decideInvoice(s *PhaseSnapshot, now time.Time) (PhaseDecision, error) {
	phase, sub := s.Phase, s.Subscription

	if sub.NextInvoiceAt == nil || sub.NextInvoiceAt.After(now) {
		return PhaseDecision{}, refuse("invoice is not due",
			"The current cycle is not due for invoicing yet", ierr.ErrInvoiceNotDue)
	}
	if sub.CurrentCycleStartAt == nil || sub.CurrentCycleEndAt == nil {
		return PhaseDecision{}, ierr.NewError("subscription has no current cycle").
			WithHintf("Subscription %s has no cycle to invoice", sub.ID).
			Mark(ierr.ErrInvariant)
	}

	start, end := *sub.CurrentCycleStartAt, *sub.CurrentCycleEndAt
	if sub.NextInvoiceAt.After(end) {
		return PhaseDecision{}, refuse("cycle is already invoiced",
			"The cycle has to renew before it can be invoiced again", ierr.ErrInvoiceNotDue)
	}
	inv := invoiceFor(s, m.Idempotency.InvoiceID(phase.ID, start, end), start, end, now)

	hasFlat, hasUsage := s.hasFeatureTypes()
	if phase.IsPayInAdvance() {
		// the previous window is billed for usage unless it was the trial
		wasTrial := phase.TrialEndsAt != nil && sub.PreviousCycleEndAt != nil &&
			sub.PreviousCycleEndAt.Equal(*phase.TrialEndsAt)
		if sub.PreviousCycleStartAt != nil && !wasTrial {
			inv.PreviousCycleStartAt = sub.PreviousCycleStartAt
			inv.PreviousCycleEndAt = sub.PreviousCycleEndAt
		}
		inv.DueAt = start
	} else {
		inv.DueAt = end
	}
	inv.Type = types.InvoiceTypeFor(hasFlat, hasUsage)
	inv.PastDueAt = phase.GraceEndsAt(inv.DueAt)

	sub.LastInvoiceAt = lo.ToPtr(now)
	sub.NextInvoiceAt = lo.ToPtr(types.After(end))
	sub.UpdatedAt = now

	return PhaseDecision{
		Next: phase.Status,
		Effects: []PhaseEffect{
			createInvoice{invoice: inv, now: now},
			subscriptionPatch{subscription: sub},
		},
	}, nil
}

func decideReportPayment(s *PhaseSnapshot, now time.Time) (PhaseDecision, error) {
	phase, sub := s.Phase, s.Subscription

	if phase.Status == types.PhaseStatusActive && sub.PastDueAt == nil {
		return unchanged(s), nil
	}

	phase.Status = types.PhaseStatusActive
	phase.UpdatedAt = now

	sub.Status = types.SubscriptionStatusActive
	sub.PastDueAt = nil
	sub.UpdatedAt = now

	return PhaseDecision{
		Next: types.PhaseStatusActive,
		Effects: []PhaseEffect{
			subscriptionPatch{subscription: sub},
			phasePatch{phase: phase},
		},
	}, nil
}

func decideRenew(s *PhaseSnapshot, now time.Time) (PhaseDecision, error) {
	phase, sub := s.Phase, s.Subscription

	if sub.CurrentCycleStartAt == nil || sub.CurrentCycleEndAt == nil {
		return PhaseDecision{}, ierr.NewError("subscription has no current cycle").
			WithHintf("Subscription %s has no cycle to renew", sub.ID).
			Mark(ierr.ErrInvariant)
	}
	current := billingcycle.Cycle{Start: *sub.CurrentCycleStartAt, End: *sub.CurrentCycleEndAt}

	if !now.After(current.End) {
		return unchanged(s), nil
	}
	if sub.NextInvoiceAt == nil || !sub.NextInvoiceAt.After(current.End) {
		return PhaseDecision{}, refuse("cycle is not invoiced",
			"The current cycle has to be invoiced before it renews")
	}
	if phase.EndAt != nil && !phase.EndAt.After(current.End) {
		return PhaseDecision{}, refuse("phase ends with the current cycle",
			"The phase ends before another cycle could start", ierr.ErrTerminationScheduled)
	}

	next, err := billingcycle.Next(current, phase.Anchor(), s.PlanVersion.BillingPeriod, phase.EndAt)
	if err != nil {
		return PhaseDecision{}, err
	}
	if t, at := sub.EarliestTermination(); at != nil && at.Before(next.End) {
		return PhaseDecision{}, ierr.NewError("termination scheduled").
			WithHintf("A %s is scheduled inside the next cycle", t).
			WithReportableDetails(map[string]any{
				"termination":  t,
				"scheduled_at": *at,
			}).
			MarkAll(ierr.ErrTerminationScheduled, ierr.ErrInvalidOperation)
	}

	sub.PreviousCycleStartAt = sub.CurrentCycleStartAt
	sub.PreviousCycleEndAt = sub.CurrentCycleEndAt
	sub.CurrentCycleStartAt = lo.ToPtr(next.Start)
	sub.CurrentCycleEndAt = lo.ToPtr(next.End)
	sub.NextInvoiceAt = nextInvoiceAt(&phase, next)
	sub.UpdatedAt = now

	return PhaseDecision{
		Next:    phase.Status,
		Effects: []PhaseEffect{subscriptionPatch{subscription: sub}},
	}, nil
}

func (m *PhaseMachine) decideTermination(s *PhaseSnapshot, t subscription.Termination, args terminationArgs) (PhaseDecision, error) {
	phase, sub := s.Phase, s.Subscription
	now := args.Now
	effectiveAt := args.effectiveAt()

	if effectiveAt.Before(phase.StartAt) {
		return PhaseDecision{}, refuse("termination before phase start",
			"The effective date must not be before the phase start date")
	}
	if t == subscription.TerminationChange && s.Next == nil {
		return PhaseDecision{}, refuse("no phase to change to",
			"Add the next phase before changing the subscription")
	}

	if effectiveAt.After(now) {
		sub.Schedule(t, lo.ToPtr(effectiveAt))
		sub.Metadata = sub.Metadata.Merge(args.Metadata)
		sub.UpdatedAt = now
		return PhaseDecision{
			Next:    phase.Status,
			Effects: []PhaseEffect{subscriptionPatch{subscription: sub}},
		}, nil
	}

	return m.endPhase(s, t, args, effectiveAt)
}

// endPhase ends the phase at effectiveAt: the unused part of a paid cycle is
// credited, the rest of the cycle is invoiced and entitlements are end dated
func (m *PhaseMachine) endPhase(s *PhaseSnapshot, t subscription.Termination, args terminationArgs, effectiveAt time.Time) (PhaseDecision, error) {
	phase, sub := s.Phase, s.Subscription
	now := args.Now
	status := t.PhaseStatus()
	trialing := phase.Status == types.PhaseStatusTrialing

	var effects []PhaseEffect

	cycleStart, cycleEnd := sub.CurrentCycleStartAt, sub.CurrentCycleEndAt
	if cycleStart != nil && cycleEnd != nil {
		if phase.IsPayInAdvance() && !trialing && sub.InCurrentCycle(effectiveAt) {
			effects = append(effects, prorateInvoice{
				invoiceID: m.Idempotency.InvoiceID(phase.ID, *cycleStart, *cycleEnd),
				startAt:   *cycleStart,
				endAt:     effectiveAt,
				now:       now,
			})
		}

		if !trialing && t != subscription.TerminationPastDue {
			if closing, ok := m.closingInvoice(s, effectiveAt, now); ok {
				effects = append(effects, createInvoice{invoice: closing, finalize: true, now: now})
			}
		}
	}

	effects = append(effects, endDateEntitlements{phaseID: phase.ID, at: effectiveAt})

	phase.Status = status
	phase.Active = false
	phase.EndAt = lo.ToPtr(effectiveAt)
	phase.UpdatedAt = now
	effects = append(effects, phasePatch{phase: phase})

	// a change hands over to the next phase, any other termination ends the
	// upcoming phases with this one
	for i, next := range s.Upcoming {
		if t == subscription.TerminationChange {
			if i > 0 {
				break
			}
			next.StartAt = types.After(effectiveAt)
		} else {
			next.Active = false
			next.Status = types.PhaseStatusCanceled
		}
		next.UpdatedAt = now
		effects = append(effects, phasePatch{phase: next})
	}

	sub.Status = types.SubscriptionStatusFromPhase(status)
	sub.Active = false
	sub.Schedule(t, nil)
	sub.NextInvoiceAt = nil
	sub.Metadata = sub.Metadata.
		Merge(types.Metadata{types.MetadataKeyReason: string(t)}).
		Merge(args.Metadata)
	sub.UpdatedAt = now
	effects = append(effects, subscriptionPatch{subscription: sub})

	return PhaseDecision{Next: status, Effects: effects}, nil
}

// closingInvoice bills what the phase has not invoiced yet up to effectiveAt.
// Pay in advance phases owe the usage of the current cycle, plus the flat
// charges of whatever runs past the cycle they paid for up front.
func (m *PhaseMachine) closingInvoice(s *PhaseSnapshot, effectiveAt, now time.Time) (invoice.Invoice, bool) {
	phase, sub := s.Phase, s.Subscription
	hasFlat, hasUsage := s.hasFeatureTypes()

	cycleStart, cycleEnd := *sub.CurrentCycleStartAt, *sub.CurrentCycleEndAt
	invoiced := sub.NextInvoiceAt != nil && sub.NextInvoiceAt.After(cycleEnd)

	start := cycleStart
	var paidStart, paidEnd *time.Time
	switch {
	case phase.IsPayInAdvance() && invoiced && effectiveAt.After(cycleEnd):
		// renewal was refused for the termination, the tail after the paid
		// cycle is billed here
		start = types.After(cycleEnd)
		paidStart, paidEnd = lo.ToPtr(cycleStart), lo.ToPtr(cycleEnd)
	case phase.IsPayInAdvance():
		if !hasUsage {
			return invoice.Invoice{}, false
		}
		hasFlat = false
	case invoiced:
		start = types.After(cycleEnd)
	}
	if start.After(effectiveAt) {
		return invoice.Invoice{}, false
	}

	inv := invoiceFor(s, m.Idempotency.ClosingInvoiceID(phase.ID, start, effectiveAt), start, effectiveAt, now)
	inv.PreviousCycleStartAt = paidStart
	inv.PreviousCycleEndAt = paidEnd
	inv.Closing = true
	inv.Type = types.InvoiceTypeFor(hasFlat, hasUsage)
	inv.DueAt = effectiveAt
	inv.PastDueAt = phase.GraceEndsAt(effectiveAt)
	return inv, true
}
