package service

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/sentry"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// maxPhaseHops bounds how many phases one Process call walks through, e.g.
// a change followed by the activation of the next phase
const maxPhaseHops = 8

// DueSubscription identifies a subscription with work due
type DueSubscription struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
}

type ProcessResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Contended int `json:"contended"`
}

// SubscriptionProcessor applies every time driven transition that is due.
// Processing the same subscription twice at the same instant changes nothing
// the second time.
type SubscriptionProcessor interface {
	Process(ctx context.Context, subscriptionID string, now time.Time) error
	ProcessWithRetry(ctx context.Context, subscriptionID string, now time.Time) error
	ProcessDue(ctx context.Context, now time.Time) (*ProcessResult, error)
	ListDue(ctx context.Context, now time.Time, afterID string, limit int) ([]DueSubscription, error)
}

type subscriptionProcessor struct {
	ServiceParams
}

func NewSubscriptionProcessor(params ServiceParams) SubscriptionProcessor {
	return &subscriptionProcessor{ServiceParams: params}
}

func (p *subscriptionProcessor) ListDue(ctx context.Context, now time.Time, afterID string, limit int) ([]DueSubscription, error) {
	subs, err := p.SubRepo.ListDue(ctx, now, afterID, limit)
	if err != nil {
		return nil, err
	}
	return lo.Map(subs, func(s *subscription.Subscription, _ int) DueSubscription {
		return DueSubscription{ID: s.ID, TenantID: s.TenantID}
	}), nil
}

// ProcessDue pages through the due subscriptions and processes them with
// bounded concurrency. Failures are counted, not returned.
func (p *subscriptionProcessor) ProcessDue(ctx context.Context, now time.Time) (*ProcessResult, error) {
	var (
		mu      sync.Mutex
		result  = &ProcessResult{}
		afterID string
		batch   = p.Config.Billing.ScanBatchSize
	)

	for {
		due, err := p.ListDue(ctx, now, afterID, batch)
		if err != nil {
			return result, err
		}
		if len(due) == 0 {
			break
		}

		workers := pool.New().
			WithMaxGoroutines(p.Config.Billing.MaxConcurrency).
			WithContext(ctx)
		for _, d := range due {
			workers.Go(func(ctx context.Context) error {
				err := p.ProcessWithRetry(types.SetTenantID(ctx, d.TenantID), d.ID, now)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					result.Processed++
				case ierr.Is(err, ierr.ErrLockHeld):
					result.Contended++
				default:
					result.Failed++
					p.Logger.Errorw("failed to process subscription",
						"subscription_id", d.ID,
						"tenant_id", d.TenantID,
						"error", err,
					)
				}
				return nil
			})
		}
		_ = workers.Wait()

		if err := ctx.Err(); err != nil {
			return result, err
		}
		afterID = due[len(due)-1].ID
		if len(due) < batch {
			break
		}
	}

	p.Logger.Infow("processed due subscriptions",
		"processed", result.Processed,
		"failed", result.Failed,
		"contended", result.Contended,
	)
	return result, nil
}

// ProcessWithRetry retries Process with exponential backoff while it fails
// with a retryable error such as a held lock
func (p *subscriptionProcessor) ProcessWithRetry(ctx context.Context, subscriptionID string, now time.Time) error {
	if p.Config.Billing.LockRetryMaxElapsed <= 0 {
		return p.Process(ctx, subscriptionID, now)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = p.Config.Billing.LockRetryMaxElapsed

	return backoff.Retry(func() error {
		err := p.Process(ctx, subscriptionID, now)
		if err == nil || ierr.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

func (p *subscriptionProcessor) Process(ctx context.Context, subscriptionID string, now time.Time) error {
	started := time.Now()
	defer func() {
		p.Metrics.ObserveProcess(time.Since(started))
	}()

	span, ctx := p.Sentry.StartTransaction(ctx, "subscription.process")
	defer sentry.FinishSpan(span)

	if timeout := p.Config.Billing.ProcessTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := p.Logger.WithSubscription(subscriptionID)
	for hop := 0; hop < maxPhaseHops; hop++ {
		advanced, err := p.processPhase(ctx, subscriptionID, now, log)
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
	log.Warnw("stopped after too many phase hops", "hops", maxPhaseHops)
	return nil
}

// processPhase drives the phase the subscription is in. advanced is true when
// the phase ended and the subscription has to be looked at again.
func (p *subscriptionProcessor) processPhase(ctx context.Context, subscriptionID string, now time.Time, log *logger.Logger) (advanced bool, err error) {
	sub, err := p.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	if isClosed(sub) {
		return false, p.settleClosed(ctx, sub, now, log)
	}

	phase, err := p.targetPhase(ctx, sub, now)
	if ierr.IsNotFound(err) {
		log.Debugw("no phase to process", "at", now)
		return false, p.settleClosed(ctx, sub, now, log)
	}
	if err != nil {
		return false, err
	}

	machine, err := NewPhaseMachine(ctx, p.ServiceParams, sub.ID, phase.ID)
	if err != nil {
		return false, err
	}
	defer machine.Close()

	snapshot := machine.Snapshot()
	if !snapshot.Subscription.IsCurrentPhase(phase.ID) || !snapshot.Subscription.Active {
		if _, err := machine.Handle(ctx, ActivateCmd{Now: now}); err != nil {
			return false, err
		}
	}

	for cycle := 0; cycle <= p.Config.Billing.MaxCatchupCycles; cycle++ {
		if done, err := p.terminateIfDue(ctx, machine, now, false, log); err != nil || done {
			return done, err
		}

		if machine.State() == types.PhaseStatusTrialing {
			snapshot = machine.Snapshot()
			if !trialOver(&snapshot.Phase, now) {
				return false, nil
			}
			if _, err := machine.Handle(ctx, EndTrialCmd{Now: now}); err != nil {
				return false, err
			}
		}

		if err := p.invoiceIfDue(ctx, machine, now); err != nil {
			return false, err
		}
		if done, err := p.driveInvoices(ctx, machine, now, log); err != nil || done {
			return done, err
		}

		snapshot = machine.Snapshot()
		end := snapshot.Subscription.CurrentCycleEndAt
		if end == nil || !now.After(*end) || !machine.Can(EventRenew) {
			return false, nil
		}
		if _, err := machine.Handle(ctx, RenewCmd{Now: now}); err != nil {
			if ierr.Is(err, ierr.ErrTerminationScheduled) {
				return p.terminateIfDue(ctx, machine, now, true, log)
			}
			return false, err
		}
	}

	log.Warnw("catch up limit reached, remaining cycles are left for the next run",
		"max_catchup_cycles", p.Config.Billing.MaxCatchupCycles,
	)
	return false, nil
}

// targetPhase is the current phase while it is live, otherwise the active
// phase covering now
func (p *subscriptionProcessor) targetPhase(ctx context.Context, sub *subscription.Subscription, now time.Time) (*subscription.Phase, error) {
	if id := lo.FromPtr(sub.CurrentPhaseID); id != "" {
		phase, err := p.PhaseRepo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if phase.Active && !phase.Status.IsTerminal() {
			return phase, nil
		}
	}
	return p.PhaseRepo.GetActiveAt(ctx, sub.ID, now)
}

// terminateIfDue applies the earliest scheduled termination once it is due.
// Unless force is set a termination after the current cycle waits until the
// cycles before it are billed.
func (p *subscriptionProcessor) terminateIfDue(ctx context.Context, machine *PhaseMachine, now time.Time, force bool, log *logger.Logger) (bool, error) {
	snapshot := machine.Snapshot()
	t, at := snapshot.Subscription.EarliestTermination()
	if at == nil || at.After(now) {
		return false, nil
	}
	if end := snapshot.Subscription.CurrentCycleEndAt; !force && end != nil && at.After(*end) {
		return false, nil
	}

	cmd := TerminationCommand(t, now, *at, nil)
	if !machine.Can(cmd.Event()) {
		log.Warnw("due termination cannot be applied",
			"termination", t,
			"scheduled_at", *at,
			"status", machine.State(),
		)
		return false, nil
	}
	if _, err := machine.Handle(ctx, cmd); err != nil {
		return false, err
	}
	return true, nil
}

func (p *subscriptionProcessor) invoiceIfDue(ctx context.Context, machine *PhaseMachine, now time.Time) error {
	sub := machine.Snapshot().Subscription
	next, end := sub.NextInvoiceAt, sub.CurrentCycleEndAt
	if next == nil || next.After(now) || !machine.Can(EventInvoice) {
		return nil
	}
	// invoiced already, waiting for the cycle to renew
	if end != nil && next.After(*end) {
		return nil
	}
	_, err := machine.Handle(ctx, InvoiceCmd{Now: now})
	return err
}

// driveInvoices collects every open invoice of the subscription. A failed
// invoice moves the phase to past due, an unpaid one schedules it at the end
// of the grace period.
func (p *subscriptionProcessor) driveInvoices(ctx context.Context, machine *PhaseMachine, now time.Time, log *logger.Logger) (bool, error) {
	snapshot := machine.Snapshot()
	invoices, err := p.InvoiceRepo.ListBySubscription(ctx, snapshot.Subscription.ID, types.OpenInvoiceStatuses...)
	if err != nil {
		return false, err
	}

	for _, inv := range invoices {
		im, err := p.collect(ctx, inv, machine, now, log)
		if err != nil {
			return false, err
		}
		// only invoices of this phase can push it past due
		if im == nil || inv.PhaseID != snapshot.Phase.ID {
			continue
		}

		switch im.Status() {
		case types.InvoiceStatusFailed:
			if !machine.Can(EventPastDue) {
				continue
			}
			if _, err := machine.Handle(ctx, PastDueCmd{Now: now}); err != nil {
				return false, err
			}
			return true, nil

		case types.InvoiceStatusUnpaid, types.InvoiceStatusWaiting:
			sub := machine.Snapshot().Subscription
			if sub.PastDueAt != nil && !sub.PastDueAt.After(inv.PastDueAt) {
				continue
			}
			if !machine.Can(EventPastDue) {
				continue
			}
			if _, err := machine.Handle(ctx, PastDueCmd{Now: now, EffectiveAt: inv.PastDueAt}); err != nil {
				return false, err
			}
			if machine.State().IsTerminal() {
				return true, nil
			}
		}
	}
	return false, nil
}

// settleClosed keeps collecting the open invoices of a subscription without
// a live phase, e.g. the closing invoice of a cancellation
func (p *subscriptionProcessor) settleClosed(ctx context.Context, sub *subscription.Subscription, now time.Time, log *logger.Logger) error {
	invoices, err := p.InvoiceRepo.ListBySubscription(ctx, sub.ID, types.OpenInvoiceStatuses...)
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		return nil
	}

	release, err := p.Locker.TryLock(ctx, postgres.SubscriptionLockKey(sub.ID))
	if err != nil {
		if ierr.Is(err, ierr.ErrLockHeld) {
			p.Metrics.LockContended()
		}
		return err
	}
	defer release()

	for _, inv := range invoices {
		if _, err := p.collect(ctx, inv, nil, now, log); err != nil {
			return err
		}
	}
	return nil
}

// collect runs one collection attempt. It returns nil without error when the
// invoice is not due yet or the attempt failed for good.
func (p *subscriptionProcessor) collect(ctx context.Context, inv *invoice.Invoice, machine *PhaseMachine, now time.Time, log *logger.Logger) (*InvoiceMachine, error) {
	var reporter PaymentReporter
	if machine != nil {
		reporter = machine
	}

	im := NewInvoiceMachine(p.ServiceParams, inv, reporter)
	err := im.CollectPayment(ctx, CollectPaymentCmd{Now: now, AutoFinalize: true})
	switch {
	case err == nil:
		return im, nil
	case ierr.Is(err, ierr.ErrInvoiceNotDue):
		return nil, nil
	case ierr.IsRetryable(err):
		return nil, err
	}

	log.Warnw("invoice collection failed",
		"invoice_id", inv.ID,
		"status", im.Status(),
		"error", err,
	)
	return im, nil
}
