package service

import (
	"time"

	"github.com/flexprice/lifecycle/internal/domain/subscription"
	"github.com/flexprice/lifecycle/internal/statemachine"
	"github.com/flexprice/lifecycle/internal/types"
)

const (
	EventActivate      statemachine.Event = "ACTIVATE"
	EventEndTrial      statemachine.Event = "END_TRIAL"
	EventInvoice       statemachine.Event = "INVOICE"
	EventReportPayment statemachine.Event = "REPORT_PAYMENT"
	EventRenew         statemachine.Event = "RENEW"
	EventCancel        statemachine.Event = "CANCEL"
	EventChange        statemachine.Event = "CHANGE"
	EventExpire        statemachine.Event = "EXPIRE"
	EventPastDue       statemachine.Event = "PAST_DUE"
)

// PhaseCommand is one of the commands accepted by the phase machine
type PhaseCommand interface {
	statemachine.Command
	phaseCommand()
}

// ActivateCmd makes the phase the current phase of its subscription
type ActivateCmd struct {
	Now time.Time
}

type EndTrialCmd struct {
	Now time.Time
}

// InvoiceCmd creates the invoice of the cycle being billed
type InvoiceCmd struct {
	Now time.Time
}

type ReportPaymentCmd struct {
	Now       time.Time
	InvoiceID string
}

type RenewCmd struct {
	Now time.Time
}

// CancelCmd ends the phase at EffectiveAt. A zero EffectiveAt means now, a
// future one only schedules the cancellation.
type CancelCmd struct {
	Now         time.Time
	EffectiveAt time.Time
	Metadata    types.Metadata
}

// ChangeCmd ends the phase so that the next phase takes over
type ChangeCmd struct {
	Now         time.Time
	EffectiveAt time.Time
	Metadata    types.Metadata
}

type ExpireCmd struct {
	Now         time.Time
	EffectiveAt time.Time
	Metadata    types.Metadata
}

type PastDueCmd struct {
	Now         time.Time
	EffectiveAt time.Time
	Metadata    types.Metadata
}

func (ActivateCmd) Event() statemachine.Event      { return EventActivate }
func (EndTrialCmd) Event() statemachine.Event      { return EventEndTrial }
func (InvoiceCmd) Event() statemachine.Event       { return EventInvoice }
func (ReportPaymentCmd) Event() statemachine.Event { return EventReportPayment }
func (RenewCmd) Event() statemachine.Event         { return EventRenew }
func (CancelCmd) Event() statemachine.Event        { return EventCancel }
func (ChangeCmd) Event() statemachine.Event        { return EventChange }
func (ExpireCmd) Event() statemachine.Event        { return EventExpire }
func (PastDueCmd) Event() statemachine.Event       { return EventPastDue }

func (ActivateCmd) phaseCommand()      {}
func (EndTrialCmd) phaseCommand()      {}
func (InvoiceCmd) phaseCommand()       {}
func (ReportPaymentCmd) phaseCommand() {}
func (RenewCmd) phaseCommand()         {}
func (CancelCmd) phaseCommand()        {}
func (ChangeCmd) phaseCommand()        {}
func (ExpireCmd) phaseCommand()        {}
func (PastDueCmd) phaseCommand()       {}

type terminationArgs struct {
	Now         time.Time
	EffectiveAt time.Time
	Metadata    types.Metadata
}

// effectiveAt defaults a zero EffectiveAt to now
func (a terminationArgs) effectiveAt() time.Time {
	if a.EffectiveAt.IsZero() {
		return a.Now.UTC()
	}
	return a.EffectiveAt.UTC()
}

// terminationCommand is implemented by the commands that end a phase
type terminationCommand interface {
	PhaseCommand
	termination() (subscription.Termination, terminationArgs)
}

func (c CancelCmd) termination() (subscription.Termination, terminationArgs) {
	return subscription.TerminationCancel, terminationArgs(c)
}

func (c ChangeCmd) termination() (subscription.Termination, terminationArgs) {
	return subscription.TerminationChange, terminationArgs(c)
}

func (c ExpireCmd) termination() (subscription.Termination, terminationArgs) {
	return subscription.TerminationExpire, terminationArgs(c)
}

func (c PastDueCmd) termination() (subscription.Termination, terminationArgs) {
	return subscription.TerminationPastDue, terminationArgs(c)
}

// TerminationCommand builds the command that applies t at effectiveAt
func TerminationCommand(t subscription.Termination, now, effectiveAt time.Time, metadata types.Metadata) PhaseCommand {
	switch t {
	case subscription.TerminationPastDue:
		return PastDueCmd{Now: now, EffectiveAt: effectiveAt, Metadata: metadata}
	case subscription.TerminationChange:
		return ChangeCmd{Now: now, EffectiveAt: effectiveAt, Metadata: metadata}
	case subscription.TerminationExpire:
		return ExpireCmd{Now: now, EffectiveAt: effectiveAt, Metadata: metadata}
	default:
		return CancelCmd{Now: now, EffectiveAt: effectiveAt, Metadata: metadata}
	}
}
