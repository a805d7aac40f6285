package subscription

import (
	"time"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// Subscription is the single billing relationship of a customer. Cycle and
// invoice dates mirror the current phase, scheduled dates are nil until a
// termination is requested for the future.
type Subscription struct {
	ID             string                   `db:"id" json:"id"`
	CustomerID     string                   `db:"customer_id" json:"customer_id"`
	ProjectID      string                   `db:"project_id" json:"project_id"`
	Status         types.SubscriptionStatus `db:"status" json:"status"`
	Active         bool                     `db:"active" json:"active"`
	CurrentPhaseID *string                  `db:"current_phase_id" json:"current_phase_id,omitempty"`

	CurrentCycleStartAt  *time.Time `db:"current_cycle_start_at" json:"current_cycle_start_at,omitempty"`
	CurrentCycleEndAt    *time.Time `db:"current_cycle_end_at" json:"current_cycle_end_at,omitempty"`
	PreviousCycleStartAt *time.Time `db:"previous_cycle_start_at" json:"previous_cycle_start_at,omitempty"`
	PreviousCycleEndAt   *time.Time `db:"previous_cycle_end_at" json:"previous_cycle_end_at,omitempty"`
	NextInvoiceAt        *time.Time `db:"next_invoice_at" json:"next_invoice_at,omitempty"`
	LastInvoiceAt        *time.Time `db:"last_invoice_at" json:"last_invoice_at,omitempty"`

	PastDueAt *time.Time `db:"past_due_at" json:"past_due_at,omitempty"`
	CancelAt  *time.Time `db:"cancel_at" json:"cancel_at,omitempty"`
	ChangeAt  *time.Time `db:"change_at" json:"change_at,omitempty"`
	ExpireAt  *time.Time `db:"expire_at" json:"expire_at,omitempty"`

	Metadata types.Metadata `db:"metadata" json:"metadata,omitempty"`

	types.BaseModel
}

// Termination identifies one of the scheduled end dates of a subscription
type Termination string

const (
	TerminationPastDue Termination = "past_due"
	TerminationCancel  Termination = "cancel"
	TerminationChange  Termination = "change"
	TerminationExpire  Termination = "expire"
)

// Terminations lists the scheduled dates in the order the processor applies them
var Terminations = []Termination{
	TerminationPastDue,
	TerminationCancel,
	TerminationChange,
	TerminationExpire,
}

// PhaseStatus is the terminal phase status a termination ends in
func (t Termination) PhaseStatus() types.PhaseStatus {
	switch t {
	case TerminationPastDue:
		return types.PhaseStatusPastDued
	case TerminationChange:
		return types.PhaseStatusChanged
	case TerminationExpire:
		return types.PhaseStatusExpired
	default:
		return types.PhaseStatusCanceled
	}
}

// ScheduledAt returns the scheduled date for t, nil when none is set
func (s *Subscription) ScheduledAt(t Termination) *time.Time {
	switch t {
	case TerminationPastDue:
		return s.PastDueAt
	case TerminationCancel:
		return s.CancelAt
	case TerminationChange:
		return s.ChangeAt
	case TerminationExpire:
		return s.ExpireAt
	}
	return nil
}

// Schedule sets the scheduled date for t, nil clears it
func (s *Subscription) Schedule(t Termination, at *time.Time) {
	switch t {
	case TerminationPastDue:
		s.PastDueAt = at
	case TerminationCancel:
		s.CancelAt = at
	case TerminationChange:
		s.ChangeAt = at
	case TerminationExpire:
		s.ExpireAt = at
	}
}

// EarliestTermination returns the first scheduled end date, if any
func (s *Subscription) EarliestTermination() (Termination, *time.Time) {
	var (
		first Termination
		at    *time.Time
	)
	for _, t := range Terminations {
		scheduled := s.ScheduledAt(t)
		if scheduled == nil {
			continue
		}
		if at == nil || scheduled.Before(*at) {
			first, at = t, scheduled
		}
	}
	return first, at
}

// IsCurrentPhase reports whether phaseID is the phase the subscription bills
func (s *Subscription) IsCurrentPhase(phaseID string) bool {
	return lo.FromPtr(s.CurrentPhaseID) == phaseID
}

// InCurrentCycle reports whether t falls inside the current billing cycle
func (s *Subscription) InCurrentCycle(t time.Time) bool {
	if s.CurrentCycleStartAt == nil || s.CurrentCycleEndAt == nil {
		return false
	}
	return !t.Before(*s.CurrentCycleStartAt) && !t.After(*s.CurrentCycleEndAt)
}

func (s *Subscription) Validate() error {
	if s.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Please provide a customer for the subscription").
			Mark(ierr.ErrValidation)
	}
	if s.ProjectID == "" {
		return ierr.NewError("project_id is required").
			WithHint("Please provide a project for the subscription").
			Mark(ierr.ErrValidation)
	}
	return nil
}
