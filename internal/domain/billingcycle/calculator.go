// Package billingcycle computes billing cycle windows and proration factors.
// Every function here is pure: the same input always yields the same cycle.
package billingcycle

import (
	"time"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/shopspring/decimal"
)

// Anchor pins cycle boundaries. Monthly cycles use Day only, yearly cycles
// use Month and Day. Days beyond the month's length collapse to its last day.
type Anchor struct {
	Day   int
	Month time.Month
}

// AnchorFrom derives the anchor that makes t a cycle boundary
func AnchorFrom(t time.Time) Anchor {
	t = t.UTC()
	return Anchor{Day: t.Day(), Month: t.Month()}
}

// Input describes the cycle to compute
type Input struct {
	CurrentCycleStartAt time.Time
	Anchor              Anchor
	Period              types.BillingPeriod
	TrialDays           int
	// EndAt clips the cycle, usually the phase end
	EndAt *time.Time
}

// Cycle is an inclusive [Start, End] window. End is one millisecond before the
// next cycle starts.
type Cycle struct {
	Start           time.Time
	End             time.Time
	SecondsInCycle  int64
	BillableSeconds int64
	// ProrationFactor is BillableSeconds / SecondsInCycle, always within [0,1]
	ProrationFactor decimal.Decimal
	TrialEndsAt     *time.Time
}

// IsTrial reports whether the cycle is a trial window
func (c Cycle) IsTrial() bool {
	return c.TrialEndsAt != nil
}

// Contains reports whether t falls inside the cycle
func (c Cycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && !t.After(c.End)
}

// Calculate computes the cycle that starts at in.CurrentCycleStartAt
func Calculate(in Input) (Cycle, error) {
	if err := in.validate(); err != nil {
		return Cycle{}, err
	}

	start := in.CurrentCycleStartAt.UTC()

	if in.TrialDays > 0 {
		trialEndsAt := types.EndOf(start.AddDate(0, 0, in.TrialDays))
		end := types.MinTime(trialEndsAt, in.EndAt)
		return Cycle{
			Start:           start,
			End:             end,
			SecondsInCycle:  seconds(start, trialEndsAt),
			BillableSeconds: 0,
			ProrationFactor: decimal.Zero,
			TrialEndsAt:     &trialEndsAt,
		}, nil
	}

	prev, next := anchorsAround(start, in.Anchor, in.Period)
	end := types.MinTime(types.EndOf(next), in.EndAt)

	secondsInCycle := int64(next.Sub(prev) / time.Second)
	billable := seconds(start, end)

	return Cycle{
		Start:           start,
		End:             end,
		SecondsInCycle:  secondsInCycle,
		BillableSeconds: billable,
		ProrationFactor: factor(billable, secondsInCycle),
	}, nil
}

// Next computes the cycle following c
func Next(c Cycle, anchor Anchor, period types.BillingPeriod, endAt *time.Time) (Cycle, error) {
	return Calculate(Input{
		CurrentCycleStartAt: types.After(c.End),
		Anchor:              anchor,
		Period:              period,
		EndAt:               endAt,
	})
}

// anchorsAround returns the anchor dates surrounding t, prev <= t < next
func anchorsAround(t time.Time, anchor Anchor, period types.BillingPeriod) (time.Time, time.Time) {
	y, m, _ := t.Date()

	if period == types.BillingPeriodYear {
		candidate := types.ClampedDate(y, anchor.Month, anchor.Day)
		if candidate.After(t) {
			return types.ClampedDate(y-1, anchor.Month, anchor.Day), candidate
		}
		return candidate, types.ClampedDate(y+1, anchor.Month, anchor.Day)
	}

	candidate := types.ClampedDate(y, m, anchor.Day)
	if candidate.After(t) {
		return types.ClampedDate(y, m-1, anchor.Day), candidate
	}
	return candidate, types.ClampedDate(y, m+1, anchor.Day)
}

// seconds counts whole seconds in the inclusive window, never negative
func seconds(start, end time.Time) int64 {
	d := end.Sub(start) + types.TimeUnit
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

func factor(billable, total int64) decimal.Decimal {
	if total <= 0 || billable <= 0 {
		return decimal.Zero
	}
	if billable >= total {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(billable).Div(decimal.NewFromInt(total))
}

func (in Input) validate() error {
	if in.CurrentCycleStartAt.IsZero() {
		return ierr.NewError("cycle start is required").
			WithHint("A billing cycle needs a start date").
			Mark(ierr.ErrValidation)
	}
	if in.TrialDays < 0 {
		return ierr.NewError("trial days cannot be negative").
			WithHint("Trial days cannot be negative").
			WithReportableDetails(map[string]any{"trial_days": in.TrialDays}).
			Mark(ierr.ErrValidation)
	}
	if in.EndAt != nil && in.EndAt.Before(in.CurrentCycleStartAt) {
		return ierr.NewError("cycle end is before its start").
			WithHint("The end date cannot be before the cycle start").
			WithReportableDetails(map[string]any{
				"start_at": in.CurrentCycleStartAt,
				"end_at":   *in.EndAt,
			}).
			Mark(ierr.ErrValidation)
	}
	if in.TrialDays > 0 {
		return nil
	}
	if err := in.Period.Validate(); err != nil {
		return err
	}
	if in.Anchor.Day < 1 || in.Anchor.Day > 31 {
		return ierr.NewError("invalid billing anchor day").
			WithHint("Billing anchor day must be between 1 and 31").
			WithReportableDetails(map[string]any{"anchor_day": in.Anchor.Day}).
			Mark(ierr.ErrValidation)
	}
	if in.Period == types.BillingPeriodYear && (in.Anchor.Month < time.January || in.Anchor.Month > time.December) {
		return ierr.NewError("invalid billing anchor month").
			WithHint("Billing anchor month must be between 1 and 12").
			WithReportableDetails(map[string]any{"anchor_month": int(in.Anchor.Month)}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
