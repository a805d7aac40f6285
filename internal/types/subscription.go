package types

import (
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/samber/lo"
)

// PhaseStatus is the lifecycle status of a subscription phase
type PhaseStatus string

const (
	PhaseStatusTrialing   PhaseStatus = "trialing"
	PhaseStatusTrialEnded PhaseStatus = "trial_ended"
	PhaseStatusActive     PhaseStatus = "active"
	PhaseStatusPastDued   PhaseStatus = "past_dued"
	PhaseStatusCanceled   PhaseStatus = "canceled"
	PhaseStatusChanged    PhaseStatus = "changed"
	PhaseStatusExpired    PhaseStatus = "expired"
)

func (s PhaseStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the phase can no longer transition
func (s PhaseStatus) IsTerminal() bool {
	return lo.Contains([]PhaseStatus{
		PhaseStatusPastDued,
		PhaseStatusCanceled,
		PhaseStatusChanged,
		PhaseStatusExpired,
	}, s)
}

func (s PhaseStatus) Validate() error {
	allowed := []PhaseStatus{
		PhaseStatusTrialing,
		PhaseStatusTrialEnded,
		PhaseStatusActive,
		PhaseStatusPastDued,
		PhaseStatusCanceled,
		PhaseStatusChanged,
		PhaseStatusExpired,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid phase status").
			WithHint("Invalid phase status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriptionStatus mirrors the status of the current phase. A subscription
// stays pending until its first phase is activated.
type SubscriptionStatus string

const (
	SubscriptionStatusPending    SubscriptionStatus = "pending"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusTrialEnded SubscriptionStatus = "trial_ended"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDued   SubscriptionStatus = "past_dued"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusChanged    SubscriptionStatus = "changed"
	SubscriptionStatusExpired    SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

// SubscriptionStatusFromPhase maps a phase status onto the subscription
func SubscriptionStatusFromPhase(s PhaseStatus) SubscriptionStatus {
	return SubscriptionStatus(s)
}

// WhenToBill decides whether flat charges are billed at the start or the end of a cycle
type WhenToBill string

const (
	WhenToBillPayInAdvance WhenToBill = "pay_in_advance"
	WhenToBillPayInArrear  WhenToBill = "pay_in_arrear"
)

func (w WhenToBill) String() string {
	return string(w)
}

func (w WhenToBill) Validate() error {
	allowed := []WhenToBill{
		WhenToBillPayInAdvance,
		WhenToBillPayInArrear,
	}
	if !lo.Contains(allowed, w) {
		return ierr.NewError("invalid when to bill").
			WithHint("When to bill must be pay_in_advance or pay_in_arrear").
			WithReportableDetails(map[string]any{
				"when_to_bill": w,
				"allowed":      allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CollectionMethod determines how invoices are collected
type CollectionMethod string

const (
	// charge_automatically charges the default payment method on finalization
	CollectionMethodChargeAutomatically CollectionMethod = "charge_automatically"
	// send_invoice emails the invoice and waits for the customer to pay it
	CollectionMethodSendInvoice CollectionMethod = "send_invoice"
)

func (c CollectionMethod) String() string {
	return string(c)
}

func (c CollectionMethod) Validate() error {
	allowed := []CollectionMethod{
		CollectionMethodChargeAutomatically,
		CollectionMethodSendInvoice,
	}
	if !lo.Contains(allowed, c) {
		return ierr.NewError("invalid collection method").
			WithHint("Invalid collection method").
			WithReportableDetails(map[string]any{
				"collection_method": c,
				"allowed":           allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// BillingPeriod is the length of one billing cycle
type BillingPeriod string

const (
	BillingPeriodMonth BillingPeriod = "month"
	BillingPeriodYear  BillingPeriod = "year"
)

func (b BillingPeriod) String() string {
	return string(b)
}

func (b BillingPeriod) Validate() error {
	allowed := []BillingPeriod{
		BillingPeriodMonth,
		BillingPeriodYear,
	}
	if !lo.Contains(allowed, b) {
		return ierr.NewError("invalid billing period").
			WithHint("Billing period must be month or year").
			WithReportableDetails(map[string]any{
				"billing_period": b,
				"allowed":        allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
