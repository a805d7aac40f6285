package types

import (
	"database/sql/driver"
	"fmt"
	"time"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

// InvoiceStatus is the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusUnpaid  InvoiceStatus = "unpaid"
	InvoiceStatusWaiting InvoiceStatus = "waiting"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusVoid    InvoiceStatus = "void"
	InvoiceStatusFailed  InvoiceStatus = "failed"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

// IsFinalized reports whether the invoice left the draft state
func (s InvoiceStatus) IsFinalized() bool {
	return s != InvoiceStatusDraft
}

// IsOpen reports whether the invoice still needs work from the engine
func (s InvoiceStatus) IsOpen() bool {
	return lo.Contains([]InvoiceStatus{
		InvoiceStatusDraft,
		InvoiceStatusUnpaid,
		InvoiceStatusWaiting,
	}, s)
}

func (s InvoiceStatus) Validate() error {
	allowed := []InvoiceStatus{
		InvoiceStatusDraft,
		InvoiceStatusUnpaid,
		InvoiceStatusWaiting,
		InvoiceStatusPaid,
		InvoiceStatusVoid,
		InvoiceStatusFailed,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid invoice status").
			WithHint("Invalid invoice status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// OpenInvoiceStatuses lists the statuses the processor keeps driving
var OpenInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft,
	InvoiceStatusUnpaid,
	InvoiceStatusWaiting,
}

// InvoiceType describes which kinds of charges an invoice carries
type InvoiceType string

const (
	InvoiceTypeFlat   InvoiceType = "flat"
	InvoiceTypeUsage  InvoiceType = "usage"
	InvoiceTypeHybrid InvoiceType = "hybrid"
)

// InvoiceTypeFor derives the invoice type from the kinds of billable features
func InvoiceTypeFor(hasFlat, hasUsage bool) InvoiceType {
	switch {
	case hasFlat && hasUsage:
		return InvoiceTypeHybrid
	case hasUsage:
		return InvoiceTypeUsage
	default:
		return InvoiceTypeFlat
	}
}

// PaymentAttemptStatus is the outcome of a single collection attempt
type PaymentAttemptStatus string

const (
	PaymentAttemptStatusPaid    PaymentAttemptStatus = "paid"
	PaymentAttemptStatusFailed  PaymentAttemptStatus = "failed"
	PaymentAttemptStatusWaiting PaymentAttemptStatus = "waiting"
)

// PaymentAttempt records one collection attempt against the provider
type PaymentAttempt struct {
	Status PaymentAttemptStatus `json:"status"`
	At     time.Time            `json:"at"`
}

// PaymentAttempts is stored as a JSONB array, ordered by attempt time
type PaymentAttempts []PaymentAttempt

// Failed counts the failed attempts
func (p PaymentAttempts) Failed() int {
	return lo.CountBy(p, func(a PaymentAttempt) bool {
		return a.Status == PaymentAttemptStatusFailed
	})
}

// Append returns a new slice with the attempt added
func (p PaymentAttempts) Append(status PaymentAttemptStatus, at time.Time) PaymentAttempts {
	out := make(PaymentAttempts, 0, len(p)+1)
	out = append(out, p...)
	return append(out, PaymentAttempt{Status: status, At: at.UTC()})
}

// Scan implements the sql.Scanner interface for PaymentAttempts
func (p *PaymentAttempts) Scan(value interface{}) error {
	if value == nil {
		*p = PaymentAttempts{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal JSONB value: %v", value)
	}

	var result PaymentAttempts
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(bytes, &result); err != nil {
		return err
	}
	*p = result
	return nil
}

// Value implements the driver.Valuer interface for PaymentAttempts
func (p PaymentAttempts) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(p)
}
