package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrVersionConflict  = new(ErrCodeVersionConflict, "version conflict")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")
	ErrHTTPClient       = new(ErrCodeHTTPClient, "http client error")

	// ErrRetryable marks transient failures. Callers retry these later with backoff.
	ErrRetryable = new(ErrCodeRetryable, "retryable error")
	// ErrInvariant marks states that must never happen. The enclosing transaction is aborted.
	ErrInvariant = new(ErrCodeInvariant, "invariant violation")

	// lifecycle business rules, always marked together with ErrInvalidOperation
	ErrInvalidTransition     = new(ErrCodeInvalidTransition, "invalid transition")
	ErrTrialNotEnded         = new(ErrCodeTrialNotEnded, "trial not ended")
	ErrPaymentMethodRequired = new(ErrCodePaymentMethodRequired, "payment method required")
	ErrPhaseOverlap          = new(ErrCodePhaseOverlap, "overlapping phases")
	ErrTerminationScheduled  = new(ErrCodeTerminationScheduled, "termination scheduled")
	ErrInvoiceNotDue         = new(ErrCodeInvoiceNotDue, "invoice not due")

	// ErrLockHeld is returned when another worker owns the subscription lock
	ErrLockHeld = new(ErrCodeLockHeld, "subscription is being processed by another worker")
)

const (
	ErrCodeHTTPClient            = "http_client_error"
	ErrCodeSystemError           = "system_error"
	ErrCodeNotFound              = "not_found"
	ErrCodeAlreadyExists         = "already_exists"
	ErrCodeVersionConflict       = "version_conflict"
	ErrCodeValidation            = "validation_error"
	ErrCodeInvalidOperation      = "invalid_operation"
	ErrCodeDatabase              = "database_error"
	ErrCodeRetryable             = "retryable"
	ErrCodeInvariant             = "invariant_violation"
	ErrCodeInvalidTransition     = "invalid_transition"
	ErrCodeTrialNotEnded         = "trial_not_ended"
	ErrCodePaymentMethodRequired = "payment_method_required"
	ErrCodePhaseOverlap          = "phase_overlap"
	ErrCodeTerminationScheduled  = "termination_scheduled"
	ErrCodeInvoiceNotDue         = "invoice_not_due"
	ErrCodeLockHeld              = "lock_held"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// New creates a new InternalError
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionConflict checks if an error is a version conflict error
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsRetryable reports whether the caller may retry the operation later.
// Errors implementing Retryable() bool are honoured as well.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetryable) {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// IsInvariant checks if an error is an invariant violation
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}

// IsHTTPClient checks if an error is an http client error
func IsHTTPClient(err error) bool {
	return errors.Is(err, ErrHTTPClient)
}
