package paymentprovider

import "fmt"

// Error is a failed provider call. Retry tells the caller whether the same
// call may succeed later.
type Error struct {
	Op    string
	Err   error
	Retry bool
	// Declined is set when the payment method refused the charge
	Declined bool
}

func NewError(op string, err error, retry bool) *Error {
	return &Error{Op: op, Err: err, Retry: retry}
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable is picked up by ierr.IsRetryable
func (e *Error) Retryable() bool {
	return e.Retry
}
