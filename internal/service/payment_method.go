package service

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/customer"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/samber/lo"
)

// resolvePaymentMethod picks the phase payment method, then the customer
// default, then the default stored on the payment provider
func (p ServiceParams) resolvePaymentMethod(ctx context.Context, phase *subscription.Phase, cust *customer.Customer) (string, error) {
	if id := lo.FromPtr(phase.PaymentMethodID); id != "" {
		return id, nil
	}
	if id := lo.FromPtr(cust.DefaultPaymentMethodID); id != "" {
		return id, nil
	}
	if !cust.HasProviderAccount() {
		return "", errPaymentMethodRequired(cust.ID, nil)
	}

	id, err := p.Provider.GetDefaultPaymentMethodID(ctx, lo.FromPtr(cust.PaymentProviderCustomerID))
	if err != nil {
		if ierr.IsRetryable(err) {
			return "", err
		}
		return "", errPaymentMethodRequired(cust.ID, err)
	}
	if id == "" {
		return "", errPaymentMethodRequired(cust.ID, nil)
	}
	return id, nil
}

func errPaymentMethodRequired(customerID string, cause error) error {
	builder := ierr.NewError("payment method required")
	if cause != nil {
		builder = ierr.WithError(cause)
	}
	return builder.
		WithHint("Add a payment method for the customer before continuing").
		WithReportableDetails(map[string]any{"customer_id": customerID}).
		MarkAll(ierr.ErrPaymentMethodRequired, ierr.ErrInvalidOperation)
}
