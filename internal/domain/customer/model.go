package customer

import (
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/samber/lo"
)

// Customer is the billed party of a subscription
type Customer struct {
	ID                        string  `db:"id" json:"id"`
	ProjectID                 string  `db:"project_id" json:"project_id"`
	Email                     string  `db:"email" json:"email"`
	Currency                  string  `db:"currency" json:"currency"`
	PaymentProviderCustomerID *string `db:"payment_provider_customer_id" json:"payment_provider_customer_id,omitempty"`
	DefaultPaymentMethodID    *string `db:"default_payment_method_id" json:"default_payment_method_id,omitempty"`

	types.BaseModel
}

// HasProviderAccount reports whether the customer exists on the payment provider
func (c *Customer) HasProviderAccount() bool {
	return lo.FromPtr(c.PaymentProviderCustomerID) != ""
}
