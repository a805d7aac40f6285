package stripe

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/paymentprovider"
	"github.com/stripe/stripe-go/v82"
)

func (p *Provider) CollectPayment(ctx context.Context, invoiceID, paymentMethodID string) (*paymentprovider.Invoice, error) {
	const op = "collect_payment"
	if err := p.wait(ctx, op); err != nil {
		return nil, err
	}

	params := &stripe.InvoicePayParams{
		OffSession: stripe.Bool(true),
	}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}

	inv, err := p.client.V1Invoices.Pay(ctx, invoiceID, params)
	if err != nil {
		p.logger.Warnw("stripe payment failed",
			"stripe_invoice_id", invoiceID,
			"error", err,
		)
		return nil, wrapError(op, err)
	}

	p.logger.Infow("collected stripe payment",
		"stripe_invoice_id", invoiceID,
		"status", inv.Status,
	)
	return toInvoice(inv, nil), nil
}

func (p *Provider) GetDefaultPaymentMethodID(ctx context.Context, customerID string) (string, error) {
	const op = "get_default_payment_method"
	if err := p.wait(ctx, op); err != nil {
		return "", err
	}

	cust, err := p.client.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		return "", wrapError(op, err)
	}
	if cust.InvoiceSettings == nil || cust.InvoiceSettings.DefaultPaymentMethod == nil {
		return "", nil
	}
	return cust.InvoiceSettings.DefaultPaymentMethod.ID, nil
}
