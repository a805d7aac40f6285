package stripe

import (
	"context"

	"github.com/flexprice/lifecycle/internal/domain/paymentprovider"
	"github.com/stripe/stripe-go/v82"
)

func (p *Provider) CreateInvoice(ctx context.Context, in paymentprovider.CreateInvoiceInput) (*paymentprovider.Invoice, error) {
	const op = "create_invoice"
	if err := p.wait(ctx, op); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceCreateParams{
		Customer:                    stripe.String(in.CustomerID),
		Currency:                    currency(in.Currency),
		Description:                 stripe.String(in.Description),
		CollectionMethod:            stripe.String(string(in.CollectionMethod)),
		AutoAdvance:                 stripe.Bool(false),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
	}
	if in.CollectionMethod == paymentprovider.CollectionMethodSendInvoice && in.DueAt != nil {
		params.DueDate = stripe.Int64(in.DueAt.Unix())
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	inv, err := p.client.V1Invoices.Create(ctx, params)
	if err != nil {
		return nil, wrapError(op, err)
	}

	p.logger.Infow("created stripe invoice",
		"stripe_invoice_id", inv.ID,
		"customer_id", in.CustomerID,
	)
	return toInvoice(inv, nil), nil
}

func (p *Provider) UpdateInvoice(ctx context.Context, invoiceID string, in paymentprovider.UpdateInvoiceInput) (*paymentprovider.Invoice, error) {
	const op = "update_invoice"
	if err := p.wait(ctx, op); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceUpdateParams{
		Description: stripe.String(in.Description),
	}
	if in.CollectionMethod != "" {
		params.CollectionMethod = stripe.String(string(in.CollectionMethod))
	}
	if in.CollectionMethod == paymentprovider.CollectionMethodSendInvoice && in.DueAt != nil {
		params.DueDate = stripe.Int64(in.DueAt.Unix())
	}

	inv, err := p.client.V1Invoices.Update(ctx, invoiceID, params)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return p.withItems(ctx, inv)
}

func (p *Provider) AddInvoiceItem(ctx context.Context, invoiceID string, in paymentprovider.InvoiceItemInput) (*paymentprovider.InvoiceItem, error) {
	const op = "add_invoice_item"
	if err := p.wait(ctx, op); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceItemCreateParams{
		Customer:    stripe.String(in.CustomerID),
		Invoice:     stripe.String(invoiceID),
		Currency:    currency(in.Currency),
		Description: stripe.String(in.Description),
		Amount:      stripe.Int64(toMinor(in.Amount, in.Currency)),
		Period: &stripe.InvoiceItemCreatePeriodParams{
			Start: stripe.Int64(in.PeriodStart.Unix()),
			End:   stripe.Int64(in.PeriodEnd.Unix()),
		},
	}
	params.AddMetadata(paymentprovider.MetadataItemKey, in.Key)
	// one item per key and invoice, a replayed call returns the first item
	params.SetIdempotencyKey(invoiceID + ":" + in.Key)

	item, err := p.client.V1InvoiceItems.Create(ctx, params)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return toInvoiceItem(item), nil
}

func (p *Provider) UpdateInvoiceItem(ctx context.Context, itemID string, in paymentprovider.InvoiceItemInput) (*paymentprovider.InvoiceItem, error) {
	const op = "update_invoice_item"
	if err := p.wait(ctx, op); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceItemUpdateParams{
		Description: stripe.String(in.Description),
		Amount:      stripe.Int64(toMinor(in.Amount, in.Currency)),
		Period: &stripe.InvoiceItemUpdatePeriodParams{
			Start: stripe.Int64(in.PeriodStart.Unix()),
			End:   stripe.Int64(in.PeriodEnd.Unix()),
		},
	}
	params.AddMetadata(paymentprovider.MetadataItemKey, in.Key)

	item, err := p.client.V1InvoiceItems.Update(ctx, itemID, params)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return toInvoiceItem(item), nil
}

func (p *Provider) FinalizeInvoice(ctx context.Context, invoiceID string) (*paymentprovider.Invoice, error) {
	const op = "finalize_invoice"
	if err := p.wait(ctx, op); err != nil {
		return nil, err
	}

	inv, err := p.client.V1Invoices.FinalizeInvoice(ctx, invoiceID, &stripe.InvoiceFinalizeInvoiceParams{
		AutoAdvance: stripe.Bool(false),
	})
	if err != nil {
		return nil, wrapError(op, err)
	}
	return p.withItems(ctx, inv)
}

func (p *Provider) SendInvoice(ctx context.Context, invoiceID string) (*paymentprovider.Invoice, error) {
	const op = "send_invoice"
	if err := p.wait(ctx, op); err != nil {
		return nil, err
	}

	inv, err := p.client.V1Invoices.SendInvoice(ctx, invoiceID, &stripe.InvoiceSendInvoiceParams{})
	if err != nil {
		return nil, wrapError(op, err)
	}
	return toInvoice(inv, nil), nil
}

func (p *Provider) GetStatusInvoice(ctx context.Context, invoiceID string) (paymentprovider.InvoiceStatus, error) {
	const op = "get_invoice_status"
	if err := p.wait(ctx, op); err != nil {
		return "", err
	}

	inv, err := p.client.V1Invoices.Retrieve(ctx, invoiceID, nil)
	if err != nil {
		return "", wrapError(op, err)
	}
	return paymentprovider.InvoiceStatus(inv.Status), nil
}

func (p *Provider) GetInvoice(ctx context.Context, invoiceID string) (*paymentprovider.Invoice, error) {
	const op = "get_invoice"
	if err := p.wait(ctx, op); err != nil {
		return nil, err
	}

	inv, err := p.client.V1Invoices.Retrieve(ctx, invoiceID, nil)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return p.withItems(ctx, inv)
}

// withItems loads the invoice items of inv. Line items do not carry the
// invoice item id that updates need.
func (p *Provider) withItems(ctx context.Context, inv *stripe.Invoice) (*paymentprovider.Invoice, error) {
	const op = "list_invoice_items"
	if err := p.wait(ctx, op); err != nil {
		return nil, err
	}

	var items []*stripe.InvoiceItem
	for item, err := range p.client.V1InvoiceItems.List(ctx, &stripe.InvoiceItemListParams{
		Invoice: stripe.String(inv.ID),
	}) {
		if err != nil {
			return nil, wrapError(op, err)
		}
		items = append(items, item)
	}
	return toInvoice(inv, items), nil
}
