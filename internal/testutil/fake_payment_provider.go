package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flexprice/lifecycle/internal/domain/paymentprovider"
	"github.com/shopspring/decimal"
)

var _ paymentprovider.Provider = (*FakePaymentProvider)(nil)

// FakePaymentProvider keeps provider invoices in memory. Collection outcomes
// are scripted with FailNextCollect.
type FakePaymentProvider struct {
	mu             sync.Mutex
	seq            int
	invoices       map[string]*paymentprovider.Invoice
	idempotency    map[string]string
	paymentMethods map[string]string
	collectErrs    []error
	calls          map[string]int
}

func NewFakePaymentProvider() *FakePaymentProvider {
	return &FakePaymentProvider{
		invoices:       make(map[string]*paymentprovider.Invoice),
		idempotency:    make(map[string]string),
		paymentMethods: make(map[string]string),
		calls:          make(map[string]int),
	}
}

// DeclinedError is what a refused card looks like
func DeclinedError(op string) error {
	return &paymentprovider.Error{Op: op, Err: errors.New("card_declined"), Declined: true}
}

// UnavailableError is a provider outage worth retrying
func UnavailableError(op string) error {
	return paymentprovider.NewError(op, errors.New("service unavailable"), true)
}

func (p *FakePaymentProvider) Name() string {
	return "fake"
}

// SetDefaultPaymentMethod registers the default payment method of a provider customer
func (p *FakePaymentProvider) SetDefaultPaymentMethod(customerID, paymentMethodID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paymentMethods[customerID] = paymentMethodID
}

// FailNextCollect makes the next CollectPayment calls fail with errs, in order
func (p *FakePaymentProvider) FailNextCollect(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collectErrs = append(p.collectErrs, errs...)
}

// SetStatus forces the provider status of an invoice
func (p *FakePaymentProvider) SetStatus(invoiceID string, status paymentprovider.InvoiceStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inv, ok := p.invoices[invoiceID]; ok {
		inv.Status = status
		if status == paymentprovider.InvoiceStatusPaid {
			inv.AmountPaid = inv.Total
		}
	}
}

// Calls returns how often op was called
func (p *FakePaymentProvider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Invoices returns copies of every provider invoice
func (p *FakePaymentProvider) Invoices() []*paymentprovider.Invoice {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*paymentprovider.Invoice, 0, len(p.invoices))
	for _, inv := range p.invoices {
		out = append(out, copyProviderInvoice(inv))
	}
	return out
}

func (p *FakePaymentProvider) CreateInvoice(_ context.Context, in paymentprovider.CreateInvoiceInput) (*paymentprovider.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["create_invoice"]++

	if id, ok := p.idempotency[in.IdempotencyKey]; ok && in.IdempotencyKey != "" {
		return copyProviderInvoice(p.invoices[id]), nil
	}

	p.seq++
	inv := &paymentprovider.Invoice{
		ID:       fmt.Sprintf("in_%d", p.seq),
		Status:   paymentprovider.InvoiceStatusDraft,
		Currency: in.Currency,
	}
	inv.URL = "https://pay.example.com/" + inv.ID
	p.invoices[inv.ID] = inv
	if in.IdempotencyKey != "" {
		p.idempotency[in.IdempotencyKey] = inv.ID
	}
	return copyProviderInvoice(inv), nil
}

func (p *FakePaymentProvider) UpdateInvoice(_ context.Context, invoiceID string, _ paymentprovider.UpdateInvoiceInput) (*paymentprovider.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["update_invoice"]++

	inv, err := p.draft("update_invoice", invoiceID)
	if err != nil {
		return nil, err
	}
	return copyProviderInvoice(inv), nil
}

func (p *FakePaymentProvider) AddInvoiceItem(_ context.Context, invoiceID string, in paymentprovider.InvoiceItemInput) (*paymentprovider.InvoiceItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["add_invoice_item"]++

	inv, err := p.draft("add_invoice_item", invoiceID)
	if err != nil {
		return nil, err
	}
	if existing, ok := inv.Item(in.Key); ok {
		return &existing, nil
	}

	p.seq++
	item := paymentprovider.InvoiceItem{
		ID:          fmt.Sprintf("ii_%d", p.seq),
		Description: in.Description,
		Amount:      in.Amount,
		Metadata:    map[string]string{paymentprovider.MetadataItemKey: in.Key},
	}
	inv.Items = append(inv.Items, item)
	return &item, nil
}

func (p *FakePaymentProvider) UpdateInvoiceItem(_ context.Context, itemID string, in paymentprovider.InvoiceItemInput) (*paymentprovider.InvoiceItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["update_invoice_item"]++

	for _, inv := range p.invoices {
		for i := range inv.Items {
			if inv.Items[i].ID != itemID {
				continue
			}
			if inv.Status != paymentprovider.InvoiceStatusDraft {
				return nil, paymentprovider.NewError("update_invoice_item", errors.New("invoice is not a draft"), false)
			}
			inv.Items[i].Amount = in.Amount
			inv.Items[i].Description = in.Description
			item := inv.Items[i]
			return &item, nil
		}
	}
	return nil, paymentprovider.NewError("update_invoice_item", errors.New("no such invoice item"), false)
}

func (p *FakePaymentProvider) FinalizeInvoice(_ context.Context, invoiceID string) (*paymentprovider.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["finalize_invoice"]++

	inv, ok := p.invoices[invoiceID]
	if !ok {
		return nil, paymentprovider.NewError("finalize_invoice", errors.New("no such invoice"), false)
	}
	if inv.Status == paymentprovider.InvoiceStatusDraft {
		inv.Total = decimal.Zero
		for _, item := range inv.Items {
			inv.Total = inv.Total.Add(item.Amount)
		}
		inv.Status = paymentprovider.InvoiceStatusOpen
		if !inv.Total.IsPositive() {
			inv.Status = paymentprovider.InvoiceStatusPaid
		}
	}
	return copyProviderInvoice(inv), nil
}

func (p *FakePaymentProvider) SendInvoice(_ context.Context, invoiceID string) (*paymentprovider.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["send_invoice"]++

	inv, ok := p.invoices[invoiceID]
	if !ok || inv.Status != paymentprovider.InvoiceStatusOpen {
		return nil, paymentprovider.NewError("send_invoice", errors.New("invoice is not open"), false)
	}
	return copyProviderInvoice(inv), nil
}

func (p *FakePaymentProvider) CollectPayment(_ context.Context, invoiceID, _ string) (*paymentprovider.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["collect_payment"]++

	inv, ok := p.invoices[invoiceID]
	if !ok {
		return nil, paymentprovider.NewError("collect_payment", errors.New("no such invoice"), false)
	}
	if len(p.collectErrs) > 0 {
		err := p.collectErrs[0]
		p.collectErrs = p.collectErrs[1:]
		return nil, err
	}
	if inv.Status == paymentprovider.InvoiceStatusOpen {
		inv.Status = paymentprovider.InvoiceStatusPaid
		inv.AmountPaid = inv.Total
	}
	return copyProviderInvoice(inv), nil
}

func (p *FakePaymentProvider) GetStatusInvoice(_ context.Context, invoiceID string) (paymentprovider.InvoiceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["get_status_invoice"]++

	inv, ok := p.invoices[invoiceID]
	if !ok {
		return "", paymentprovider.NewError("get_status_invoice", errors.New("no such invoice"), false)
	}
	return inv.Status, nil
}

func (p *FakePaymentProvider) GetInvoice(_ context.Context, invoiceID string) (*paymentprovider.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["get_invoice"]++

	inv, ok := p.invoices[invoiceID]
	if !ok {
		return nil, paymentprovider.NewError("get_invoice", errors.New("no such invoice"), false)
	}
	return copyProviderInvoice(inv), nil
}

func (p *FakePaymentProvider) GetDefaultPaymentMethodID(_ context.Context, customerID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["get_default_payment_method"]++

	id, ok := p.paymentMethods[customerID]
	if !ok {
		return "", paymentprovider.NewError("get_default_payment_method", errors.New("customer has no default payment method"), false)
	}
	return id, nil
}

func (p *FakePaymentProvider) draft(op, invoiceID string) (*paymentprovider.Invoice, error) {
	inv, ok := p.invoices[invoiceID]
	if !ok {
		return nil, paymentprovider.NewError(op, errors.New("no such invoice"), false)
	}
	if inv.Status != paymentprovider.InvoiceStatusDraft {
		return nil, paymentprovider.NewError(op, errors.New("invoice is not a draft"), false)
	}
	return inv, nil
}

func copyProviderInvoice(inv *paymentprovider.Invoice) *paymentprovider.Invoice {
	out := *inv
	out.Items = make([]paymentprovider.InvoiceItem, len(inv.Items))
	copy(out.Items, inv.Items)
	return &out
}
