// Package paymentprovider defines the contract of the external payment system.
// Amounts are decimals in the currency's major unit.
package paymentprovider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MetadataItemKey tags provider line items with a stable key. Line item ids
// change when items are recreated so matching always goes through this key.
const MetadataItemKey = "flexprice_item_key"

// MetadataInvoiceID links a provider invoice back to the local invoice
const MetadataInvoiceID = "flexprice_invoice_id"

// InvoiceStatus is the provider side status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

// CollectionMethod mirrors types.CollectionMethod on the provider
type CollectionMethod string

const (
	CollectionMethodChargeAutomatically CollectionMethod = "charge_automatically"
	CollectionMethodSendInvoice         CollectionMethod = "send_invoice"
)

// Invoice is the provider side view of an invoice
type Invoice struct {
	ID         string
	URL        string
	Status     InvoiceStatus
	Currency   string
	Total      decimal.Decimal
	AmountPaid decimal.Decimal
	Items      []InvoiceItem
}

// Item returns the line item tagged with key
func (i *Invoice) Item(key string) (InvoiceItem, bool) {
	for _, item := range i.Items {
		if item.Key() == key {
			return item, true
		}
	}
	return InvoiceItem{}, false
}

// InvoiceItem is one line of a provider invoice
type InvoiceItem struct {
	ID          string
	Description string
	Amount      decimal.Decimal
	Metadata    map[string]string
}

// Key returns the stable item key
func (i InvoiceItem) Key() string {
	return i.Metadata[MetadataItemKey]
}

// CreateInvoiceInput creates a draft provider invoice
type CreateInvoiceInput struct {
	CustomerID       string
	Currency         string
	Description      string
	CollectionMethod CollectionMethod
	DueAt            *time.Time
	IdempotencyKey   string
	Metadata         map[string]string
}

// UpdateInvoiceInput changes a draft provider invoice
type UpdateInvoiceInput struct {
	Description      string
	CollectionMethod CollectionMethod
	DueAt            *time.Time
}

// InvoiceItemInput adds or replaces a line item
type InvoiceItemInput struct {
	CustomerID  string
	Key         string
	Description string
	Currency    string
	Amount      decimal.Decimal
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Provider is the payment system the invoice machine talks to. Every error
// returned is an *Error.
type Provider interface {
	Name() string
	CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error)
	UpdateInvoice(ctx context.Context, invoiceID string, in UpdateInvoiceInput) (*Invoice, error)
	AddInvoiceItem(ctx context.Context, invoiceID string, in InvoiceItemInput) (*InvoiceItem, error)
	UpdateInvoiceItem(ctx context.Context, itemID string, in InvoiceItemInput) (*InvoiceItem, error)
	FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	SendInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	CollectPayment(ctx context.Context, invoiceID, paymentMethodID string) (*Invoice, error)
	GetStatusInvoice(ctx context.Context, invoiceID string) (InvoiceStatus, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	GetDefaultPaymentMethodID(ctx context.Context, customerID string) (string, error)
}
