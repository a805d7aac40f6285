package stripe

import (
	"strings"

	"github.com/flexprice/lifecycle/internal/domain/paymentprovider"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
)

// zeroDecimal lists the currencies stripe bills in their major unit
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func minorUnits(currency string) int32 {
	if zeroDecimal[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// toMinor converts a major unit amount to stripe's integer amount, rounding half away from zero
func toMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(minorUnits(currency)).Round(0).IntPart()
}

// fromMinor converts a stripe integer amount to the major unit
func fromMinor(amount int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(amount).Shift(-minorUnits(currency))
}

func toInvoice(in *stripe.Invoice, items []*stripe.InvoiceItem) *paymentprovider.Invoice {
	cur := string(in.Currency)
	out := &paymentprovider.Invoice{
		ID:         in.ID,
		URL:        in.HostedInvoiceURL,
		Status:     paymentprovider.InvoiceStatus(in.Status),
		Currency:   strings.ToUpper(cur),
		Total:      fromMinor(in.Total, cur),
		AmountPaid: fromMinor(in.AmountPaid, cur),
		Items:      make([]paymentprovider.InvoiceItem, 0, len(items)),
	}
	for _, item := range items {
		out.Items = append(out.Items, *toInvoiceItem(item))
	}
	return out
}

func toInvoiceItem(in *stripe.InvoiceItem) *paymentprovider.InvoiceItem {
	return &paymentprovider.InvoiceItem{
		ID:          in.ID,
		Description: in.Description,
		Amount:      fromMinor(in.Amount, string(in.Currency)),
		Metadata:    in.Metadata,
	}
}
