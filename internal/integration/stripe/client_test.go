package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/flexprice/lifecycle/internal/domain/paymentprovider"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"golang.org/x/time/rate"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		retry    bool
		declined bool
	}{
		{"network", errors.New("connection reset"), true, false},
		{"card declined", &stripe.Error{Type: stripe.ErrorTypeCard, HTTPStatusCode: http.StatusPaymentRequired}, false, true},
		{"rate limited", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusTooManyRequests}, true, false},
		{"api error", &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusInternalServerError}, true, false},
		{"invalid request", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusBadRequest}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError("collect_payment", tt.err)

			var perr *paymentprovider.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "collect_payment", perr.Op)
			assert.Equal(t, tt.retry, perr.Retry)
			assert.Equal(t, tt.declined, perr.Declined)
			assert.Equal(t, tt.retry, ierr.IsRetryable(err))
		})
	}
	assert.NoError(t, wrapError("noop", nil))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), toMinor(decimal.RequireFromString("19.99"), "USD"))
	assert.Equal(t, int64(1000), toMinor(decimal.RequireFromString("9.995"), "usd"))
	assert.Equal(t, int64(500), toMinor(decimal.NewFromInt(500), "JPY"))

	assert.True(t, decimal.RequireFromString("19.99").Equal(fromMinor(1999, "usd")))
	assert.True(t, decimal.NewFromInt(500).Equal(fromMinor(500, "jpy")))
}

func TestToInvoice(t *testing.T) {
	inv := &stripe.Invoice{
		ID:               "in_1",
		HostedInvoiceURL: "https://invoice.stripe.com/i/in_1",
		Status:           stripe.InvoiceStatusOpen,
		Currency:         stripe.CurrencyUSD,
		Total:            2500,
		AmountPaid:       0,
	}
	items := []*stripe.InvoiceItem{{
		ID:       "ii_1",
		Amount:   2500,
		Currency: stripe.CurrencyUSD,
		Metadata: map[string]string{paymentprovider.MetadataItemKey: "subs_item_1"},
	}}

	out := toInvoice(inv, items)
	assert.Equal(t, "in_1", out.ID)
	assert.Equal(t, paymentprovider.InvoiceStatusOpen, out.Status)
	assert.Equal(t, "USD", out.Currency)
	assert.True(t, decimal.NewFromInt(25).Equal(out.Total))

	item, ok := out.Item("subs_item_1")
	require.True(t, ok)
	assert.Equal(t, "ii_1", item.ID)
	assert.True(t, decimal.NewFromInt(25).Equal(item.Amount))
}

func TestProvider_WaitHonoursContext(t *testing.T) {
	p := NewProviderWithClient(stripe.NewClient("sk_test", nil), rate.NewLimiter(0, 0), logger.NewNoopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.GetStatusInvoice(ctx, "in_1")
	require.Error(t, err)
	assert.True(t, ierr.IsRetryable(err))
	assert.Equal(t, ProviderName, p.Name())
}
