// Package stripe implements paymentprovider.Provider on top of the Stripe API
package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/domain/paymentprovider"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/stripe/stripe-go/v82"
	"golang.org/x/time/rate"
)

const ProviderName = "stripe"

// Provider talks to Stripe through a rate limited client. Stripe counts
// requests per account so one limiter is shared by every call.
type Provider struct {
	client  *stripe.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

var _ paymentprovider.Provider = (*Provider)(nil)

func NewProvider(cfg *config.Configuration, logger *logger.Logger) *Provider {
	return NewProviderWithClient(
		stripe.NewClient(cfg.Stripe.SecretKey, nil),
		rate.NewLimiter(rate.Limit(cfg.Stripe.RateLimit), max(cfg.Stripe.Burst, 1)),
		logger,
	)
}

// NewProviderWithClient wires a preconfigured client, used with stripe-mock in tests
func NewProviderWithClient(client *stripe.Client, limiter *rate.Limiter, logger *logger.Logger) *Provider {
	return &Provider{
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
}

func (p *Provider) Name() string {
	return ProviderName
}

// wait blocks until the limiter admits one more call
func (p *Provider) wait(ctx context.Context, op string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return paymentprovider.NewError(op, err, true)
	}
	return nil
}

// wrapError classifies a stripe failure. Card errors are final, rate limits,
// api errors and transport failures may succeed later.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return paymentprovider.NewError(op, err, true)
	}

	perr := paymentprovider.NewError(op, err, false)
	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		perr.Declined = true
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.Type == stripe.ErrorTypeAPI:
		perr.Retry = true
	}
	return perr
}

func currency(c string) *string {
	return stripe.String(strings.ToLower(c))
}
