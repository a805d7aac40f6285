package service

import (
	"context"

	"github.com/flexprice/lifecycle/internal/cache"
	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/domain/credit"
	"github.com/flexprice/lifecycle/internal/domain/customer"
	"github.com/flexprice/lifecycle/internal/domain/entitlement"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/paymentprovider"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	"github.com/flexprice/lifecycle/internal/domain/usage"
	"github.com/flexprice/lifecycle/internal/idempotency"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/metrics"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/publisher"
	"github.com/flexprice/lifecycle/internal/sentry"
	"go.uber.org/fx"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient
	Locker postgres.Locker

	// Repositories
	SubRepo         subscription.Repository
	PhaseRepo       subscription.PhaseRepository
	ItemRepo        subscription.ItemRepository
	PlanRepo        plan.Repository
	CustomerRepo    customer.Repository
	InvoiceRepo     invoice.Repository
	EntitlementRepo entitlement.Repository
	CreditRepo      credit.Repository

	// Collaborators
	UsageReader usage.Reader
	Provider    paymentprovider.Provider
	Cache       cache.Cache

	// Publishers
	EventPublisher publisher.EventPublisher

	Metrics      *metrics.Metrics
	Sentry       *sentry.Service
	Background   *BackgroundPool
	Idempotency  *idempotency.Generator
	PlanVersions *PlanVersionReader
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	locker postgres.Locker,
	subRepo subscription.Repository,
	phaseRepo subscription.PhaseRepository,
	itemRepo subscription.ItemRepository,
	planRepo plan.Repository,
	customerRepo customer.Repository,
	invoiceRepo invoice.Repository,
	entitlementRepo entitlement.Repository,
	creditRepo credit.Repository,
	usageReader usage.Reader,
	provider paymentprovider.Provider,
	cacheStore cache.Cache,
	eventPublisher publisher.EventPublisher,
	metrics *metrics.Metrics,
	sentry *sentry.Service,
) ServiceParams {
	return ServiceParams{
		Logger:          logger,
		Config:          config,
		DB:              db,
		Locker:          locker,
		SubRepo:         subRepo,
		PhaseRepo:       phaseRepo,
		ItemRepo:        itemRepo,
		PlanRepo:        planRepo,
		CustomerRepo:    customerRepo,
		InvoiceRepo:     invoiceRepo,
		EntitlementRepo: entitlementRepo,
		CreditRepo:      creditRepo,
		UsageReader:     usageReader,
		Provider:        provider,
		Cache:           cacheStore,
		EventPublisher:  eventPublisher,
		Metrics:         metrics,
		Sentry:          sentry,
		Background:      NewBackgroundPool(config, logger),
		Idempotency:     idempotency.NewGenerator(),
		PlanVersions:    NewPlanVersionReader(planRepo, cacheStore, config, logger),
	}
}

// Module provides the service params and every service of the engine
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewServiceParams,
			NewSubscriptionService,
			NewEntitlementService,
			NewSubscriptionProcessor,
		),
		fx.Invoke(func(lc fx.Lifecycle, params ServiceParams) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					params.Background.Wait()
					return nil
				},
			})
		}),
	)
}

// afterCommit schedules fn on the background pool once the outermost
// transaction of ctx commits. Failures are only logged.
func (p ServiceParams) afterCommit(ctx context.Context, name string, fn func(ctx context.Context) error) {
	p.DB.AfterCommit(ctx, func(ctx context.Context) {
		if p.Background == nil {
			if err := fn(ctx); err != nil {
				p.Logger.Errorw("post commit task failed", "task", name, "error", err)
			}
			return
		}
		p.Background.Go(ctx, name, fn)
	})
}

// publishAfterCommit emits event once the current transaction commits
func (p ServiceParams) publishAfterCommit(ctx context.Context, event *publisher.Event) {
	if p.EventPublisher == nil {
		return
	}
	p.afterCommit(ctx, string(event.Name), func(ctx context.Context) error {
		return p.EventPublisher.Publish(ctx, event)
	})
}
