package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flexprice/lifecycle/internal/cache"
	"github.com/flexprice/lifecycle/internal/clickhouse"
	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/domain/credit"
	"github.com/flexprice/lifecycle/internal/domain/customer"
	"github.com/flexprice/lifecycle/internal/domain/entitlement"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/paymentprovider"
	"github.com/flexprice/lifecycle/internal/domain/plan"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	"github.com/flexprice/lifecycle/internal/domain/usage"
	"github.com/flexprice/lifecycle/internal/integration/stripe"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/metrics"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/publisher"
	"github.com/flexprice/lifecycle/internal/pubsub"
	"github.com/flexprice/lifecycle/internal/pubsub/kafka"
	"github.com/flexprice/lifecycle/internal/pubsub/memory"
	clickhouseRepo "github.com/flexprice/lifecycle/internal/repository/clickhouse"
	postgresRepo "github.com/flexprice/lifecycle/internal/repository/postgres"
	"github.com/flexprice/lifecycle/internal/sentry"
	"github.com/flexprice/lifecycle/internal/service"
	"github.com/flexprice/lifecycle/internal/temporal"
	"github.com/flexprice/lifecycle/internal/types"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			cache.NewCache,
			metrics.NewMetrics,
			clickhouse.NewClickHouseStore,
			providePubSub,
			func(ps pubsub.PubSub) pubsub.Publisher { return ps },
			publisher.NewEventPublisher,
			providePaymentProvider,
			provideTemporalClient,
		),
		sentry.Module(),
		postgres.Module(),
	)

	// Repositories
	opts = append(opts,
		fx.Provide(
			func(db *postgres.DB, log *logger.Logger) subscription.Repository {
				return postgresRepo.NewSubscriptionRepository(db, log)
			},
			func(db *postgres.DB, log *logger.Logger) subscription.PhaseRepository {
				return postgresRepo.NewPhaseRepository(db, log)
			},
			func(db *postgres.DB, log *logger.Logger) subscription.ItemRepository {
				return postgresRepo.NewItemRepository(db, log)
			},
			func(db *postgres.DB, log *logger.Logger) plan.Repository {
				return postgresRepo.NewPlanRepository(db, log)
			},
			func(db *postgres.DB, log *logger.Logger) customer.Repository {
				return postgresRepo.NewCustomerRepository(db, log)
			},
			func(db *postgres.DB, log *logger.Logger) invoice.Repository {
				return postgresRepo.NewInvoiceRepository(db, log)
			},
			func(db *postgres.DB, log *logger.Logger) entitlement.Repository {
				return postgresRepo.NewEntitlementRepository(db, log)
			},
			func(db *postgres.DB, log *logger.Logger) credit.Repository {
				return postgresRepo.NewCreditRepository(db, log)
			},
			func(store *clickhouse.ClickHouseStore, log *logger.Logger) usage.Reader {
				return clickhouseRepo.NewUsageRepository(store, log)
			},
		),
	)

	// Service layer and runners
	opts = append(opts,
		service.Module(),
		fx.Invoke(
			registerClosers,
			startMetricsServer,
			startProcessing,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func providePubSub(cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	switch cfg.EventPublisher.PubSub {
	case types.KafkaPubSub:
		return kafka.NewPubSub(cfg, log)
	default:
		return memory.NewPubSub(log), nil
	}
}

func providePaymentProvider(cfg *config.Configuration, log *logger.Logger) paymentprovider.Provider {
	return stripe.NewProvider(cfg, log)
}

// provideTemporalClient returns nil when temporal is disabled
func provideTemporalClient(cfg *config.Configuration, log *logger.Logger) (*temporal.TemporalClient, error) {
	if !cfg.Temporal.Enabled {
		return nil, nil
	}
	return temporal.NewTemporalClient(cfg, log)
}

func registerClosers(lc fx.Lifecycle, store *clickhouse.ClickHouseStore, ps pubsub.PubSub, tc *temporal.TemporalClient, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := ps.Close(); err != nil {
				log.Errorw("failed to close pubsub", "error", err)
			}
			if err := store.Close(); err != nil {
				log.Errorw("failed to close clickhouse", "error", err)
			}
			tc.Close()
			return nil
		},
	})
}

func startMetricsServer(lc fx.Lifecycle, cfg *config.Configuration, m *metrics.Metrics, log *logger.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting metrics server", "address", cfg.Metrics.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("metrics server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// startProcessing runs billing through temporal when it is enabled. Local mode
// without temporal falls back to an in-process ticker.
func startProcessing(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	tc *temporal.TemporalClient,
	params service.ServiceParams,
	processor service.SubscriptionProcessor,
	log *logger.Logger,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch {
	case tc != nil:
		worker := temporal.NewWorker(tc, cfg, params)
		worker.RegisterWithLifecycle(lc)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return temporal.ScheduleBilling(ctx, tc, cfg, log)
			},
		})
	case mode == types.ModeLocal:
		startTicker(lc, cfg, processor, log)
	default:
		log.Fatalf("deployment mode %s requires temporal to be enabled", mode)
	}
}

func startTicker(lc fx.Lifecycle, cfg *config.Configuration, processor service.SubscriptionProcessor, log *logger.Logger) {
	interval := cfg.Billing.ScheduleInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Infow("starting in-process billing scheduler", "interval", interval.String())
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					result, err := processor.ProcessDue(ctx, time.Now().UTC())
					if err != nil {
						log.Errorw("billing pass failed", "error", err)
					} else {
						log.Infow("billing pass finished",
							"processed", result.Processed,
							"failed", result.Failed,
							"contended", result.Contended)
					}

					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				log.Error("timeout while stopping the billing scheduler")
			}
			return nil
		},
	})
}
