package testutil

import (
	"context"

	"github.com/flexprice/lifecycle/internal/cache"
	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/metrics"
	"github.com/flexprice/lifecycle/internal/sentry"
	"github.com/flexprice/lifecycle/internal/validator"
	"github.com/stretchr/testify/suite"
)

// Stores holds all the in-memory repositories for testing
type Stores struct {
	SubscriptionRepo *InMemorySubscriptionStore
	PhaseRepo        *InMemorySubscriptionPhaseStore
	ItemRepo         *InMemorySubscriptionItemStore
	InvoiceRepo      *InMemoryInvoiceStore
	EntitlementRepo  *InMemoryEntitlementStore
	CreditRepo       *InMemoryCreditStore
	PlanRepo         *InMemoryPlanStore
	CustomerRepo     *InMemoryCustomerStore
}

func (s Stores) snapshotters() []Snapshotter {
	return []Snapshotter{
		s.SubscriptionRepo,
		s.PhaseRepo,
		s.ItemRepo,
		s.InvoiceRepo,
		s.EntitlementRepo,
		s.CreditRepo,
	}
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	stores    Stores
	db        *MockPostgresClient
	locker    *InMemoryLocker
	provider  *FakePaymentProvider
	usage     *FakeUsageReader
	publisher *InMemoryEventPublisher
	cache     *cache.InMemoryCache
	metrics   *metrics.Metrics
	sentry    *sentry.Service
	logger    *logger.Logger
	config    *config.Configuration
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	s.config = config.GetDefaultConfig()
	s.logger = logger.NewNoopLogger()
	s.sentry = sentry.NewSentryService(s.config, s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.setupStores()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupStores() {
	invoices := NewInMemoryInvoiceStore()
	s.stores = Stores{
		SubscriptionRepo: NewInMemorySubscriptionStore(invoices),
		PhaseRepo:        NewInMemorySubscriptionPhaseStore(),
		ItemRepo:         NewInMemorySubscriptionItemStore(),
		InvoiceRepo:      invoices,
		EntitlementRepo:  NewInMemoryEntitlementStore(),
		CreditRepo:       NewInMemoryCreditStore(),
		PlanRepo:         NewInMemoryPlanStore(),
		CustomerRepo:     NewInMemoryCustomerStore(),
	}

	s.db = NewMockPostgresClient(s.logger, s.stores.snapshotters()...)
	s.locker = NewInMemoryLocker()
	s.provider = NewFakePaymentProvider()
	s.usage = NewFakeUsageReader()
	s.publisher = NewInMemoryEventPublisher()
	s.cache = cache.NewInMemoryCache()
	s.metrics = metrics.NewMetrics(s.config)
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.SubscriptionRepo.Clear()
	s.stores.PhaseRepo.Clear()
	s.stores.ItemRepo.Clear()
	s.stores.InvoiceRepo.Clear()
	s.stores.EntitlementRepo.Clear()
	s.stores.CreditRepo.Clear()
	s.stores.PlanRepo.Clear()
	s.stores.CustomerRepo.Clear()
	s.publisher.Clear()
	s.cache.Flush()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() *MockPostgresClient {
	return s.db
}

// GetLocker returns the test subscription locker
func (s *BaseServiceTestSuite) GetLocker() *InMemoryLocker {
	return s.locker
}

// GetProvider returns the fake payment provider
func (s *BaseServiceTestSuite) GetProvider() *FakePaymentProvider {
	return s.provider
}

// GetUsageReader returns the fake analytics reader
func (s *BaseServiceTestSuite) GetUsageReader() *FakeUsageReader {
	return s.usage
}

// GetPublisher returns the test event publisher
func (s *BaseServiceTestSuite) GetPublisher() *InMemoryEventPublisher {
	return s.publisher
}

// GetCache returns the in-memory cache backend
func (s *BaseServiceTestSuite) GetCache() *cache.InMemoryCache {
	return s.cache
}

// GetMetrics returns the per test metrics registry
func (s *BaseServiceTestSuite) GetMetrics() *metrics.Metrics {
	return s.metrics
}

// GetSentry returns the disabled sentry service
func (s *BaseServiceTestSuite) GetSentry() *sentry.Service {
	return s.sentry
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}
