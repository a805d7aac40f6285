package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flexprice/lifecycle/internal/domain/credit"
	"github.com/flexprice/lifecycle/internal/domain/invoice"
	"github.com/flexprice/lifecycle/internal/domain/subscription"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1  = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	jan16 = time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
)

type RepositorySuite struct {
	suite.Suite
	ctx  context.Context
	db   *postgres.DB
	mock sqlmock.Sqlmock
	log  *logger.Logger
}

func TestRepositories(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	raw, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = raw.Close() })

	s.log = logger.NewNoopLogger()
	s.db = postgres.NewFromSqlx(sqlx.NewDb(raw, "postgres"), s.log)
	s.mock = mock
	s.ctx = types.SetTenantID(context.Background(), "tenant_1")
}

func (s *RepositorySuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

func columns(list string) []string {
	return lo.Map(strings.Split(list, ","), func(c string, _ int) string {
		return strings.Trim(strings.TrimSpace(c), `"`)
	})
}

func subscriptionRow(id string) []driver.Value {
	return []driver.Value{
		id, "tenant_1", "cust_1", "proj_1", "active", true, "phase_1",
		jan1, feb1, nil, nil,
		feb1, jan1, nil, nil, nil, nil,
		[]byte(`{"source":"test"}`), jan1, jan1,
	}
}

func (s *RepositorySuite) TestGetSubscription() {
	repo := NewSubscriptionRepository(s.db, s.log)

	s.mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE id = $1 AND tenant_id = $2")).
		WithArgs("sub_1", "tenant_1").
		WillReturnRows(sqlmock.NewRows(columns(subscriptionColumns)).AddRow(subscriptionRow("sub_1")...))

	sub, err := repo.Get(s.ctx, "sub_1")
	s.Require().NoError(err)
	s.Equal("sub_1", sub.ID)
	s.Equal("tenant_1", sub.TenantID)
	s.Equal(types.SubscriptionStatus("active"), sub.Status)
	s.Require().NotNil(sub.CurrentCycleEndAt)
	s.True(sub.CurrentCycleEndAt.Equal(feb1))
	s.Nil(sub.CancelAt)
	s.Equal("test", sub.Metadata["source"])
}

func (s *RepositorySuite) TestGetMissingSubscription() {
	repo := NewSubscriptionRepository(s.db, s.log)

	s.mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows(columns(subscriptionColumns)))

	_, err := repo.Get(s.ctx, "sub_missing")
	s.True(ierr.IsNotFound(err))
}

func (s *RepositorySuite) TestCreateDuplicateSubscription() {
	repo := NewSubscriptionRepository(s.db, s.log)

	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscriptions")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := repo.Create(s.ctx, &subscription.Subscription{
		ID:         "sub_1",
		CustomerID: "cust_1",
		BaseModel:  types.GetDefaultBaseModel(s.ctx, jan1),
	})
	s.True(ierr.IsAlreadyExists(err))
}

func (s *RepositorySuite) TestUpdateMissingPhase() {
	repo := NewPhaseRepository(s.db, s.log)

	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE subscription_phases SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(s.ctx, &subscription.Phase{ID: "phase_missing", BaseModel: types.GetDefaultBaseModel(s.ctx, jan1)})
	s.True(ierr.IsNotFound(err))
}

func (s *RepositorySuite) TestDriverFailuresAreDatabaseErrors() {
	repo := NewPhaseRepository(s.db, s.log)

	s.mock.ExpectQuery(regexp.QuoteMeta("FROM subscription_phases")).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.ListBySubscription(s.ctx, "sub_1")
	s.True(ierr.Is(err, ierr.ErrDatabase))
	s.False(ierr.IsNotFound(err))
}

func (s *RepositorySuite) TestGetActivePhase() {
	repo := NewPhaseRepository(s.db, s.log)

	s.mock.ExpectQuery(regexp.QuoteMeta("AND start_at <= $3")).
		WithArgs("sub_1", "tenant_1", jan16, jan16).
		WillReturnRows(sqlmock.NewRows(columns(phaseColumns)).AddRow(
			"phase_1", "tenant_1", "sub_1", "pv_1", "active", true, jan1, nil,
			14, jan16, "pay_in_advance", "charge_automatically", 3,
			16, 1, "pm_1", nil, jan1, jan1,
		))

	phase, err := repo.GetActiveAt(s.ctx, "sub_1", jan16)
	s.Require().NoError(err)
	s.Equal("phase_1", phase.ID)
	s.Equal(14, phase.TrialDays)
	s.Equal(16, phase.BillingAnchorDay)
	s.Nil(phase.EndAt)
	s.Equal("pm_1", lo.FromPtr(phase.PaymentMethodID))
	s.NotNil(phase.Metadata)
}

func (s *RepositorySuite) TestListDue() {
	repo := NewSubscriptionRepository(s.db, s.log)

	s.mock.ExpectQuery(regexp.QuoteMeta("WHERE s.id > $1")).
		WithArgs("sub_0", jan16, jan16, jan16, jan16, jan16, jan16, 2).
		WillReturnRows(sqlmock.NewRows(columns(subscriptionColumns)).
			AddRow(subscriptionRow("sub_1")...).
			AddRow(subscriptionRow("sub_2")...))

	subs, err := repo.ListDue(s.ctx, jan16, "sub_0", 2)
	s.Require().NoError(err)
	s.Equal([]string{"sub_1", "sub_2"}, lo.Map(subs, func(sub *subscription.Subscription, _ int) string { return sub.ID }))
}

func (s *RepositorySuite) TestCreateItemsInOneStatement() {
	repo := NewItemRepository(s.db, s.log)

	s.NoError(repo.CreateBulk(s.ctx, nil), "nothing to insert")

	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscription_items")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	base := types.GetDefaultBaseModel(s.ctx, jan1)
	s.NoError(repo.CreateBulk(s.ctx, []*subscription.Item{
		{ID: "item_1", PhaseID: "phase_1", FeaturePlanVersionID: "fpv_seats", Units: lo.ToPtr(int64(2)), BaseModel: base},
		{ID: "item_2", PhaseID: "phase_1", FeaturePlanVersionID: "fpv_api", BaseModel: base},
	}))
}

func (s *RepositorySuite) TestCreateInvoiceIfNotExists() {
	repo := NewInvoiceRepository(s.db, s.log)
	inv := &invoice.Invoice{
		ID:           "inv_1",
		PhaseID:      "phase_1",
		CycleStartAt: jan1,
		CycleEndAt:   feb1,
		Status:       types.InvoiceStatusDraft,
		Subtotal:     decimal.NewFromInt(30),
		Total:        decimal.NewFromInt(30),
		BaseModel:    types.GetDefaultBaseModel(s.ctx, jan1),
	}

	s.mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	created, err := repo.CreateIfNotExists(s.ctx, inv)
	s.Require().NoError(err)
	s.True(created)

	s.mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	created, err = repo.CreateIfNotExists(s.ctx, inv)
	s.Require().NoError(err)
	s.False(created, "the second insert is a no-op")
}

func (s *RepositorySuite) TestListOpenInvoices() {
	repo := NewInvoiceRepository(s.db, s.log)

	row := []driver.Value{
		"inv_1", "tenant_1", "sub_1", "phase_1", "cust_1", jan1, feb1,
		nil, nil, "unpaid", "flat", "pay_in_advance", "charge_automatically",
		"USD", false, jan1, jan16, "30.00", "20.00", "10.00", "stripe",
		"in_1", "https://pay.example.com/in_1", []byte(`[{"status":"failed","at":"2024-01-02T00:00:00Z"}]`), nil,
		nil, []byte(`{}`), jan1, jan1,
	}
	s.mock.ExpectQuery(regexp.QuoteMeta("cardinality($3) = 0 OR status = ANY($4)")).
		WithArgs("sub_1", "tenant_1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columns(invoiceColumns)).AddRow(row...))

	invoices, err := repo.ListBySubscription(s.ctx, "sub_1", types.InvoiceStatusUnpaid, types.InvoiceStatusWaiting)
	s.Require().NoError(err)
	s.Require().Len(invoices, 1)

	inv := invoices[0]
	s.True(inv.Total.Equal(decimal.NewFromInt(20)))
	s.True(inv.AmountCreditUsed.Equal(decimal.NewFromInt(10)))
	s.Equal(1, inv.PaymentAttempts.Failed())
	s.Equal("in_1", lo.FromPtr(inv.PaymentProviderInvoiceID))
}

func (s *RepositorySuite) TestCreditsInUseOrder() {
	repo := NewCreditRepository(s.db, s.log)

	s.mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at, id")).
		WithArgs("cust_1", "tenant_1").
		WillReturnRows(sqlmock.NewRows(columns(creditColumns)).
			AddRow("cred_1", "tenant_1", "c1", "cust_1", "inv_1", "USD", "15.48", "0", true, jan1, jan1).
			AddRow("cred_2", "tenant_1", "c2", "cust_1", "inv_2", "USD", "5", "2.5", true, feb1, feb1))

	credits, err := repo.ListActiveByCustomer(s.ctx, "cust_1")
	s.Require().NoError(err)
	s.Equal([]string{"cred_1", "cred_2"}, lo.Map(credits, func(c *credit.Credit, _ int) string { return c.ID }))
	s.True(credits[0].TotalAmount.Equal(decimal.RequireFromString("15.48")))
	s.True(credits[1].AmountUsed.Equal(decimal.RequireFromString("2.5")))
}

func (s *RepositorySuite) TestEntitlementsByItems() {
	repo := NewEntitlementRepository(s.db, s.log)

	none, err := repo.ListBySubscriptionItems(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(none)

	s.mock.ExpectQuery(regexp.QuoteMeta("subscription_item_id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows(columns(entitlementColumns)).AddRow(
			"ent_1", "tenant_1", "cust_1", "item_1", "fpv_seats", "seats",
			"flat", 10, 2, 0, jan1, nil, false, jan1, jan1,
		))

	out, err := repo.ListBySubscriptionItems(s.ctx, []string{"item_1"})
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Equal("item_1", out[0].ItemID())
	s.Equal(int64(10), lo.FromPtr(out[0].Limit))
}

func (s *RepositorySuite) TestPlanFeatures() {
	repo := NewPlanRepository(s.db, s.log)

	s.mock.ExpectQuery(regexp.QuoteMeta("FROM feature_plan_versions")).
		WithArgs("pv_1", "tenant_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "plan_version_id", "feature_slug", "feature_type", "unit_price", "limit",
			"default_units", "package_size", "aggregation_method", "created_at", "updated_at",
		}).AddRow("fpv_storage", "tenant_1", "pv_1", "storage", "package", "5", nil, nil, 100, "max", jan1, jan1))

	features, err := repo.ListFeatures(s.ctx, "pv_1")
	s.Require().NoError(err)
	s.Require().Len(features, 1)
	s.Equal(int64(100), features[0].PackageSize)
	s.Equal(types.AggregationMethod("max"), features[0].AggregationMethod)
	s.True(features[0].UnitPrice.Equal(decimal.NewFromInt(5)))
}

func (s *RepositorySuite) TestGetCustomer() {
	repo := NewCustomerRepository(s.db, s.log)

	s.mock.ExpectQuery(regexp.QuoteMeta("FROM customers")).
		WithArgs("cust_1", "tenant_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "project_id", "email", "currency", "payment_provider_customer_id",
			"default_payment_method_id", "created_at", "updated_at",
		}).AddRow("cust_1", "tenant_1", "proj_1", "ops@acme.test", "USD", "cus_acme", nil, jan1, jan1))

	c, err := repo.Get(s.ctx, "cust_1")
	s.Require().NoError(err)
	s.Equal("cus_acme", lo.FromPtr(c.PaymentProviderCustomerID))
	s.Nil(c.DefaultPaymentMethodID)
}
