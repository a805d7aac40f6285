package clickhouse

import (
	"context"
	"strings"

	"github.com/flexprice/lifecycle/internal/clickhouse"
	"github.com/flexprice/lifecycle/internal/domain/usage"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/shopspring/decimal"
)

type UsageRepository struct {
	store  *clickhouse.ClickHouseStore
	logger *logger.Logger
}

func NewUsageRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) usage.Reader {
	return &UsageRepository{
		store:  store,
		logger: logger,
	}
}

func (r *UsageRepository) GetUsagePerFeature(ctx context.Context, q usage.Query) (*usage.Usage, error) {
	query, args := buildUsageQuery(types.GetTenantID(ctx), q)

	span, ctx := r.store.StartSpan(ctx, "clickhouse.usage_per_feature", map[string]interface{}{
		"subscription_item_id": q.SubscriptionItemID,
	})
	if span != nil {
		defer span.Finish()
	}

	var (
		sum, max, last float64
		count          uint64
	)
	if err := r.store.GetConn().QueryRow(ctx, query, args...).Scan(&sum, &max, &count, &last); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read feature usage").
			WithReportableDetails(map[string]any{
				"subscription_item_id": q.SubscriptionItemID,
				"customer_id":          q.CustomerID,
			}).
			MarkAll(ierr.ErrDatabase, ierr.ErrRetryable)
	}

	r.logger.Debugw("read feature usage",
		"subscription_item_id", q.SubscriptionItemID,
		"customer_id", q.CustomerID,
		"count", count,
	)

	return &usage.Usage{
		Sum:   decimal.NewFromFloat(sum),
		Max:   decimal.NewFromFloat(max),
		Count: count,
		Last:  decimal.NewFromFloat(last),
	}, nil
}

// buildUsageQuery aggregates the feature_usage rows of one item. Rows are
// deduplicated by ReplacingMergeTree so FINAL is required.
func buildUsageQuery(tenantID string, q usage.Query) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`
		SELECT
			toFloat64(sum(qty_total)) AS sum_value,
			toFloat64(max(qty_total)) AS max_value,
			count() AS count_value,
			toFloat64(argMax(qty_total, timestamp)) AS last_value
		FROM feature_usage FINAL
		WHERE tenant_id = ?
			AND customer_id = ?
			AND project_id = ?
			AND sub_line_item_id = ?
			AND sign != 0`)

	args := []interface{}{tenantID, q.CustomerID, q.ProjectID, q.SubscriptionItemID}
	if q.Start != nil {
		b.WriteString("\n\t\t\tAND timestamp >= ?")
		args = append(args, q.Start.UTC())
	}
	if q.End != nil {
		b.WriteString("\n\t\t\tAND timestamp <= ?")
		args = append(args, q.End.UTC())
	}
	return b.String(), args
}
