package clickhouse

import (
	"strings"
	"testing"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/usage"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestBuildUsageQuery(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 23, 59, 59, 999000000, time.UTC)

	q := usage.Query{
		SubscriptionItemID: "subs_item_1",
		CustomerID:         "cust_1",
		ProjectID:          "proj_1",
	}

	query, args := buildUsageQuery("tenant_1", q)
	assert.NotContains(t, query, "timestamp >=")
	assert.NotContains(t, query, "timestamp <=")
	assert.Equal(t, []interface{}{"tenant_1", "cust_1", "proj_1", "subs_item_1"}, args)

	q.Start = lo.ToPtr(start)
	q.End = lo.ToPtr(end)
	query, args = buildUsageQuery("tenant_1", q)
	assert.Contains(t, query, "timestamp >= ?")
	assert.Contains(t, query, "timestamp <= ?")
	assert.Len(t, args, 6)
	assert.Equal(t, start, args[4])
	assert.Equal(t, end, args[5])
	assert.Equal(t, strings.Count(query, "?"), len(args))
}
