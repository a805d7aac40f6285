package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flexprice/lifecycle/internal/domain/usage"
	"github.com/shopspring/decimal"
)

var _ usage.Reader = (*FakeUsageReader)(nil)

type usageRecord struct {
	at    time.Time
	value decimal.Decimal
}

// FakeUsageReader aggregates recorded usage per subscription item
type FakeUsageReader struct {
	mu      sync.Mutex
	records map[string][]usageRecord
	queries []usage.Query
	err     error
}

func NewFakeUsageReader() *FakeUsageReader {
	return &FakeUsageReader{records: make(map[string][]usageRecord)}
}

// Record adds a usage event for a subscription item
func (r *FakeUsageReader) Record(itemID string, at time.Time, value decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[itemID] = append(r.records[itemID], usageRecord{at: at, value: value})
}

// FailWith makes every read fail with err until reset with nil
func (r *FakeUsageReader) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Queries returns the queries received so far
func (r *FakeUsageReader) Queries() []usage.Query {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usage.Query(nil), r.queries...)
}

func (r *FakeUsageReader) GetUsagePerFeature(_ context.Context, q usage.Query) (*usage.Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	if r.err != nil {
		return nil, r.err
	}

	records := make([]usageRecord, 0)
	for _, rec := range r.records[q.SubscriptionItemID] {
		if q.Start != nil && rec.at.Before(*q.Start) {
			continue
		}
		if q.End != nil && rec.at.After(*q.End) {
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].at.Before(records[j].at)
	})

	out := &usage.Usage{Sum: decimal.Zero, Max: decimal.Zero, Last: decimal.Zero}
	for i, rec := range records {
		out.Sum = out.Sum.Add(rec.value)
		if i == 0 || rec.value.GreaterThan(out.Max) {
			out.Max = rec.value
		}
		out.Last = rec.value
		out.Count++
	}
	return out, nil
}
