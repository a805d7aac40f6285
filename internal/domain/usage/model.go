package usage

import (
	"context"
	"time"

	"github.com/flexprice/lifecycle/internal/types"
	"github.com/shopspring/decimal"
)

// Query selects the usage of one subscription item. Nil bounds mean all time.
type Query struct {
	SubscriptionItemID string
	CustomerID         string
	ProjectID          string
	Start              *time.Time
	End                *time.Time
}

// Usage holds every aggregate of a window so the caller picks the one the
// feature is priced on
type Usage struct {
	Sum   decimal.Decimal `ch:"sum_value" json:"sum"`
	Max   decimal.Decimal `ch:"max_value" json:"max"`
	Count uint64          `ch:"count_value" json:"count"`
	Last  decimal.Decimal `ch:"last_value" json:"last"`
}

// Value returns the aggregate selected by method
func (u *Usage) Value(method types.AggregationMethod) decimal.Decimal {
	switch method {
	case types.AggregationMax:
		return u.Max
	case types.AggregationCount:
		return decimal.NewFromInt(int64(u.Count))
	case types.AggregationLast:
		return u.Last
	default:
		return u.Sum
	}
}

// Reader is the analytics collaborator
type Reader interface {
	GetUsagePerFeature(ctx context.Context, q Query) (*Usage, error)
}
