package clickhouse

import (
	"context"
	"fmt"

	clickhouse_go "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/flexprice/lifecycle/internal/config"
	"github.com/getsentry/sentry-go"
)

type ClickHouseStore struct {
	conn driver.Conn
}

func NewClickHouseStore(config *config.Configuration) (*ClickHouseStore, error) {
	options := config.ClickHouse.GetClientOptions()
	conn, err := clickhouse_go.Open(options)
	if err != nil {
		return nil, fmt.Errorf("init clickhouse client: %w", err)
	}

	return &ClickHouseStore{conn: conn}, nil
}

func (s *ClickHouseStore) GetConn() driver.Conn {
	return s.conn
}

func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// StartSpan opens a clickhouse span when ctx carries a sentry hub
func (s *ClickHouseStore) StartSpan(ctx context.Context, operation string, params map[string]interface{}) (*sentry.Span, context.Context) {
	if sentry.GetHubFromContext(ctx) == nil {
		return nil, ctx
	}

	span := sentry.StartSpan(ctx, operation)
	span.Description = operation
	span.Op = "db.clickhouse"
	for k, v := range params {
		span.SetData(k, v)
	}
	return span, span.Context()
}
