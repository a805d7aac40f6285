package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/postgres"
	"github.com/samber/lo"
)

var _ postgres.IClient = (*MockPostgresClient)(nil) // Ensure MockPostgresClient implements IClient

type mockTxKey struct{}

type mockTx struct {
	parent context.Context
	hooks  []func(ctx context.Context)
}

// MockPostgresClient runs transactions inline. A failed transaction or
// savepoint restores every registered store to its state at the start.
type MockPostgresClient struct {
	mu     sync.Mutex
	stores []Snapshotter
	logger *logger.Logger

	commits   int
	rollbacks int
}

// NewMockPostgresClient creates a new mock postgres client over stores
func NewMockPostgresClient(logger *logger.Logger, stores ...Snapshotter) *MockPostgresClient {
	return &MockPostgresClient{
		stores: stores,
		logger: logger,
	}
}

// WithTx executes the given function within a transaction
func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	tx, nested := ctx.Value(mockTxKey{}).(*mockTx)
	if !nested {
		tx = &mockTx{parent: ctx}
		ctx = context.WithValue(ctx, mockTxKey{}, tx)
	}

	restores := lo.Map(c.stores, func(s Snapshotter, _ int) func() {
		return s.Snapshot()
	})
	mark := len(tx.hooks)

	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		tx.hooks = tx.hooks[:mark]
		c.mu.Lock()
		c.rollbacks++
		c.mu.Unlock()
		c.logger.Debugw("mock transaction rolled back", "nested", nested, "error", err)
		return err
	}

	if nested {
		return nil
	}

	c.mu.Lock()
	c.commits++
	c.mu.Unlock()

	hooks := tx.hooks
	tx.hooks = nil
	hookCtx := context.WithoutCancel(tx.parent)
	for _, hook := range hooks {
		hook(hookCtx)
	}
	return nil
}

// AfterCommit registers fn to run once the outermost transaction commits
func (c *MockPostgresClient) AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	tx, ok := ctx.Value(mockTxKey{}).(*mockTx)
	if !ok {
		fn(ctx)
		return
	}
	tx.hooks = append(tx.hooks, fn)
}

// Commits returns the number of committed outermost transactions
func (c *MockPostgresClient) Commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

// Rollbacks returns the number of rolled back transactions and savepoints
func (c *MockPostgresClient) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}
