package service

import (
	"context"
	"sync"

	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/sourcegraph/conc/pool"
)

// BackgroundPool runs post commit work on a bounded set of goroutines
type BackgroundPool struct {
	mu     sync.RWMutex
	pool   *pool.Pool
	size   int
	logger *logger.Logger
}

func NewBackgroundPool(cfg *config.Configuration, logger *logger.Logger) *BackgroundPool {
	size := cfg.Billing.BackgroundWorkers
	if size <= 0 {
		size = 1
	}
	return &BackgroundPool{
		pool:   pool.New().WithMaxGoroutines(size),
		size:   size,
		logger: logger,
	}
}

// Go runs fn in the background. It blocks while every worker is busy.
func (b *BackgroundPool) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.pool.Go(func() {
		if err := fn(ctx); err != nil {
			b.logger.Errorw("background task failed",
				"task", name,
				"tenant_id", types.GetTenantID(ctx),
				"error", err,
			)
		}
	})
}

// Wait blocks until every task submitted so far has finished. The pool
// keeps accepting work afterwards.
func (b *BackgroundPool) Wait() {
	b.mu.Lock()
	current := b.pool
	b.pool = pool.New().WithMaxGoroutines(b.size)
	b.mu.Unlock()

	current.Wait()
}
