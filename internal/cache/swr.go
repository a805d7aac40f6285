package cache

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/logger"
	jsoniter "github.com/json-iterator/go"
	"github.com/sourcegraph/conc"
)

// Loader reads a value from its source of truth
type Loader[T any] func(ctx context.Context) (T, error)

type entry[T any] struct {
	Value    T         `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// SWR is a namespaced stale-while-revalidate reader. Values younger than
// freshFor are returned as is. Values younger than staleFor are returned
// while one background refresh per key reloads them. Older values are never
// served.
type SWR[T any] struct {
	cache     Cache
	namespace string
	freshFor  time.Duration
	staleFor  time.Duration
	logger    *logger.Logger
	now       func() time.Time

	mu         sync.Mutex
	refreshing map[string]struct{}
	wg         conc.WaitGroup
}

func NewSWR[T any](c Cache, namespace string, cfg config.CacheConfig, log *logger.Logger) *SWR[T] {
	return &SWR[T]{
		cache:      c,
		namespace:  namespace,
		freshFor:   cfg.FreshFor,
		staleFor:   cfg.StaleFor,
		logger:     log,
		now:        time.Now,
		refreshing: make(map[string]struct{}),
	}
}

// WithClock replaces the wall clock used to age entries
func (s *SWR[T]) WithClock(now func() time.Time) *SWR[T] {
	s.now = now
	return s
}

// Get returns the cached value of id, loading it through load when missing or
// too old. Cache failures fall back to load and are only logged.
func (s *SWR[T]) Get(ctx context.Context, id string, load Loader[T]) (T, error) {
	key := GenerateKey(s.namespace, id)

	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warnw("cache read failed, loading from source", "key", key, "error", err)
	}

	if ok {
		var e entry[T]
		if err := jsoniter.ConfigFastest.Unmarshal(raw, &e); err != nil {
			s.logger.Warnw("dropping undecodable cache entry", "key", key, "error", err)
		} else {
			age := s.now().Sub(e.StoredAt)
			switch {
			case age < s.freshFor:
				return e.Value, nil
			case age < s.staleFor:
				s.revalidate(ctx, key, load)
				return e.Value, nil
			}
		}
	}

	return s.loadAndStore(ctx, key, load)
}

// Invalidate drops the cached value of id
func (s *SWR[T]) Invalidate(ctx context.Context, id string) error {
	return s.cache.Delete(ctx, GenerateKey(s.namespace, id))
}

// Wait blocks until every background refresh has finished
func (s *SWR[T]) Wait() {
	s.wg.Wait()
}

func (s *SWR[T]) revalidate(ctx context.Context, key string, load Loader[T]) {
	s.mu.Lock()
	if _, busy := s.refreshing[key]; busy {
		s.mu.Unlock()
		return
	}
	s.refreshing[key] = struct{}{}
	s.mu.Unlock()

	// the refresh outlives the request that triggered it
	bg := context.WithoutCancel(ctx)
	s.wg.Go(func() {
		defer func() {
			s.mu.Lock()
			delete(s.refreshing, key)
			s.mu.Unlock()
		}()
		if _, err := s.loadAndStore(bg, key, load); err != nil {
			s.logger.Errorw("background cache refresh failed", "key", key, "error", err)
		}
	})
}

func (s *SWR[T]) loadAndStore(ctx context.Context, key string, load Loader[T]) (T, error) {
	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	raw, err := jsoniter.ConfigFastest.Marshal(entry[T]{Value: value, StoredAt: s.now()})
	if err != nil {
		s.logger.Warnw("could not encode cache entry", "key", key, "error", err)
		return value, nil
	}
	if err := s.cache.Set(ctx, key, raw, s.staleFor); err != nil {
		s.logger.Warnw("cache write failed", "key", key, "error", err)
	}
	return value, nil
}
