package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/lifecycle/internal/config"
	"github.com/flexprice/lifecycle/internal/logger"
	"github.com/flexprice/lifecycle/internal/types"
)

// Cache is a byte oriented key value store shared by every backend
type Cache interface {
	// Get retrieves a value from the cache
	// Returns the value and a boolean indicating whether the key was found
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set adds a value to the cache with the specified expiration
	// If expiration is 0, the item never expires (but may be evicted)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// Delete removes a key from the cache
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes all keys with the given prefix
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// Predefined cache key prefixes for different entity types
const (
	PrefixEntitlement = "entitlement:v1:"
	PrefixPlanVersion = "plan_version:v1:"
)

// GenerateKey appends the parameters to prefix, joined with a colon
func GenerateKey(prefix string, params ...interface{}) string {
	parts := make([]string, len(params))
	for i, param := range params {
		parts[i] = fmt.Sprintf("%v", param)
	}
	return prefix + strings.Join(parts, ":")
}

// NewCache builds the configured backend
func NewCache(cfg *config.Configuration, log *logger.Logger) (Cache, error) {
	switch cfg.Cache.Backend {
	case types.CacheBackendRedis:
		log.Infow("using redis cache", "addr", cfg.Redis.Addr)
		return NewRedisCache(cfg.Redis)
	default:
		log.Infow("using in-memory cache")
		return NewInMemoryCache(), nil
	}
}
