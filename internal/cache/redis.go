package cache

import (
	"context"
	"errors"
	"time"

	"github.com/flexprice/lifecycle/internal/config"
	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint used when deleting by prefix
const scanBatch = 200

// RedisCache implements Cache on a shared redis instance
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache connects to redis and verifies the connection with PING
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, ierr.WithError(err).
			WithHint("Could not connect to redis").
			WithReportableDetails(map[string]any{"addr": cfg.Addr}).
			Mark(ierr.ErrSystem)
	}
	return NewRedisCacheWithClient(client), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	span := StartCacheSpan(ctx, "redis", "get", map[string]interface{}{"key": key})
	defer FinishSpan(span)

	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		SetSpanSuccess(span)
		return nil, false, nil
	}
	if err != nil {
		SetSpanError(span, err)
		return nil, false, ierr.WithError(err).
			WithHint("Could not read from cache").
			Mark(ierr.ErrSystem)
	}
	SetSpanSuccess(span)
	return b, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	span := StartCacheSpan(ctx, "redis", "set", map[string]interface{}{"key": key})
	defer FinishSpan(span)

	if err := r.client.Set(ctx, key, value, expiration).Err(); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Could not write to cache").
			Mark(ierr.ErrSystem)
	}
	SetSpanSuccess(span)
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Could not delete from cache").
			Mark(ierr.ErrSystem)
	}
	return nil
}

// DeleteByPrefix walks the keyspace with SCAN so redis is never blocked
func (r *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return ierr.WithError(err).
				WithHint("Could not scan cache keys").
				Mark(ierr.ErrSystem)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return ierr.WithError(err).
					WithHint("Could not delete from cache").
					Mark(ierr.ErrSystem)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close closes the underlying client
func (r *RedisCache) Close() error {
	return r.client.Close()
}
