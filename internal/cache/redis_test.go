package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheWithClient(client), mr
}

func TestRedisCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedisCache(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "entitlement:v1:cust_1", []byte(`{"a":1}`), time.Minute))
	got, ok, err := c.Get(ctx, "entitlement:v1:cust_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, c.Delete(ctx, "entitlement:v1:cust_1"))
	_, ok, err = c.Get(ctx, "entitlement:v1:cust_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Expiration(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t)

	for _, k := range []string{"entitlement:v1:a", "entitlement:v1:b", "plan_version:v1:a"} {
		require.NoError(t, c.Set(ctx, k, []byte("x"), 0))
	}

	require.NoError(t, c.DeleteByPrefix(ctx, PrefixEntitlement))
	assert.Equal(t, []string{"plan_version:v1:a"}, mr.Keys())
}

func TestInMemoryCache_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	require.NoError(t, c.Set(ctx, "entitlement:v1:a", []byte("x"), 0))
	require.NoError(t, c.Set(ctx, "plan_version:v1:a", []byte("y"), 0))
	require.NoError(t, c.DeleteByPrefix(ctx, PrefixEntitlement))

	_, ok, _ := c.Get(ctx, "entitlement:v1:a")
	assert.False(t, ok)
	got, ok, _ := c.Get(ctx, "plan_version:v1:a")
	assert.True(t, ok)
	assert.Equal(t, "y", string(got))
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "entitlement:v1:cust_1", GenerateKey(PrefixEntitlement, "cust_1"))
	assert.Equal(t, "plan_version:v1:a:2", GenerateKey(PrefixPlanVersion, "a", 2))
}
