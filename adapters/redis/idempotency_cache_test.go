package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestIdempotencyCache_GetSet(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewIdempotencyCache(client, time.Hour)
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "billing", "key-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "billing", "key-1", "evt_1"))

	id, found, err := cache.Get(ctx, "billing", "key-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "evt_1", id)

	// First writer wins.
	require.NoError(t, cache.Set(ctx, "billing", "key-1", "evt_2"))
	id, _, err = cache.Get(ctx, "billing", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "evt_1", id)

	_, found, err = cache.Get(ctx, "shipping", "key-1")
	require.NoError(t, err)
	assert.False(t, found, "keys are scoped per source")
}

func TestIdempotencyCache_KeysDoNotCollide(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewIdempotencyCache(client, 0)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a:b", "c", "evt_1"))

	_, found, err := cache.Get(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotencyCache_Expiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewIdempotencyCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "billing", "key-1", "evt_1"))

	mr.FastForward(2 * time.Minute)

	_, found, err := cache.Get(ctx, "billing", "key-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotencyCache_DefaultTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewIdempotencyCache(client, 0)

	require.NoError(t, cache.Set(context.Background(), "billing", "key-1", "evt_1"))
	assert.Equal(t, DefaultTTL, mr.TTL(cacheKey("billing", "key-1")))
}

func TestIdempotencyCache_Unavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewIdempotencyCache(client, time.Hour)
	mr.Close()

	_, _, err := cache.Get(context.Background(), "billing", "key-1")
	assert.Error(t, err)
}
