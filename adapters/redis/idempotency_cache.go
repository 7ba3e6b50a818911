// Package redis provides a Redis-backed hookrelay.IdempotencyCache.
//
// The cache only short-circuits the database lookup on resubmissions; the
// unique index on (source, idempotency_key) remains the source of truth, so an
// evicted or unavailable cache never lets a duplicate through.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an idempotency key is remembered.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "hookrelay:idempotency:"

// IdempotencyCache implements hookrelay.IdempotencyCache.
type IdempotencyCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewIdempotencyCache creates a cache on client. A non-positive ttl uses DefaultTTL.
func NewIdempotencyCache(client goredis.UniversalClient, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

func cacheKey(source, key string) string {
	// Length-prefix the source so ("a:b", "c") and ("a", "b:c") never collide.
	return keyPrefix + strconv.Itoa(len(source)) + ":" + source + ":" + key
}

// Get returns the event ID remembered for (source, key).
func (c *IdempotencyCache) Get(ctx context.Context, source, key string) (string, bool, error) {
	id, err := c.client.Get(ctx, cacheKey(source, key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Set remembers the event ID for (source, key). The first writer wins.
func (c *IdempotencyCache) Set(ctx context.Context, source, key, eventID string) error {
	return c.client.SetNX(ctx, cacheKey(source, key), eventID, c.ttl).Err()
}
