package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentmkt/marketplace/pkg/fairqueue"
)

// RedisWindowCounter is a Redis-backed fairqueue.WindowCounter, sharing
// one sliding-window count across every marketplace process instead of
// the in-process default. Grounded on the Redis sorted-set indexing
// idiom in internal/fabric/redis_store.go (Generativebots-ocx-backend-
// go-svc), generalized from per-tenant set membership to a per-tenant
// timestamped sorted set that self-trims on every Increment.
type RedisWindowCounter struct {
	client    *redis.Client
	keyPrefix string
}

var _ fairqueue.WindowCounter = (*RedisWindowCounter)(nil)

// NewRedisWindowCounter wraps client in a fairqueue.WindowCounter.
// keyPrefix namespaces keys (e.g. "marketplace:ratewin:"); a default is
// used when empty.
func NewRedisWindowCounter(client *redis.Client, keyPrefix string) *RedisWindowCounter {
	if keyPrefix == "" {
		keyPrefix = "marketplace:ratewin:"
	}
	return &RedisWindowCounter{client: client, keyPrefix: keyPrefix}
}

// Increment records one request for tenantID now and returns the count
// within the trailing window, via ZADD + ZREMRANGEBYSCORE + ZCARD
// against a per-tenant sorted set keyed by request timestamp.
func (c *RedisWindowCounter) Increment(tenantID string, window time.Duration) int {
	ctx := context.Background()
	key := c.keyPrefix + tenantID
	now := time.Now()
	cutoff := now.Add(-window)

	member := fmt.Sprintf("%d-%s", now.UnixNano(), tenantID)

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: an unreachable Redis must never itself become the
		// reason a request is throttled away.
		return 1
	}

	count, err := card.Result()
	if err != nil {
		return 1
	}
	return int(count)
}
