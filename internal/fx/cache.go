package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const cacheVersionKey = "fx:rates:version"

// RateCache caches resolved rates in Redis behind a version counter.
// Ingest bumps the version instead of enumerating keys, so lookups for
// unrelated dates never block on an in-flight ingest.
type RateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRateCache instantiates the cache helper.
func NewRateCache(client *redis.Client, ttl time.Duration) *RateCache {
	return &RateCache{client: client, ttl: ttl}
}

func (c *RateCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *RateCache) key(ctx context.Context, from, to string, onDate time.Time) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("fx:rate:%s:%s:%s:%d", from, to, onDate.Format("2006-01-02"), ver), nil
}

// Get returns the cached rate and whether it was present. A cache
// error is reported as a miss; the caller falls through to the store.
func (c *RateCache) Get(ctx context.Context, from, to string, onDate time.Time) (decimal.Decimal, bool) {
	if c == nil || c.client == nil {
		return decimal.Zero, false
	}
	key, err := c.key(ctx, from, to, onDate)
	if err != nil {
		return decimal.Zero, false
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return rate, true
}

// Set stores a resolved rate.
func (c *RateCache) Set(ctx context.Context, from, to string, onDate time.Time, rate decimal.Decimal) {
	if c == nil || c.client == nil {
		return
	}
	key, err := c.key(ctx, from, to, onDate)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, rate.String(), c.ttl).Err()
}

// Bump invalidates all cached rates by advancing the version.
func (c *RateCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
