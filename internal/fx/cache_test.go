package fx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *RateCache {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRateCache(client, time.Minute)
}

func TestRateCacheSetGet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	day := date(2026, 3, 1)

	_, ok := cache.Get(ctx, "USD", "EUR", day)
	require.False(t, ok)

	want := decimal.RequireFromString("0.9137")
	cache.Set(ctx, "USD", "EUR", day, want)

	got, ok := cache.Get(ctx, "USD", "EUR", day)
	require.True(t, ok)
	require.True(t, got.Equal(want))

	// Different date is a different key.
	_, ok = cache.Get(ctx, "USD", "EUR", date(2026, 3, 2))
	require.False(t, ok)
}

func TestRateCacheBumpInvalidates(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	day := date(2026, 3, 1)

	cache.Set(ctx, "USD", "EUR", day, decimal.RequireFromString("0.90"))
	_, ok := cache.Get(ctx, "USD", "EUR", day)
	require.True(t, ok)

	require.NoError(t, cache.Bump(ctx))

	_, ok = cache.Get(ctx, "USD", "EUR", day)
	require.False(t, ok)

	// Writes after the bump land under the new version.
	cache.Set(ctx, "USD", "EUR", day, decimal.RequireFromString("0.92"))
	got, ok := cache.Get(ctx, "USD", "EUR", day)
	require.True(t, ok)
	require.True(t, got.Equal(decimal.RequireFromString("0.92")))
}

func TestRateCacheNilSafe(t *testing.T) {
	var cache *RateCache
	ctx := context.Background()

	_, ok := cache.Get(ctx, "USD", "EUR", date(2026, 3, 1))
	require.False(t, ok)
	cache.Set(ctx, "USD", "EUR", date(2026, 3, 1), decimal.NewFromInt(1))
	require.NoError(t, cache.Bump(ctx))
}
