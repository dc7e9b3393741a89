package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:             srv.Addr(),
		DisableIndentity: true,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRevocationCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewRevocationCache(testClient(t))

	jti := uuid.New()
	revoked, err := cache.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, cache.CacheRevocation(ctx, jti, time.Minute))

	revoked, err = cache.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	other, err := cache.IsRevoked(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, other, "unrelated jti must not read as revoked")
}

func TestRevocationCacheExpiresWithToken(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), DisableIndentity: true})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRevocationCache(client)

	jti := uuid.New()
	require.NoError(t, cache.CacheRevocation(ctx, jti, 30*time.Second))

	srv.FastForward(31 * time.Second)

	revoked, err := cache.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked, "entry must expire with the token lifetime")
}

func TestRevocationCacheSkipsDeadTokens(t *testing.T) {
	ctx := context.Background()
	cache := NewRevocationCache(testClient(t))

	jti := uuid.New()
	require.NoError(t, cache.CacheRevocation(ctx, jti, 0))
	require.NoError(t, cache.CacheRevocation(ctx, jti, -time.Minute))

	revoked, err := cache.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked, "expired tokens need no cache entry")
}

func TestFailureLimiterCountsWithinWindow(t *testing.T) {
	ctx := context.Background()
	limiter := NewFailureLimiter(testClient(t))

	count, remaining, err := limiter.Count(ctx, "mfa_fail:nobody")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, remaining)

	for i := int64(1); i <= 3; i++ {
		count, remaining, err = limiter.Incr(ctx, "mfa_fail:alice", 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.Greater(t, remaining, time.Duration(0))
	}

	count, _, err = limiter.Count(ctx, "mfa_fail:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Another key is an independent counter.
	count, _, err = limiter.Count(ctx, "mfa_fail:bob")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFailureLimiterWindowExpiry(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), DisableIndentity: true})
	t.Cleanup(func() { _ = client.Close() })
	limiter := NewFailureLimiter(client)

	_, _, err := limiter.Incr(ctx, "mfa_fail:carol", time.Minute)
	require.NoError(t, err)
	_, _, err = limiter.Incr(ctx, "mfa_fail:carol", time.Minute)
	require.NoError(t, err)

	srv.FastForward(61 * time.Second)

	count, _, err := limiter.Count(ctx, "mfa_fail:carol")
	require.NoError(t, err)
	assert.Zero(t, count, "window expiry must clear the counter")

	// The window restarts from the first failure after expiry, not from the
	// original one.
	count, remaining, err := limiter.Incr(ctx, "mfa_fail:carol", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, remaining)
}

func TestFailureLimiterReset(t *testing.T) {
	ctx := context.Background()
	limiter := NewFailureLimiter(testClient(t))

	_, _, err := limiter.Incr(ctx, "mfa_fail:dave", time.Minute)
	require.NoError(t, err)
	require.NoError(t, limiter.Reset(ctx, "mfa_fail:dave"))

	count, _, err := limiter.Count(ctx, "mfa_fail:dave")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, limiter.Reset(ctx, "mfa_fail:never-seen"))
}
