package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FailureLimiter counts failures per key inside a fixed window. The window
// starts on the first failure and the key expires with it, so a quiet user
// costs nothing.
type FailureLimiter struct {
	client *redis.Client
}

func NewFailureLimiter(client *redis.Client) *FailureLimiter {
	return &FailureLimiter{client: client}
}

func failKey(key string) string {
	return failKeyPrefix + key
}

// Count returns the current failure count and how long the window has left.
// An absent key reads as zero.
func (l *FailureLimiter) Count(ctx context.Context, key string) (int64, time.Duration, error) {
	k := failKey(key)
	count, err := l.client.Get(ctx, k).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("reading failure counter: %w", err)
	}
	remaining, err := l.client.TTL(ctx, k).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("reading failure counter ttl: %w", err)
	}
	if remaining < 0 {
		remaining = 0
	}
	return count, remaining, nil
}

// Incr adds one failure and returns the new count with the remaining window.
// The expiry lands on the first increment; a counter that somehow lost its
// TTL gets one reattached rather than living forever.
func (l *FailureLimiter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := failKey(key)
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("incrementing failure counter: %w", err)
	}

	remaining, err := l.client.TTL(ctx, k).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("reading failure counter ttl: %w", err)
	}
	if count == 1 || remaining < 0 {
		if err := l.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("setting failure counter ttl: %w", err)
		}
		remaining = window
	}
	return count, remaining, nil
}

// Reset clears the counter. Deleting an absent key is fine.
func (l *FailureLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, failKey(key)).Err(); err != nil {
		return fmt.Errorf("resetting failure counter: %w", err)
	}
	return nil
}
