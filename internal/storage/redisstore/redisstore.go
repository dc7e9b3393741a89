// Package redisstore holds the volatile Redis-backed helpers: the revoked-jti
// fast path and the MFA failure counters. Redis is an accelerator here, never
// the source of truth; callers treat its errors as cache misses and fall back
// to PostgreSQL.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	revokedKeyPrefix = "identity:revoked:"
	failKeyPrefix    = "identity:fail:"
)

// Connect parses the URL, opens a client and verifies the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}
