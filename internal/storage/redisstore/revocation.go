package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RevocationCache mirrors blacklisted jtis with a TTL matching the token's
// own remaining lifetime, so entries self-expire exactly when the blacklist
// row stops mattering.
type RevocationCache struct {
	client *redis.Client
}

func NewRevocationCache(client *redis.Client) *RevocationCache {
	return &RevocationCache{client: client}
}

func revokedKey(jti uuid.UUID) string {
	return revokedKeyPrefix + jti.String()
}

// CacheRevocation records the jti until its natural expiry. A non-positive
// ttl means the token is already dead and needs no cache entry.
func (c *RevocationCache) CacheRevocation(ctx context.Context, jti uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("caching revoked jti: %w", err)
	}
	return nil
}

// IsRevoked reports a cache hit. A miss says nothing; the caller still has
// the blacklist table.
func (c *RevocationCache) IsRevoked(ctx context.Context, jti uuid.UUID) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("checking revoked jti: %w", err)
	}
	return n > 0, nil
}
