package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"
)

// ScoreCache implements cache.Cache over Redis. Values are opaque
// bytes; callers own serialization. SET is an idempotent upsert, so
// concurrent writers for the same key need no extra locking.
type ScoreCache struct {
	client *redis.Client
}

// NewScoreCache wraps an existing Redis client
func NewScoreCache(client *redis.Client) *ScoreCache {
	return &ScoreCache{client: client}
}

// Get returns the cached value and whether the key was present
func (c *ScoreCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts a value with a TTL
func (c *ScoreCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
