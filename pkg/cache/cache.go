// Package cache defines the score cache injected into the engine.
// Ownership and lifecycle belong to the caller; components only read
// and upsert through this interface.
package cache

import (
	"context"
	"time"
)

// Cache is a read-mostly, short-TTL key/value store for recent
// source scores and fusion results. Writes are idempotent key-based
// upserts, safe for concurrent use.
type Cache interface {
	// Get returns the cached value and whether the key was present
	// and unexpired
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set upserts a value with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
