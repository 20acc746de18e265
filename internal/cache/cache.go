// Package cache defines the shared tier the dataset cache can sit on top of.
package cache

import (
	"context"
	"time"
)

// Shared is an optional cross-replica store for encoded datasets.
type Shared interface {
	// Get returns the value and its remaining TTL (0 when the key has no
	// expiry); found is false on a miss.
	Get(ctx context.Context, key string) (val []byte, ttl time.Duration, found bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
