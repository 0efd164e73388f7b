// Package cache provides the key-value stores with TTL expiry used to remember
// when data was last refreshed.
package cache

import (
	"context"
	"time"
)

// Store is a string key-value store whose entries expire after a TTL.
// Get reports a miss with ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
