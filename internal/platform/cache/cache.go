package cache

import (
	"context"
	"time"
)

// Cache is the atomic key-value capability backing shared circuit-breaker state.
// Increment must be atomic across all workers sharing the cache; callers rely on
// it for threshold decisions and must never emulate it with Get followed by Put.
type Cache interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores value under key with the given TTL. A zero TTL means no expiry.
	Put(ctx context.Context, key string, value string, ttl time.Duration) error
	// Increment atomically adds 1 to the integer at key and returns the new
	// value. A missing key counts from zero. The TTL is applied when the key is
	// first created.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Forget removes key. Removing a missing key is not an error.
	Forget(ctx context.Context, key string) error
}
