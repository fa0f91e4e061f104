// Package cache provides the key-value caches used for discovery documents
// and client registrations.
//
// Two backends are available: an in-process map (the default) and Redis,
// which lets several podauth processes share what they have discovered.
package cache

import (
	"context"
	"time"
)

// Cache stores values of type V by string key.
//
// Get reports whether the key was present. A missing key is not an error.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V) error
	Delete(ctx context.Context, key string) error
}

// Expiring is implemented by values that stop being useful at a known
// time. Backends that evict on their own keep such a value until then and
// no longer. A zero time means the value does not expire.
type Expiring interface {
	CacheExpiry() time.Time
}
