package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is prepended to every key written by a Redis cache.
const DefaultKeyPrefix = "podauth:cache:"

// RedisConfig contains configuration options for a Redis cache.
type RedisConfig struct {
	// Client is the Redis client instance.
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "podauth:cache:"
	KeyPrefix string
}

// Redis is a Cache backed by Redis. Values are stored as JSON and kept
// until deleted, unless they implement Expiring.
type Redis[V any] struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// storedItem represents the structure stored in Redis.
type storedItem[V any] struct {
	Value    V         `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// NewRedis creates a Redis cache. The namespace separates caches of
// different value types sharing one prefix.
func NewRedis[V any](config RedisConfig, namespace string) (*Redis[V], error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}

	return &Redis[V]{
		client:    config.Client,
		keyPrefix: config.KeyPrefix + namespace + ":",
		now:       time.Now,
	}, nil
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	raw, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to get key %s: %w", r.keyPrefix+key, err)
	}

	var item storedItem[V]
	if err := json.Unmarshal(raw, &item); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return item.Value, true, nil
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V) error {
	now := r.now()

	var ttl time.Duration
	if e, ok := any(value).(Expiring); ok {
		if exp := e.CacheExpiry(); !exp.IsZero() {
			ttl = exp.Sub(now)
			if ttl <= 0 {
				return r.Delete(ctx, key)
			}
		}
	}

	raw, err := json.Marshal(storedItem[V]{Value: value, StoredAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal cached value: %w", err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", r.keyPrefix+key, err)
	}
	return nil
}

func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", r.keyPrefix+key, err)
	}
	return nil
}
