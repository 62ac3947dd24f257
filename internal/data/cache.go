package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fallbackKeyPrefix namespaces cached responses: fallback:{dependency}:{key}
const fallbackKeyPrefix = "fallback"

// ErrCacheNotFound is returned when a cache key does not exist.
var ErrCacheNotFound = errors.New("cache: key not found")

// CacheClient is the shared cache tier used by the fallback store.
// Implementations must be safe for concurrent use.
type CacheClient interface {
	// Get retrieves a value and deserializes it into dest. Returns
	// ErrCacheNotFound if the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a JSON-serialized value with the given TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a key exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// redisCache is the Redis-backed CacheClient.
type redisCache struct {
	client *redis.Client
}

// NewCacheClient creates the Redis cache client. A nil Redis client
// yields a CacheClient whose operations fail fast, which the fallback
// store treats as a cache miss.
func NewCacheClient(rdb *redis.Client) CacheClient {
	return &redisCache{
		client: rdb,
	}
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return errors.New("cache: redis client is nil")
	}

	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("cache: failed to unmarshal value for key %s: %w", key, err)
	}

	return nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return errors.New("cache: redis client is nil")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}

	return nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	if c.client == nil {
		return errors.New("cache: redis client is nil")
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete key %s: %w", key, err)
	}

	return nil
}

func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, errors.New("cache: redis client is nil")
	}

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: failed to check key %s: %w", key, err)
	}

	return n > 0, nil
}

// fallbackCacheKey builds the namespaced Redis key for a cached
// response.
func fallbackCacheKey(dependency, key string) string {
	return fmt.Sprintf("%s:%s:%s", fallbackKeyPrefix, dependency, key)
}
