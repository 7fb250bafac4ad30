package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"errors"        // redis.Nil matching
	"strconv"       // Key formatting
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// Cache stores JSON-encoded read models in Redis
type Cache struct {
	rdb redis.Cmdable // Redis client
	ttl time.Duration // Lifetime of every entry
}

// NewCache returns a Cache whose entries expire after ttl
func NewCache(rdb redis.Cmdable, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// HistoryKey is the cache key of a user's merged trade history at a given
// generation
func HistoryKey(userID uint, generation int64) string {
	return "history:user:" + strconv.FormatUint(uint64(userID), 10) + ":" + strconv.FormatInt(generation, 10)
}

// HistoryGenerationKey holds the counter bumped by every trade of the user
func HistoryGenerationKey(userID uint) string {
	return "history:ver:" + strconv.FormatUint(uint64(userID), 10)
}

// Get unmarshals the cached value of key into dest and reports whether it was found
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

// Generation returns the counter stored under key, zero if unset. Entries
// written under an older generation are never read again.
func (c *Cache) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil // Nothing cached yet
	}
	return gen, err
}

// Bump moves key to the next generation, orphaning every entry of the
// previous one
func (c *Cache) Bump(ctx context.Context, key string) error {
	return c.rdb.Incr(ctx, key).Err()
}
