// Package cache implements the Cache Primitive (§4.2): a thin namespaced
// K/V built on an external in-memory store (Redis), with TTL, atomic
// multi-op pipelines, and pattern-scoped invalidation. Errors from the
// store never propagate to the caller — operations degrade to their
// zero value (nil/false/empty) so callers can fall back gracefully.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TTL constants, named the way the original service names them.
const (
	SessionTTL   = time.Hour
	ShortTermTTL = 30 * time.Minute
	LongTermTTL  = 24 * time.Hour
)

// MakeKey builds a namespaced key: "remembr:<namespace>:<part>:...".
func MakeKey(namespace string, parts ...string) string {
	key := "remembr:" + namespace
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// Store is the interface consumed by the rest of the core. *Cache (Redis)
// and *MemStore (in-process, used in tests) both implement it.
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	Get(ctx context.Context, key string, dst any) bool
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	Expire(ctx context.Context, key string, ttl time.Duration) bool
	TTL(ctx context.Context, key string) time.Duration
	Increment(ctx context.Context, key string, amount int64) (int64, bool)
	SetMany(ctx context.Context, mapping map[string]any, ttl time.Duration) bool
	GetMany(ctx context.Context, keys []string) map[string]json.RawMessage
	DeletePattern(ctx context.Context, pattern string) int
	AtomicReplace(ctx context.Context, key string, value any, ttl time.Duration) bool
}

// Cache wraps a Redis client with the namespaced operation set the rest of
// the core depends on.
type Cache struct {
	rdb *redis.Client
	log *zap.Logger
}

// New returns a Cache backed by the given Redis client.
func New(rdb *redis.Client, log *zap.Logger) *Cache {
	return &Cache{rdb: rdb, log: log}
}

// Set stores value (JSON-serialized) under key, with optional ttl. ttl <= 0
// means no expiration. Returns false (never an error) on any store failure.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	serialized, err := json.Marshal(value)
	if err != nil {
		c.log.Error("cache set: marshal failed", zap.String("key", key), zap.Error(err))
		return false
	}

	var cmdErr error
	if ttl > 0 {
		cmdErr = c.rdb.SetEx(ctx, key, serialized, ttl).Err()
	} else {
		cmdErr = c.rdb.Set(ctx, key, serialized, 0).Err()
	}
	if cmdErr != nil {
		c.log.Error("cache set failed", zap.String("key", key), zap.Error(cmdErr))
		return false
	}
	return true
}

// Get deserializes the value under key into dst. Returns false on miss or
// any store/decode failure — callers never see a distinct error value.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false // miss or store error — both surface as "not found"
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Error("cache get: unmarshal failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Delete removes key. Returns true if a key was actually deleted.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		c.log.Error("cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		c.log.Error("cache exists check failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// Expire sets a new TTL on an existing key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := c.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		c.log.Error("cache expire failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// TTL returns the remaining time to live, -1 if no expiration is set, or -2
// if the key does not exist.
func (c *Cache) TTL(ctx context.Context, key string) time.Duration {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		c.log.Error("cache ttl check failed", zap.String("key", key), zap.Error(err))
		return -2 * time.Second
	}
	return d
}

// Increment adds amount to the numeric value at key, returning the new
// value and true, or (0, false) on failure.
func (c *Cache) Increment(ctx context.Context, key string, amount int64) (int64, bool) {
	n, err := c.rdb.IncrBy(ctx, key, amount).Result()
	if err != nil {
		c.log.Error("cache increment failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return n, true
}

// SetMany stores a batch of key/value pairs in a single round trip, with an
// optional shared TTL applied to every key.
func (c *Cache) SetMany(ctx context.Context, mapping map[string]any, ttl time.Duration) bool {
	serialized := make(map[string]any, len(mapping))
	for k, v := range mapping {
		b, err := json.Marshal(v)
		if err != nil {
			c.log.Error("cache set_many: marshal failed", zap.String("key", k), zap.Error(err))
			return false
		}
		serialized[k] = b
	}

	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.MSet(ctx, serialized)
		if ttl > 0 {
			for k := range serialized {
				pipe.Expire(ctx, k, ttl)
			}
		}
		return nil
	})
	if err != nil {
		c.log.Error("cache set_many failed", zap.Error(err))
		return false
	}
	return true
}

// GetMany returns the deserialized values for whichever of keys exist.
// Keys that are missing or fail to decode are simply absent from the result.
func (c *Cache) GetMany(ctx context.Context, keys []string) map[string]json.RawMessage {
	result := make(map[string]json.RawMessage)
	if len(keys) == 0 {
		return result
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Error("cache get_many failed", zap.Error(err))
		return result
	}

	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		result[keys[i]] = json.RawMessage(s)
	}
	return result
}

// DeletePattern deletes every key matching pattern (e.g. "remembr:session:*")
// via a non-blocking SCAN, returning the number of keys deleted.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) int {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Error("cache delete_pattern scan failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		c.log.Error("cache delete_pattern failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	return int(n)
}

// AtomicReplace atomically replaces the value at key: delete then setex in a
// single pipeline, so readers never observe a partially-applied state. This
// is the primitive the short-term window engine's atomic-swap semantics
// (§9) depend on.
func (c *Cache) AtomicReplace(ctx context.Context, key string, value any, ttl time.Duration) bool {
	serialized, err := json.Marshal(value)
	if err != nil {
		c.log.Error("cache atomic replace: marshal failed", zap.String("key", key), zap.Error(err))
		return false
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SetEx(ctx, key, serialized, ttl)
		return nil
	})
	if err != nil {
		c.log.Error("cache atomic replace failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
