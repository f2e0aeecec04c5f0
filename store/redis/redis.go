// Package redis provides a Redis-backed [store.Store] so several processes
// can share one fixed-window budget per endpoint key.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/ryhazerus/flowguard/store"
)

// Compile-time interface check.
var _ store.Store = (*RedisStore)(nil)

// RedisStore is a Store backed by Redis. Each key is stored as a Redis hash
// with fields "count" and "bucket_key". A TTL equal to the window duration is
// set on each key for automatic expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// incrementScript adds n to a counter if the result stays within limit,
// resetting the counter when the bucket key changes. Returns {count, admitted}.
//
// KEYS[1] = counter key
// ARGV[1] = bucket_key
// ARGV[2] = window duration in milliseconds (for TTL)
// ARGV[3] = n
// ARGV[4] = limit
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local bucket_key = ARGV[1]
local ttl = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])

local count = 0
if redis.call("HGET", key, "bucket_key") == bucket_key then
    count = tonumber(redis.call("HGET", key, "count") or "0")
end

if count + n > limit then
    return {count, 0}
end

count = count + n
redis.call("HSET", key, "count", tostring(count), "bucket_key", bucket_key)
if ttl > 0 then
    redis.call("PEXPIRE", key, ttl)
end
return {count, 1}
`)

// Increment atomically adds n to the counter for key when the result stays
// within limit. If the bucket has rolled over, the counter resets.
func (r *RedisStore) Increment(ctx context.Context, key string, w store.Window, n, limit int64) (int64, bool, error) {
	ttl := w.Duration.Milliseconds()
	result, err := incrementScript.Run(ctx, r.client, []string{redisKey(key)}, w.BucketKey, ttl, n, limit).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("flowguard/store/redis: increment: %w", err)
	}
	if len(result) != 2 {
		return 0, false, fmt.Errorf("flowguard/store/redis: increment: unexpected reply %v", result)
	}
	return result[0], result[1] == 1, nil
}

// Get returns the current counter value for key in the active window bucket.
func (r *RedisStore) Get(ctx context.Context, key string, w store.Window) (int64, error) {
	vals, err := r.client.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("flowguard/store/redis: get: %w", err)
	}

	if len(vals) == 0 {
		return 0, nil
	}

	if vals["bucket_key"] != w.BucketKey {
		return 0, nil
	}

	count, err := strconv.ParseInt(vals["count"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("flowguard/store/redis: parse count: %w", err)
	}

	return count, nil
}

// Reset removes the counter for the given key.
func (r *RedisStore) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKey(key)).Err()
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func redisKey(key string) string {
	return "flowguard:" + key
}
