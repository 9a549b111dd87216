package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "idem"

// dedupeKey namespaces idempotency keys per user so one user's keys can never
// shadow another's.
func dedupeKey(userID, key string) string {
	return userID + ":" + dedupeKeyPrefix + ":" + key
}

// RedisDeduper records processed idempotency keys in Redis so every instance
// sees the same replay set.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, dedupeKey(userID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when downstream
// processing fails so the caller may retry the command.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, dedupeKey(userID, key)).Err()
}

// AddMany records the keys in a single pipeline. The result slice marks the
// keys that were newly added. On a pipeline error the slice still reflects
// every SetNX that actually took effect, so the caller can roll those keys
// back and a client retry is not swallowed as a duplicate.
func (r *RedisDeduper) AddMany(ctx context.Context, userID string, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	adds := make([]*redis.BoolCmd, len(keys))
	for i, key := range keys {
		adds[i] = pipe.SetNX(ctx, dedupeKey(userID, key), 1, r.ttl)
	}
	_, execErr := pipe.Exec(ctx)

	results := make([]bool, len(keys))
	for i, cmd := range adds {
		if cmd.Err() == nil {
			results[i] = cmd.Val()
		}
	}
	return results, execErr
}
