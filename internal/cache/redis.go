package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared tier-2 store. It also carries the stream append
// used by the snapshot publisher.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisStore wraps an existing client. The prefix namespaces cache keys
// so election and stream keys stay unprefixed.
func NewRedisStore(client redis.Cmdable, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) fullKey(key string) string {
	return r.keyPrefix + key
}

// Get returns the payload and its remaining TTL. The TTL is used to promote
// the value into tier-1 without extending its lifetime.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	full := r.fullKey(key)
	val, err := r.client.Get(ctx, full).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	ttl, err := r.client.PTTL(ctx, full).Result()
	if err != nil || ttl <= 0 {
		// Key may have expired between GET and PTTL; treat as a miss.
		return nil, 0, false, nil
	}
	return val, ttl, true, nil
}

// Set writes the payload with the given TTL.
func (r *RedisStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.fullKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// PublishToStream appends fields to a capped stream. Trimming is
// approximate (MAXLEN ~) which is cheaper on the server.
func (r *RedisStore) PublishToStream(ctx context.Context, streamKey string, fields map[string]interface{}, maxLen int64) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: maxLen,
		Approx: true,
		Values: fields,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", streamKey, err)
	}
	return nil
}

// Healthy pings the store.
func (r *RedisStore) Healthy(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}
