package notification

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDedupPrefix = "notification:dedup:"

// RedisDeduplicator shares processed-message state across replicas. SET with
// a TTL gives the same expiry semantics as the in-memory cache.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := d.client.Exists(ctx, redisDedupPrefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduplicator) MarkProcessed(ctx context.Context, id string) error {
	return d.client.Set(ctx, redisDedupPrefix+id, "1", d.ttl).Err()
}
