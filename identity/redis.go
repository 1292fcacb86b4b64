package identity

import (
	"context"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "nexus:identity:lastlist:"

// RedisCache keeps the per-identity context in Redis so implicit chaining
// works across processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) RememberListID(ctx context.Context, key Key, listID string) error {
	if err := c.client.Set(ctx, redisKeyPrefix+string(key), listID, c.ttl).Err(); err != nil {
		return errors.Wrapf(err, "storing last list id for identity")
	}
	return nil
}

func (c *RedisCache) LastListID(ctx context.Context, key Key) (string, bool, error) {
	listID, err := c.client.Get(ctx, redisKeyPrefix+string(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "reading last list id for identity")
	}
	return listID, true, nil
}
