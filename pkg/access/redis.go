package access

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is the shared decision cache for multi-replica deployments.
// Invalidation bumps a generation counter instead of scanning keys: stale
// verdicts become unreachable immediately and expire on their own TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

const (
	redisKeyPrefix     = "lantern:decision:"
	redisGenerationKey = "lantern:decision-generation"
)

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Client exposes the underlying connection for health checks.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get implements DecisionCache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) (bool, bool) {
	val, err := c.client.Get(ctx, c.versionedKey(ctx, key)).Result()
	if err != nil {
		return false, false
	}
	return val == "1", true
}

// Set implements DecisionCache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	c.client.Set(ctx, c.versionedKey(ctx, key), val, c.ttl)
}

// Invalidate implements DecisionCache.Invalidate.
func (c *RedisCache) Invalidate(ctx context.Context) {
	c.client.Incr(ctx, redisGenerationKey)
}

func (c *RedisCache) versionedKey(ctx context.Context, key string) string {
	gen, err := c.client.Get(ctx, redisGenerationKey).Result()
	if err != nil {
		gen = "0"
	}
	return redisKeyPrefix + gen + ":" + key
}
