package llm

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a shared response cache for deployments running several
// analyzer processes. Entries expire via Redis TTL; Redis's own eviction
// policy replaces the in-memory LRU batching.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisCache connects to a redis:// URL.
func NewRedisCache(rawURL string, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: redis.NewClient(opts),
		prefix: "llm:response:",
		logger: logger,
	}, nil
}

// Get returns the cached response. Redis errors degrade to a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Warn("redis cache get failed", "error", err)
		return "", false
	}
	return val, true
}

// Set stores a response with the standard TTL. Redis errors are logged
// and dropped; the cache is best-effort.
func (c *RedisCache) Set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, c.prefix+key, value, cacheTTL).Err(); err != nil {
		c.logger.Warn("redis cache set failed", "error", err)
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
