// Package dedupe remembers which submissions have already been stored so
// redeliveries can be acknowledged without touching the database.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "landregistry:processed:"

// Cache records processed submission IDs.
type Cache interface {
	// Seen reports whether id was marked processed.
	Seen(ctx context.Context, id string) (bool, error)

	// Mark records id as processed.
	Mark(ctx context.Context, id string) error

	Close() error
}

// RedisCache implements Cache with one expiring key per submission.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func key(id string) string { return keyPrefix + id }

func (c *RedisCache) Seen(ctx context.Context, id string) (bool, error) {
	n, err := c.client.Exists(ctx, key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe lookup: %w", err)
	}
	return n > 0, nil
}

// Mark uses SET NX so the first writer's timestamp is kept.
func (c *RedisCache) Mark(ctx context.Context, id string) error {
	err := c.client.SetNX(ctx, key(id), time.Now().UTC().Format(time.RFC3339), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("dedupe mark: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoOpCache never reports a submission as seen.
type NoOpCache struct{}

func (NoOpCache) Seen(context.Context, string) (bool, error) { return false, nil }
func (NoOpCache) Mark(context.Context, string) error         { return nil }
func (NoOpCache) Close() error                               { return nil }
