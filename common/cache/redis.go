package cache

import (
	"context"
	"time"

	rediscommon "github.com/lyzr/refinery/common/redis"
)

// RedisCache stores entries in Redis through the shared client wrapper
type RedisCache struct {
	client    *rediscommon.Client
	opTimeout time.Duration
}

// NewRedisCache creates a Redis-backed cache. opTimeout bounds each call so a
// hung server cannot stall the caller; zero disables the bound.
func NewRedisCache(client *rediscommon.Client, opTimeout time.Duration) *RedisCache {
	return &RedisCache{client: client, opTimeout: opTimeout}
}

func (c *RedisCache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.client.Get(ctx, key)
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, key, value, ttl)
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.client.Delete(ctx, key)
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.client.Exists(ctx, key)
}

func (c *RedisCache) Increment(ctx context.Context, key string) (int64, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.client.Increment(ctx, key)
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	if ttl <= 0 {
		return c.client.Delete(ctx, key)
	}
	_, err := c.client.Expire(ctx, key, ttl)
	return err
}

// Ping checks that Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.client.Ping(ctx)
}

// Close is a no-op; the client is owned by whoever created it
func (c *RedisCache) Close() error {
	return nil
}
