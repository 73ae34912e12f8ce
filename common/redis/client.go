package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Options configures a new raw client
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

// NewRaw creates a go-redis client tuned for fail-fast behaviour. Callers
// treat Redis as optional, so a dead server must surface quickly instead of
// stalling requests behind retries.
func NewRaw(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
		MaxRetries:   -1,
	})
}

// Client wraps redis.Client with common operations and instrumentation
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.redis.Close()
}

// Get retrieves a value by key. A missing key is reported as found=false
// with a nil error.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("redis GET key not found", "key", key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	c.logger.Debug("redis GET", "key", key)
	return val, true, nil
}

// Set sets a key with optional expiration (0 = no expiration)
func (c *Client) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if err := c.redis.Set(ctx, key, value, expiry).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	if expiry > 0 {
		c.logger.Debug("redis SET", "key", key, "expiry", expiry)
	} else {
		c.logger.Debug("redis SET", "key", key)
	}
	return nil
}

// Delete removes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	c.logger.Debug("redis DEL", "keys", keys)
	return nil
}

// Exists reports whether a key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return n > 0, nil
}

// Increment increments a counter and returns the new value
func (c *Client) Increment(ctx context.Context, key string) (int64, error) {
	val, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}
	c.logger.Debug("redis INCR", "key", key, "value", val)
	return val, nil
}

// Expire sets a TTL on an existing key. Reports false if the key is missing.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.redis.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to expire key %s: %w", key, err)
	}
	c.logger.Debug("redis EXPIRE", "key", key, "ttl", ttl, "applied", ok)
	return ok, nil
}

// RunScript executes a Lua script atomically (EVALSHA with EVAL fallback)
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.Run(ctx, c.redis, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to run script on %v: %w", keys, err)
	}
	return res, nil
}

// CountByScore counts sorted-set members with score in [min, max]
func (c *Client) CountByScore(ctx context.Context, key, min, max string) (int64, error) {
	n, err := c.redis.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to zcount %s: %w", key, err)
	}
	return n, nil
}

// OldestInRange returns the lowest score in [min, max], found=false if empty
func (c *Client) OldestInRange(ctx context.Context, key, min, max string) (float64, bool, error) {
	zs, err := c.redis.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: 1,
	}).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to zrangebyscore %s: %w", key, err)
	}
	if len(zs) == 0 {
		return 0, false, nil
	}
	return zs[0].Score, true, nil
}

// StreamMessage is one entry read from a stream
type StreamMessage struct {
	ID     string
	Values map[string]interface{}
}

// ReadStream reads entries after lastID, blocking up to block when none are
// available. A timeout with no entries returns an empty slice.
func (c *Client) ReadStream(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]StreamMessage, error) {
	res, err := c.redis.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}

	var out []StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, StreamMessage{ID: m.ID, Values: m.Values})
		}
	}
	return out, nil
}

// AddToStream adds a message to a Redis stream, trimming to roughly maxLen
func (c *Client) AddToStream(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	id, err := c.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		c.logger.Error("redis XADD failed", "stream", stream, "error", err)
		return "", fmt.Errorf("failed to add to stream %s: %w", stream, err)
	}
	c.logger.Debug("redis XADD", "stream", stream, "id", id)
	return id, nil
}
