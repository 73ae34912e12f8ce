package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	rediscommon "github.com/lyzr/refinery/common/redis"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("queue closed")

// RedisStreamQueue publishes to Redis streams, one stream per topic
type RedisStreamQueue struct {
	client *rediscommon.Client
	maxLen int64
	log    Logger
	block  time.Duration
}

// NewRedisStreamQueue creates a stream-backed queue trimmed to about maxLen entries
func NewRedisStreamQueue(client *rediscommon.Client, maxLen int64, log Logger) *RedisStreamQueue {
	return &RedisStreamQueue{
		client: client,
		maxLen: maxLen,
		log:    log,
		block:  time.Second,
	}
}

// Publish appends the message to the topic stream
func (q *RedisStreamQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	_, err := q.client.AddToStream(ctx, topic, q.maxLen, map[string]interface{}{
		"key":   key,
		"value": message,
	})
	return err
}

// Subscribe reads new entries from the topic stream until ctx is done.
// Entries published before the call are not delivered.
func (q *RedisStreamQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	q.log.Info("subscribing to stream", "stream", topic)

	go func() {
		lastID := "$"
		for {
			if ctx.Err() != nil {
				q.log.Info("subscription cancelled", "stream", topic)
				return
			}

			msgs, err := q.client.ReadStream(ctx, topic, lastID, 100, q.block)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				q.log.Warn("stream read failed", "stream", topic, "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(q.block):
				}
				continue
			}

			for _, m := range msgs {
				lastID = m.ID
				key := fmt.Sprint(m.Values["key"])
				value := fmt.Sprint(m.Values["value"])
				if err := handler(ctx, key, []byte(value)); err != nil {
					q.log.Error("message handler error", "stream", topic, "id", m.ID, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close is a no-op; the Redis client is owned by the caller
func (q *RedisStreamQueue) Close() error {
	return nil
}
