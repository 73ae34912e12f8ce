package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/refinery/common/logger"
	rediscommon "github.com/lyzr/refinery/common/redis"
)

func TestMemoryQueue_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue(logger.Discard(), 10)
	defer q.Close()

	var mu sync.Mutex
	var got []string
	require.NoError(t, q.Subscribe(ctx, "posts:finalized", func(ctx context.Context, key string, value []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, key+"="+string(value))
		return nil
	}))

	require.NoError(t, q.Publish(ctx, "posts:finalized", "p1", []byte("a")))
	require.NoError(t, q.Publish(ctx, "posts:finalized", "p2", []byte("b")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"p1=a", "p2=b"}, got)
}

func TestMemoryQueue_FullTopicDrops(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(logger.Discard(), 1)

	require.NoError(t, q.Publish(ctx, "t", "k1", nil))
	require.NoError(t, q.Publish(ctx, "t", "k2", nil))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Publish(ctx, "t", "k3", nil), ErrClosed)
}

func TestRedisStreamQueue_Publish(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	raw := rediscommon.NewRaw(rediscommon.Options{Addr: mr.Addr()})
	defer raw.Close()

	q := NewRedisStreamQueue(rediscommon.NewClient(raw, logger.Discard()), 100, logger.Discard())
	require.NoError(t, q.Publish(ctx, "posts:finalized", "p1", []byte(`{"post_id":"p1"}`)))

	entries, err := mr.Stream("posts:finalized")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"key", "p1", "value", `{"post_id":"p1"}`}, entries[0].Values)
}

func TestRedisStreamQueue_Subscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)
	raw := rediscommon.NewRaw(rediscommon.Options{Addr: mr.Addr()})
	defer raw.Close()

	q := NewRedisStreamQueue(rediscommon.NewClient(raw, logger.Discard()), 100, logger.Discard())
	q.block = 50 * time.Millisecond

	var received atomic.Int32
	require.NoError(t, q.Subscribe(ctx, "posts:finalized", func(ctx context.Context, key string, value []byte) error {
		if key == "p1" && string(value) == "done" {
			received.Add(1)
		}
		return nil
	}))

	// Entries published before the first read are skipped, so keep publishing
	assert.Eventually(t, func() bool {
		_ = q.Publish(ctx, "posts:finalized", "p1", []byte("done"))
		return received.Load() > 0
	}, 2*time.Second, 20*time.Millisecond)
}
