package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/refinery/common/errs"
	"github.com/lyzr/refinery/common/logger"
	rediscommon "github.com/lyzr/refinery/common/redis"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
}

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := rediscommon.NewRaw(rediscommon.Options{
		Addr:        mr.Addr(),
		DialTimeout: 200 * time.Millisecond,
		OpTimeout:   200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = raw.Close() })
	return mr, NewRedisStore(rediscommon.NewClient(raw, logger.Discard()))
}

func stores(t *testing.T) map[string]WindowStore {
	_, rs := newRedisStore(t)
	return map[string]WindowStore{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			window := 10 * time.Second
			l := NewLimiter(store, map[Kind]Policy{KindGeneration: {Limit: 3, Window: window}},
				logger.Discard(), WithClock(clock.Now))

			start := clock.Now()
			for i := 0; i < 3; i++ {
				res, err := l.Check(ctx, "u1", KindGeneration)
				require.NoError(t, err)
				require.True(t, res.Allowed, "request %d", i)
				clock.Advance(time.Second)
			}

			res, err := l.Check(ctx, "u1", KindGeneration)
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, int64(0), res.Remaining)
			assert.Equal(t, start.Add(window), res.ResetAt)
			assert.Equal(t, 7*time.Second, res.RetryAfter)

			// Once the first request leaves the window exactly one slot opens
			clock.t = start.Add(window)
			res, err = l.Check(ctx, "u1", KindGeneration)
			require.NoError(t, err)
			assert.True(t, res.Allowed)

			res, err = l.Check(ctx, "u1", KindGeneration)
			require.NoError(t, err)
			assert.False(t, res.Allowed)
		})
	}
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			l := NewLimiter(store, map[Kind]Policy{KindImprovement: {Limit: 5, Window: time.Hour}},
				logger.Discard(), WithClock(clock.Now))

			for i := 0; i < 5; i++ {
				res, err := l.Check(ctx, "u1", KindImprovement)
				require.NoError(t, err)
				require.True(t, res.Allowed)
				assert.Equal(t, int64(4-i), res.Remaining)
			}

			res, err := l.Check(ctx, "u1", KindImprovement)
			require.NoError(t, err)
			require.False(t, res.Allowed)

			var rlErr *errs.RateLimitError
			require.ErrorAs(t, res.Err(), &rlErr)
			assert.Equal(t, "improvement", rlErr.Kind)
			assert.Equal(t, int64(3600), res.RetryAfterSeconds())
			assert.True(t, errors.Is(res.Err(), errs.ErrRateLimited))
		})
	}
}

func TestLimiter_KindsAndOwnersAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	l := NewLimiter(NewMemoryStore(), map[Kind]Policy{
		KindGeneration: {Limit: 1, Window: time.Minute},
		KindAPI:        {Limit: 1, Window: time.Minute},
	}, logger.Discard(), WithClock(clock.Now))

	res, err := l.Check(ctx, "u1", KindGeneration)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Check(ctx, "u1", KindGeneration)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Check(ctx, "u1", KindAPI)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(ctx, "u2", KindGeneration)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_PeekDoesNotRecord(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			l := NewLimiter(store, map[Kind]Policy{KindAPI: {Limit: 2, Window: time.Minute}},
				logger.Discard(), WithClock(clock.Now))

			_, err := l.Check(ctx, "u1", KindAPI)
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				res, err := l.Peek(ctx, "u1", KindAPI)
				require.NoError(t, err)
				assert.Equal(t, int64(1), res.Remaining)
				assert.True(t, res.Allowed)
			}

			clock.Advance(time.Minute)
			res, err := l.Peek(ctx, "u1", KindAPI)
			require.NoError(t, err)
			assert.Equal(t, int64(2), res.Remaining)
		})
	}
}

func TestLimiter_FailsOpenWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	mr, store := newRedisStore(t)
	l := NewLimiter(store, map[Kind]Policy{KindGeneration: {Limit: 1, Window: time.Minute}}, logger.Discard())

	mr.Close()

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "u1", KindGeneration)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.True(t, res.Degraded)
	}
}

func TestLimiter_UnknownKind(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), nil, logger.Discard())
	_, err := l.Check(context.Background(), "u1", Kind("uploads"))
	assert.Error(t, err)
}

func TestNewLimiter_DefaultPolicies(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), nil, logger.Discard())
	p, ok := l.Policy(KindImprovement)
	require.True(t, ok)
	assert.Equal(t, Policy{Limit: 20, Window: time.Hour}, p)
}
