package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	rediscommon "github.com/lyzr/refinery/common/redis"
)

//go:embed rate_limit.lua
var rateLimitScript string

// WindowState is a snapshot of one window after an operation
type WindowState struct {
	Admitted bool
	Count    int64     // timestamps in the window, including this request if admitted
	Oldest   time.Time // zero when the window is empty
}

// WindowStore holds request timestamps per key. Admit must be atomic: drop
// timestamps at or before now-window, then record now iff fewer than limit
// remain.
type WindowStore interface {
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (WindowState, error)
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error)
}

// RedisStore keeps windows in Redis sorted sets scored by timestamp (ms)
type RedisStore struct {
	client *rediscommon.Client
	script *redis.Script
}

// NewRedisStore creates a store backed by the embedded Lua script
func NewRedisStore(client *rediscommon.Client) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(rateLimitScript),
	}
}

func (s *RedisStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (WindowState, error) {
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	result, err := s.client.RunScript(ctx, s.script, []string{key}, nowMs, window.Milliseconds(), limit, member)
	if err != nil {
		return WindowState{}, err
	}

	// Parse result array: {allowed, count, oldest_ms}
	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return WindowState{}, fmt.Errorf("unexpected script result format: %v", result)
	}
	allowed, ok1 := values[0].(int64)
	count, ok2 := values[1].(int64)
	oldestMs, ok3 := values[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return WindowState{}, fmt.Errorf("unexpected script result types: %v", values)
	}

	state := WindowState{Admitted: allowed == 1, Count: count}
	if oldestMs >= 0 {
		state.Oldest = time.UnixMilli(oldestMs)
	}
	return state, nil
}

func (s *RedisStore) Count(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error) {
	lo := "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	hi := strconv.FormatInt(now.UnixMilli(), 10)

	count, err := s.client.CountByScore(ctx, key, lo, hi)
	if err != nil {
		return WindowState{}, err
	}
	state := WindowState{Count: count}
	if count == 0 {
		return state, nil
	}

	oldestMs, found, err := s.client.OldestInRange(ctx, key, lo, hi)
	if err != nil {
		return WindowState{}, err
	}
	if found {
		state.Oldest = time.UnixMilli(int64(oldestMs))
	}
	return state, nil
}

// MemoryStore keeps windows in process memory. Used when Redis is not
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time // ascending
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

// trim drops timestamps at or before now-window. Caller holds mu.
func (s *MemoryStore) trim(key string, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	ts := s.windows[key]
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	ts = ts[i:]
	if len(ts) == 0 {
		delete(s.windows, key)
		return nil
	}
	s.windows[key] = ts
	return ts
}

func (s *MemoryStore) Admit(_ context.Context, key string, now time.Time, window time.Duration, limit int64) (WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.trim(key, now, window)
	state := WindowState{Count: int64(len(ts))}
	if state.Count < limit {
		// keep ascending order even if the clock steps backwards
		i := sort.Search(len(ts), func(i int) bool { return ts[i].After(now) })
		ts = append(ts, time.Time{})
		copy(ts[i+1:], ts[i:])
		ts[i] = now
		s.windows[key] = ts
		state.Admitted = true
		state.Count++
	}
	if len(ts) > 0 {
		state.Oldest = ts[0]
	}
	return state, nil
}

func (s *MemoryStore) Count(_ context.Context, key string, now time.Time, window time.Duration) (WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	var state WindowState
	for _, t := range s.windows[key] {
		if t.After(cutoff) && !t.After(now) {
			if state.Count == 0 {
				state.Oldest = t
			}
			state.Count++
		}
	}
	return state, nil
}
