package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryCache is a process-local cache. It backs the fallback path of
// FallbackCache and is used directly when no Redis is configured. Contents
// live only as long as the instance.
type MemoryCache struct {
	data map[string]*cacheEntry
	mu   sync.Mutex
	log  Logger
	now  func() time.Time

	janitorInterval time.Duration
	stop            chan struct{}
	closeOnce       sync.Once
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryOption configures a MemoryCache
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// WithJanitor starts a goroutine that evicts expired entries every interval
func WithJanitor(interval time.Duration) MemoryOption {
	return func(c *MemoryCache) { c.janitorInterval = interval }
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(log Logger, opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		data: make(map[string]*cacheEntry),
		log:  log,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.janitorInterval > 0 {
		go c.cleanup(c.janitorInterval)
	}
	return c
}

// lookup returns a live entry, evicting it if expired. Caller holds mu.
func (c *MemoryCache) lookup(key string) (*cacheEntry, bool) {
	entry, exists := c.data[key]
	if !exists {
		return nil, false
	}
	if entry.expired(c.now()) {
		delete(c.data, key)
		return nil, false
	}
	return entry, true
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set stores a value in cache with TTL (ttl <= 0 means no expiry)
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = entry
	return nil
}

// Delete removes a value from cache
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Exists reports whether a live entry exists
func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(key)
	return ok, nil
}

// Increment mirrors Redis INCR: missing keys start at zero and keep no TTL,
// existing keys keep their TTL, non-integer values are an error.
func (c *MemoryCache) Increment(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		c.data[key] = &cacheEntry{value: []byte("1")}
		return 1, nil
	}

	n, err := strconv.ParseInt(string(entry.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %s is not an integer", key)
	}
	n++
	entry.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

// Expire sets a TTL on an existing entry
func (c *MemoryCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		return nil
	}
	if ttl <= 0 {
		delete(c.data, key)
		return nil
	}
	entry.expiresAt = c.now().Add(ttl)
	return nil
}

// Close stops the janitor and drops all entries
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		c.data = make(map[string]*cacheEntry)
		c.mu.Unlock()
		c.log.Info("memory cache closed")
	})
	return nil
}

// cleanup removes expired entries periodically
func (c *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for key, entry := range c.data {
				if entry.expired(now) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
