package cache

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/refinery/common/errs"
)

// Backend is a cache whose reachability can be probed
type Backend interface {
	Cache
	Ping(ctx context.Context) error
}

// FallbackCache serves from a shared backend and switches to a local store
// while the backend is unreachable. Only connection failures count as an
// outage. A command the backend answers with an error is logged and treated
// as a miss (Get, Exists) or a dropped write (Set, Delete); Increment and
// Expire return it, so counters never split across the two stores.
//
// The transition into degraded mode is logged once per outage, as is the
// recovery.
type FallbackCache struct {
	primary  Backend
	local    Cache
	log      Logger
	degraded atomic.Bool
}

// NewFallbackCache wraps primary with local as the outage store
func NewFallbackCache(primary Backend, local Cache, log Logger) *FallbackCache {
	return &FallbackCache{
		primary: primary,
		local:   local,
		log:     log,
	}
}

func (c *FallbackCache) markDown(op, key string, err error) {
	if c.degraded.CompareAndSwap(false, true) {
		c.log.Warn("cache backend unreachable, serving from local store",
			"code", errs.CodeCacheDegraded,
			"op", op,
			"key", key,
			"error", err)
	}
}

func (c *FallbackCache) markUp() {
	if c.degraded.CompareAndSwap(true, false) {
		c.log.Info("cache backend recovered")
	}
}

// unreachable reports whether err means the backend could not be reached.
// A caller giving up is not an outage.
func unreachable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}

// failover reports whether the local store should answer after err
func (c *FallbackCache) failover(op, key string, err error) bool {
	if unreachable(err) {
		c.markDown(op, key, err)
		return true
	}
	c.log.Warn("cache command failed", "op", op, "key", key, "error", err)
	return false
}

func (c *FallbackCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.primary.Get(ctx, key)
	if err != nil {
		if c.failover("get", key, err) {
			return c.local.Get(ctx, key)
		}
		return nil, false, nil
	}
	c.markUp()
	return val, found, nil
}

func (c *FallbackCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.primary.Set(ctx, key, value, ttl); err != nil {
		if !c.failover("set", key, err) {
			return nil
		}
		if lerr := c.local.Set(ctx, key, value, ttl); lerr != nil {
			c.log.Debug("local cache set failed", "key", key, "error", lerr)
		}
		return nil
	}
	c.markUp()
	// A copy written during an earlier outage must not resurface in the next one
	_ = c.local.Delete(ctx, key)
	return nil
}

func (c *FallbackCache) Delete(ctx context.Context, key string) error {
	if err := c.primary.Delete(ctx, key); err != nil {
		c.failover("delete", key, err)
	} else {
		c.markUp()
	}
	_ = c.local.Delete(ctx, key)
	return nil
}

func (c *FallbackCache) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := c.primary.Exists(ctx, key)
	if err != nil {
		if c.failover("exists", key, err) {
			return c.local.Exists(ctx, key)
		}
		return false, nil
	}
	c.markUp()
	return ok, nil
}

func (c *FallbackCache) Increment(ctx context.Context, key string) (int64, error) {
	n, err := c.primary.Increment(ctx, key)
	if err != nil {
		if c.failover("increment", key, err) {
			return c.local.Increment(ctx, key)
		}
		return 0, err
	}
	c.markUp()
	return n, nil
}

func (c *FallbackCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.primary.Expire(ctx, key, ttl); err != nil {
		if c.failover("expire", key, err) {
			return c.local.Expire(ctx, key, ttl)
		}
		return err
	}
	c.markUp()
	return nil
}

// Health probes the backend and reports which store is serving
func (c *FallbackCache) Health(ctx context.Context) Status {
	if err := c.primary.Ping(ctx); err != nil {
		if unreachable(err) {
			c.markDown("ping", "", err)
		}
		return StatusDegraded
	}
	c.markUp()
	return StatusHealthy
}

// Close closes both stores
func (c *FallbackCache) Close() error {
	perr := c.primary.Close()
	lerr := c.local.Close()
	if perr != nil {
		return perr
	}
	return lerr
}
