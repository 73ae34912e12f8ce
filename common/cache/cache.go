package cache

import (
	"context"
	"time"
)

// Cache interface for key-value storage. Implementations must be safe for
// concurrent use; Increment must never lose updates.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Increment atomically adds one, creating the key at zero first.
	Increment(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on an existing key; ttl <= 0 removes the key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}

// Status reports which store is serving requests
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// HealthChecker is implemented by caches that can report backend health
type HealthChecker interface {
	Health(ctx context.Context) Status
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}
