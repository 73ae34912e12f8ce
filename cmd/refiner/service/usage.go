package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lyzr/refinery/common/cache"
	"github.com/lyzr/refinery/common/logger"
)

const usageTTL = 48 * time.Hour

// UsageMeter counts successful operations per owner per UTC day
type UsageMeter struct {
	cache cache.Cache
	log   *logger.Logger
	now   func() time.Time
}

// NewUsageMeter creates a new usage meter
func NewUsageMeter(c cache.Cache, log *logger.Logger) *UsageMeter {
	return &UsageMeter{cache: c, log: log, now: time.Now}
}

func (m *UsageMeter) key(ownerID, kind string) string {
	return fmt.Sprintf("usage:%s:%s:%s", ownerID, m.now().UTC().Format("20060102"), kind)
}

// Track increments today's counter for kind
func (m *UsageMeter) Track(ctx context.Context, ownerID, kind string) {
	key := m.key(ownerID, kind)

	n, err := m.cache.Increment(ctx, key)
	if err != nil {
		m.log.Warn("failed to track usage", "key", key, "error", err)
		return
	}
	if n == 1 {
		if err := m.cache.Expire(ctx, key, usageTTL); err != nil {
			m.log.Warn("failed to set usage expiry", "key", key, "error", err)
		}
	}
}

// Today returns today's counters for kinds; unreadable counters read as zero
func (m *UsageMeter) Today(ctx context.Context, ownerID string, kinds []string) map[string]int64 {
	out := make(map[string]int64, len(kinds))
	for _, kind := range kinds {
		out[kind] = 0

		raw, ok, err := m.cache.Get(ctx, m.key(ownerID, kind))
		if err != nil || !ok {
			continue
		}
		if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			out[kind] = n
		}
	}
	return out
}
