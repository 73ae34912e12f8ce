package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/lyzr/refinery/common/cache"
)

// CachingScorer memoizes verdicts by content hash. Cache failures are
// treated as misses.
type CachingScorer struct {
	inner TextScorer
	cache cache.Cache
	ttl   time.Duration
	log   Logger
}

// NewCachingScorer wraps inner
func NewCachingScorer(inner TextScorer, c cache.Cache, ttl time.Duration, log Logger) *CachingScorer {
	return &CachingScorer{inner: inner, cache: c, ttl: ttl, log: log}
}

// ScoreKey is the cache key for content
func ScoreKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "score:" + hex.EncodeToString(sum[:])
}

// Score returns a cached verdict or asks inner
func (s *CachingScorer) Score(ctx context.Context, content string) (*Evaluation, error) {
	key := ScoreKey(content)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Debug("score cache read failed", "error", err)
	} else if ok {
		var eval Evaluation
		if err := json.Unmarshal(raw, &eval); err == nil {
			s.log.Debug("score cache hit", "key", key)
			return &eval, nil
		}
		s.log.Warn("discarding unreadable cached score", "key", key)
	}

	eval, err := s.inner.Score(ctx, content)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(eval); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			s.log.Debug("score cache write failed", "error", err)
		}
	}
	return eval, nil
}
