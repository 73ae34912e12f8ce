package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/refinery/common/errs"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result contains the outcome of a rate limit check
type Result struct {
	Kind       Kind
	Allowed    bool
	Limit      int64
	Count      int64         // requests in the window after this check
	Remaining  int64         // requests left in the window
	ResetAt    time.Time     // when the oldest request leaves the window
	RetryAfter time.Duration // zero if allowed
	Degraded   bool          // store unavailable, request admitted without counting
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds
func (r *Result) RetryAfterSeconds() int64 {
	if r.Allowed {
		return 0
	}
	return r.Err().(*errs.RateLimitError).RetryAfterSeconds()
}

// Err returns a *errs.RateLimitError for a denied result, nil otherwise
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &errs.RateLimitError{
		Kind:       string(r.Kind),
		Limit:      r.Limit,
		RetryAfter: r.RetryAfter,
		ResetAt:    r.ResetAt,
	}
}

// Limiter enforces per-owner, per-kind sliding windows
type Limiter struct {
	store    WindowStore
	policies map[Kind]Policy
	logger   Logger
	now      func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter. Kinds missing from policies use DefaultPolicies.
func NewLimiter(store WindowStore, policies map[Kind]Policy, logger Logger, opts ...Option) *Limiter {
	merged := make(map[Kind]Policy, len(DefaultPolicies))
	for k, p := range DefaultPolicies {
		merged[k] = p
	}
	for k, p := range policies {
		merged[k] = p
	}

	l := &Limiter{
		store:    store,
		policies: merged,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the policy for kind
func (l *Limiter) Policy(kind Kind) (Policy, bool) {
	p, ok := l.policies[kind]
	return p, ok
}

// Check admits or denies one request and records it when admitted. This is
// the only operation that mutates limiter state.
//
// Store errors fail open: the request is admitted and the result is marked
// Degraded. A missed quota is recoverable; refusing every request while the
// store is down is an outage.
func (l *Limiter) Check(ctx context.Context, ownerID string, kind Kind) (*Result, error) {
	policy, ok := l.policies[kind]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit kind: %q", kind)
	}

	key := windowKey(kind, ownerID)
	now := l.now()

	state, err := l.store.Admit(ctx, key, now, policy.Window, policy.Limit)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open",
			"key", key,
			"error", err)
		return l.openResult(kind, policy, now), nil
	}

	result := l.buildResult(kind, policy, now, state)
	result.Allowed = state.Admitted

	if !result.Allowed {
		result.RetryAfter = result.ResetAt.Sub(now)
		if result.RetryAfter <= 0 {
			result.RetryAfter = time.Millisecond
		}
		l.logger.Warn("rate limit exceeded",
			"key", key,
			"current", state.Count,
			"limit", policy.Limit,
			"retry_after", result.RetryAfter)
	} else {
		l.logger.Debug("rate limit check passed",
			"key", key,
			"current", state.Count,
			"limit", policy.Limit)
	}

	return result, nil
}

// Peek reports the window for kind without recording a request
func (l *Limiter) Peek(ctx context.Context, ownerID string, kind Kind) (*Result, error) {
	policy, ok := l.policies[kind]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit kind: %q", kind)
	}

	key := windowKey(kind, ownerID)
	now := l.now()

	state, err := l.store.Count(ctx, key, now, policy.Window)
	if err != nil {
		l.logger.Warn("rate limit store unavailable", "key", key, "error", err)
		return l.openResult(kind, policy, now), nil
	}

	result := l.buildResult(kind, policy, now, state)
	result.Allowed = state.Count < policy.Limit
	if !result.Allowed {
		result.RetryAfter = result.ResetAt.Sub(now)
	}
	return result, nil
}

func (l *Limiter) buildResult(kind Kind, policy Policy, now time.Time, state WindowState) *Result {
	remaining := policy.Limit - state.Count
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now
	if !state.Oldest.IsZero() {
		resetAt = state.Oldest.Add(policy.Window)
	}
	return &Result{
		Kind:      kind,
		Limit:     policy.Limit,
		Count:     state.Count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func (l *Limiter) openResult(kind Kind, policy Policy, now time.Time) *Result {
	return &Result{
		Kind:      kind,
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit,
		ResetAt:   now,
		Degraded:  true,
	}
}
