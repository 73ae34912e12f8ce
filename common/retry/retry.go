// Package retry runs backend calls with bounded exponential backoff and a
// per-attempt timeout, and reports exhaustion as *errs.BackendError.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/lyzr/refinery/common/errs"
)

// Logger interface for logging
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Policy bounds one backend call
type Policy struct {
	Attempts  int           // total attempts, at least 1
	BaseDelay time.Duration // delay before the second attempt, doubled after each failure
	Timeout   time.Duration // per attempt, zero means none
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (bad request, bad credentials)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func (p Policy) backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Nanosecond
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return goretry.WithMaxRetries(uint64(attempts-1), goretry.NewExponential(base))
}

// Value calls fn until it succeeds, fails permanently or attempts run out.
// Timeouts count as failures. The final error is a *errs.BackendError for
// backend, so callers can match errs.ErrGenerationUnavailable or
// errs.ErrScoringUnavailable.
func Value[T any](ctx context.Context, p Policy, backend string, log Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		out      T
		attempts int
	)

	err := goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		v, err := fn(attemptCtx)
		if err == nil {
			out = v
			return nil
		}
		if IsPermanent(err) {
			return err
		}

		log.Warn("backend call failed",
			"backend", backend,
			"attempt", attempts,
			"max_attempts", p.Attempts,
			"error", err)
		return goretry.RetryableError(err)
	})
	if err != nil {
		var zero T
		return zero, &errs.BackendError{Backend: backend, Attempts: attempts, Err: err}
	}

	if attempts > 1 {
		log.Debug("backend call recovered", "backend", backend, "attempts", attempts)
	}
	return out, nil
}
