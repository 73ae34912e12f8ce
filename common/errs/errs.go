// Package errs contains the error taxonomy shared by the limiter, the
// refinement engine and the HTTP layer.
package errs

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinels. Typed errors below unwrap to these so callers can use errors.Is.
var (
	// ErrNotFound indicates an unknown post or one not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrVersionMismatch indicates an optimistic concurrency conflict.
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrRateLimited indicates admission was denied by the rate limiter.
	ErrRateLimited = errors.New("rate limited")

	// ErrGenerationUnavailable indicates the generation backend exhausted retries.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrScoringUnavailable indicates the scoring backend exhausted retries.
	ErrScoringUnavailable = errors.New("scoring unavailable")

	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")
)

// Taxonomy codes reported to callers.
const (
	CodeRateLimited           = "rate_limited"
	CodeGenerationUnavailable = "generation_unavailable"
	CodeScoringUnavailable    = "scoring_unavailable"
	CodeVersionMismatch       = "version_mismatch"
	CodeNotFound              = "not_found"
	CodeCacheDegraded         = "cache_degraded"
	CodeValidation            = "validation_failed"
	CodeInternal              = "internal_error"
)

// RateLimitError carries the retry hint for a denied request.
type RateLimitError struct {
	Kind       string
	Limit      int64
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, try again in %d seconds", e.Kind, e.RetryAfterSeconds())
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds the retry hint up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int64 {
	secs := int64(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// VersionMismatchError reports the stored version so the caller can retry.
type VersionMismatchError struct {
	PostID          string
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("post %s: expected version %d, current version %d", e.PostID, e.ExpectedVersion, e.CurrentVersion)
}

func (e *VersionMismatchError) Unwrap() error { return ErrVersionMismatch }

// Backend names used in BackendError.
const (
	BackendGenerator = "generator"
	BackendScorer    = "scorer"
)

// BackendError wraps the last error from a backend after retries ran out.
type BackendError struct {
	Backend  string
	Attempts int
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempts: %v", e.Backend, e.Attempts, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is maps the backend to its taxonomy sentinel.
func (e *BackendError) Is(target error) bool {
	switch e.Backend {
	case BackendGenerator:
		return target == ErrGenerationUnavailable
	case BackendScorer:
		return target == ErrScoringUnavailable
	}
	return false
}

// Validationf builds an ErrValidation with a message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Code returns the taxonomy code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrGenerationUnavailable):
		return CodeGenerationUnavailable
	case errors.Is(err, ErrScoringUnavailable):
		return CodeScoringUnavailable
	case errors.Is(err, ErrVersionMismatch):
		return CodeVersionMismatch
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// Retryable reports whether the caller may retry the same request later
// without changing it.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrGenerationUnavailable) ||
		errors.Is(err, ErrScoringUnavailable)
}
