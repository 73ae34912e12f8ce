package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/refinery/common/errs"
	"github.com/lyzr/refinery/common/ratelimit"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// OwnerFunc extracts the caller identity from the request
type OwnerFunc func(c echo.Context) string

// RateLimit gates the wrapped handlers with the sliding window for kind.
// Requests without an owner are passed through; identity is enforced by the
// identity middleware, not here.
func RateLimit(limiter *ratelimit.Limiter, kind ratelimit.Kind, ownerOf OwnerFunc, log Logger) echo.MiddlewareFunc {
	remainingHeader := fmt.Sprintf("X-RateLimit-%s-Remaining", headerCase(string(kind)))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			owner := ownerOf(c)
			if owner == "" {
				return next(c)
			}

			result, err := limiter.Check(c.Request().Context(), owner, kind)
			if err != nil {
				// On error, allow request (fail open for availability)
				log.Error("rate limit check failed", "kind", kind, "owner_id", owner, "error", err)
				return next(c)
			}

			if !result.Allowed {
				return Denied(c, result)
			}

			c.Response().Header().Set(remainingHeader, strconv.FormatInt(result.Remaining, 10))
			return next(c)
		}
	}
}

// Denied writes the 429 response for a denied result
func Denied(c echo.Context, result *ratelimit.Result) error {
	secs := result.RetryAfterSeconds()

	h := c.Response().Header()
	h.Set("Retry-After", strconv.FormatInt(secs, 10))
	h.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":     errs.CodeRateLimited,
		"message":   fmt.Sprintf("Rate limit exceeded, try again in %d seconds", secs),
		"retryable": true,
		"details": map[string]interface{}{
			"kind":                result.Kind,
			"limit":               result.Limit,
			"retry_after_seconds": secs,
			"reset_at":            result.ResetAt.UTC(),
		},
	})
}

func headerCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
