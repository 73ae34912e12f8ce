package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/refinery/common/logger"
	"github.com/lyzr/refinery/common/ratelimit"
)

func headerOwner(c echo.Context) string {
	return c.Request().Header.Get("X-User-ID")
}

func newLimitedEcho(limit int64) *echo.Echo {
	now := time.UnixMilli(1_700_000_000_000)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(),
		map[ratelimit.Kind]ratelimit.Policy{ratelimit.KindGeneration: {Limit: limit, Window: time.Minute}},
		logger.Discard(), ratelimit.WithClock(func() time.Time { return now }))

	e := echo.New()
	e.POST("/refine", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RateLimit(limiter, ratelimit.KindGeneration, headerOwner, logger.Discard()))
	return e
}

func TestRateLimit_DeniesWithRetryAfter(t *testing.T) {
	e := newLimitedEcho(2)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/refine", nil)
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Generation-Remaining"))
	}

	req := httptest.NewRequest(http.MethodPost, "/refine", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, "Rate limit exceeded, try again in 60 seconds", body["message"])
	assert.Equal(t, true, body["retryable"])
}

func TestRateLimit_PassesAnonymousAndOtherOwners(t *testing.T) {
	e := newLimitedEcho(1)

	for _, owner := range []string{"alice", "bob", ""} {
		req := httptest.NewRequest(http.MethodPost, "/refine", nil)
		if owner != "" {
			req.Header.Set("X-User-ID", owner)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, owner)
	}
}
