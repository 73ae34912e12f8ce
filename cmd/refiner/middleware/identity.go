package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/refinery/common/logger"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// OwnerIDKey is the context key for the authenticated owner
	OwnerIDKey ContextKey = "owner_id"

	// OwnerHeader carries the identity asserted by the upstream identity layer
	OwnerHeader = "X-User-ID"
)

// RequireOwner reads X-User-ID into the request context and rejects requests
// without it. The identity layer in front of the service has already
// authenticated the caller; this service trusts the header.
func RequireOwner() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			owner := strings.TrimSpace(c.Request().Header.Get(OwnerHeader))
			if owner == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error":   "unauthenticated",
					"message": "X-User-ID header is required",
				})
			}

			c.Set(string(OwnerIDKey), owner)

			// request id from echo's RequestID middleware, for log correlation
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
				ctx := logger.ContextWithTraceID(c.Request().Context(), rid)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// GetOwnerID retrieves the owner from the request context
// Returns empty string if not set
func GetOwnerID(c echo.Context) string {
	owner, _ := c.Get(string(OwnerIDKey)).(string)
	return owner
}
