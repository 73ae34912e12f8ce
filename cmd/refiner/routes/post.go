package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/refinery/cmd/refiner/container"
	"github.com/lyzr/refinery/cmd/refiner/handlers"
	"github.com/lyzr/refinery/cmd/refiner/middleware"
	commonmw "github.com/lyzr/refinery/common/middleware"
	"github.com/lyzr/refinery/common/ratelimit"
)

// RegisterPostRoutes registers the refinement API
func RegisterPostRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewPostHandler(c.Refinement, c.Components.Logger)
	limit := limiterFor(c)

	api := e.Group("/api/v1")
	api.Use(middleware.RequireOwner()) // X-User-ID into context
	api.Use(limit(ratelimit.KindAPI))
	{
		api.POST("/posts/refine", h.Refine, limit(ratelimit.KindGeneration))        // POST /api/v1/posts/refine
		api.POST("/posts/:id/improve", h.Improve, limit(ratelimit.KindImprovement)) // POST /api/v1/posts/:id/improve
		api.GET("/posts/:id", h.GetPost)                                            // GET /api/v1/posts/:id
		api.GET("/posts/:id/history", h.GetHistory)                                 // GET /api/v1/posts/:id/history?limit=20
		api.GET("/quota", h.GetQuota)                                               // GET /api/v1/quota
	}
}

// limiterFor returns a middleware factory; a pass-through when limiting is off
func limiterFor(c *container.Container) func(ratelimit.Kind) echo.MiddlewareFunc {
	limiter := c.Components.Limiter
	return func(kind ratelimit.Kind) echo.MiddlewareFunc {
		if limiter == nil {
			return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
		}
		return commonmw.RateLimit(limiter, kind, middleware.GetOwnerID, c.Components.Logger)
	}
}
