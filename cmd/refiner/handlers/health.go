package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/refinery/common/bootstrap"
)

// Pinger is a store that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports dependency health
type HealthHandler struct {
	components *bootstrap.Components
	store      Pinger // optional, the embedded store when not on Postgres
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(components *bootstrap.Components, store Pinger) *HealthHandler {
	return &HealthHandler{components: components, store: store}
}

// Health reports cache and database status. A degraded cache is still 200.
// GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	report := h.components.Health(ctx)

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			report.Status = "unhealthy"
			report.Database = "unreachable"
		} else {
			report.Database = "ok"
		}
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]interface{}{
		"status":   report.Status,
		"service":  h.components.Config.Service.Name,
		"cache":    report.Cache,
		"database": report.Database,
	})
}
