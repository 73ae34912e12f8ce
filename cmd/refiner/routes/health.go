package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/refinery/cmd/refiner/container"
	"github.com/lyzr/refinery/cmd/refiner/handlers"
)

// RegisterHealthRoutes registers the health endpoint
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	var store handlers.Pinger
	if c.SQLite != nil {
		store = c.SQLite
	}
	h := handlers.NewHealthHandler(c.Components, store)

	e.GET("/health", h.Health)
}
