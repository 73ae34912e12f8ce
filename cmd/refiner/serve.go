package main

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/lyzr/refinery/cmd/refiner/container"
	"github.com/lyzr/refinery/cmd/refiner/routes"
	"github.com/lyzr/refinery/common/bootstrap"
	"github.com/lyzr/refinery/common/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Bootstrap common components (DB, logger, queue, cache, limiter, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to bootstrap %s: %w", serviceName, err)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		return fmt.Errorf("failed to initialize service container: %w", err)
	}

	e := setupEcho()
	setupMiddleware(e)
	registerRoutes(e, serviceContainer)

	return server.New(serviceName, components.Config.Service.Port, e, writeTimeout(components), components.Logger).Start(ctx)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterHealthRoutes(e, serviceContainer)
	routes.RegisterPostRoutes(e, serviceContainer)
}

// writeTimeout leaves room for a full refinement loop with every backend
// call retried to exhaustion
func writeTimeout(components *bootstrap.Components) time.Duration {
	r := components.Config.Refinement
	calls := time.Duration(2*r.MaxIterations + 2)
	perCall := max(r.GenerationTimeout, r.ScoringTimeout)
	return calls*time.Duration(r.RetryAttempts)*perCall + 10*time.Second
}
