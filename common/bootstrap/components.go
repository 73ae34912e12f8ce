package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/refinery/common/cache"
	"github.com/lyzr/refinery/common/config"
	"github.com/lyzr/refinery/common/db"
	"github.com/lyzr/refinery/common/logger"
	"github.com/lyzr/refinery/common/queue"
	"github.com/lyzr/refinery/common/ratelimit"
	rediscommon "github.com/lyzr/refinery/common/redis"
	"github.com/lyzr/refinery/common/telemetry"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB // nil unless the postgres driver is configured
	Redis     *rediscommon.Client
	Queue     queue.Queue
	Cache     cache.Cache
	Limiter   *ratelimit.Limiter
	Telemetry *telemetry.Telemetry

	// Internal
	cleanupFuncs []func() error
}

// HealthReport summarizes dependency health
type HealthReport struct {
	Status   string `json:"status"`
	Cache    string `json:"cache"`
	Database string `json:"database"`
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components. A degraded cache does not make
// the service unhealthy.
func (c *Components) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: "ok", Cache: string(cache.StatusHealthy), Database: "n/a"}

	if hc, ok := c.Cache.(cache.HealthChecker); ok {
		report.Cache = string(hc.Health(ctx))
	}

	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			report.Status = "unhealthy"
			report.Database = "unreachable"
		} else {
			report.Database = "ok"
		}
	}

	return report
}

// AddCleanup registers a cleanup function, run in reverse order on Shutdown
func (c *Components) AddCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
