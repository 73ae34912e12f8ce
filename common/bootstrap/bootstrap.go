package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/refinery/common/cache"
	"github.com/lyzr/refinery/common/config"
	"github.com/lyzr/refinery/common/db"
	"github.com/lyzr/refinery/common/logger"
	"github.com/lyzr/refinery/common/migrate"
	"github.com/lyzr/refinery/common/queue"
	"github.com/lyzr/refinery/common/ratelimit"
	rediscommon "github.com/lyzr/refinery/common/redis"
	"github.com/lyzr/refinery/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}
	log := components.Logger

	log.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
		"store", cfg.Database.Driver,
	)

	// 3. Initialize database (postgres only; the sqlite store opens its own file)
	if !options.skipDB && cfg.Database.Driver == "postgres" {
		if cfg.Database.AutoMigrate {
			log.Info("applying migrations")
			if err := migrate.Up(ctx, cfg.DatabaseURL()); err != nil {
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}

		log.Info("connecting to database")
		components.DB, err = db.New(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		// Register cleanup
		components.AddCleanup(func() error {
			components.DB.Close()
			return nil
		})

		// Run DB init hook if provided
		if options.dbInitHook != nil {
			log.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx) // Cleanup what we've initialized
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Initialize Redis. An unreachable server is not fatal: the cache
	// serves locally and the limiter fails open until it comes back.
	if !options.skipRedis {
		raw := rediscommon.NewRaw(rediscommon.Options{
			Addr:        cfg.RedisAddr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
			OpTimeout:   cfg.Redis.OpTimeout,
		})
		components.Redis = rediscommon.NewClient(raw, log)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout+time.Second)
		if err := components.Redis.Ping(pingCtx); err != nil {
			log.Warn("redis unreachable at startup", "addr", cfg.RedisAddr(), "error", err)
		} else {
			log.Info("redis connected", "addr", cfg.RedisAddr())
		}
		cancel()

		components.AddCleanup(func() error {
			log.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	// 5. Initialize queue (if not skipped)
	if !options.skipQueue {
		log.Info("initializing queue", "type", cfg.Queue.Type)

		switch cfg.Queue.Type {
		case "memory":
			components.Queue = queue.NewMemoryQueue(log, int(cfg.Queue.MaxLen))
		case "redis":
			if components.Redis == nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("redis queue requires redis")
			}
			components.Queue = queue.NewRedisStreamQueue(components.Redis, cfg.Queue.MaxLen, log)
		default:
			components.Shutdown(ctx)
			return nil, fmt.Errorf("unknown queue type: %s", cfg.Queue.Type)
		}

		// Register cleanup
		components.AddCleanup(func() error {
			log.Info("closing queue")
			return components.Queue.Close()
		})
	}

	// 6. Initialize cache (if not skipped)
	if !options.skipCache && cfg.Cache.Enabled {
		local := cache.NewMemoryCache(log, cache.WithJanitor(time.Minute))
		if components.Redis != nil {
			log.Info("initializing cache", "backend", "redis", "fallback", "memory")
			components.Cache = cache.NewFallbackCache(
				cache.NewRedisCache(components.Redis, cfg.Redis.OpTimeout),
				local,
				log,
			)
		} else {
			log.Info("initializing cache", "backend", "memory")
			components.Cache = local
		}

		// Register cleanup
		components.AddCleanup(func() error {
			log.Info("closing cache")
			return components.Cache.Close()
		})
	}

	// 7. Initialize rate limiter (if not skipped)
	if !options.skipLimiter && cfg.RateLimit.Enabled {
		var store ratelimit.WindowStore
		if components.Redis != nil {
			store = ratelimit.NewRedisStore(components.Redis)
		} else {
			store = ratelimit.NewMemoryStore()
		}
		components.Limiter = ratelimit.NewLimiter(store, ratelimit.PoliciesFromConfig(cfg.RateLimit), log)
	}

	// 8. Initialize telemetry (if not skipped)
	if !options.skipTelemetry {
		components.Telemetry = telemetry.New(cfg.Telemetry.PprofPort, log)
		if cfg.Telemetry.EnablePprof {
			pprofCtx, stop := context.WithCancel(context.Background())
			components.Telemetry.StartPprof(pprofCtx)
			components.AddCleanup(func() error {
				stop()
				return nil
			})
		}
	}

	log.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
		"cache", components.Cache != nil,
		"limiter", components.Limiter != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
