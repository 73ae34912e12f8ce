package container

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/refinery/cmd/refiner/adapters"
	"github.com/lyzr/refinery/cmd/refiner/policy"
	"github.com/lyzr/refinery/cmd/refiner/repository"
	"github.com/lyzr/refinery/cmd/refiner/service"
	"github.com/lyzr/refinery/common/bootstrap"
	"github.com/lyzr/refinery/common/cache"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Repositories
	Posts  repository.PostStore
	Hooks  repository.HookStore
	SQLite *repository.SQLiteStore // nil on postgres

	// Adapters
	Catalogue *adapters.Catalogue
	Generator adapters.TextGenerator
	Scorer    adapters.TextScorer

	// Services
	Ledger     *service.HookLedgerService
	Usage      *service.UsageMeter
	Refinement *service.RefinementService
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger
	c := &Container{Components: components}

	// Initialize repositories
	switch cfg.Database.Driver {
	case "postgres":
		if components.DB == nil {
			return nil, fmt.Errorf("postgres store requires a database connection")
		}
		c.Posts = repository.NewPostRepository(components.DB.Pool)
		c.Hooks = repository.NewHookRepository(components.DB.Pool)
	case "sqlite":
		store, err := repository.OpenSQLite(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		components.AddCleanup(store.Close)
		c.SQLite = store
		c.Posts = store
		c.Hooks = store
		log.Info("sqlite store opened", "path", cfg.Database.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Database.Driver)
	}

	// Usage counters need a cache even when response caching is off
	kv := components.Cache
	if kv == nil {
		local := cache.NewMemoryCache(log, cache.WithJanitor(time.Minute))
		components.AddCleanup(local.Close)
		kv = local
	}

	// Initialize adapters
	catalogue, err := adapters.LoadCatalogue(cfg.Service.HooksFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load hook catalogue: %w", err)
	}
	c.Catalogue = catalogue

	if c.Generator, err = adapters.NewGenerator(cfg.Generator, catalogue); err != nil {
		return nil, err
	}
	if c.Scorer, err = adapters.NewScorer(cfg.Scorer); err != nil {
		return nil, err
	}
	if cfg.Cache.Enabled {
		c.Scorer = adapters.NewCachingScorer(c.Scorer, kv, cfg.Cache.ScoreTTL, log)
	}

	pol, err := policy.New(cfg.Refinement)
	if err != nil {
		return nil, fmt.Errorf("invalid refinement policy: %w", err)
	}

	// Initialize services (bottom-up: dependencies first)
	c.Ledger = service.NewHookLedgerService(c.Hooks, cfg.Refinement.LedgerRetention, log)
	c.Usage = service.NewUsageMeter(kv, log)
	c.Refinement = service.NewRefinementService(service.RefinementDeps{
		Posts:     c.Posts,
		Ledger:    c.Ledger,
		Generator: c.Generator,
		Scorer:    c.Scorer,
		Policy:    pol,
		Cache:     kv,
		Usage:     c.Usage,
		Limiter:   components.Limiter,
		Queue:     components.Queue,
		Telemetry: components.Telemetry,
		Config:    cfg,
		Logger:    log,
	})

	log.Info("service container initialized",
		"store", cfg.Database.Driver,
		"generator", cfg.Generator.Provider,
		"scorer", cfg.Scorer.Provider,
		"hooks", len(catalogue.Hooks()),
	)
	return c, nil
}
