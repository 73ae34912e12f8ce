package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service    ServiceConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Cache      CacheConfig
	RateLimit  RateLimitConfig
	Refinement RefinementConfig
	Generator  BackendConfig
	Scorer     BackendConfig
	Queue      QueueConfig
	Telemetry  TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	HooksFile   string // optional YAML hook catalogue override
}

// DatabaseConfig holds store connection settings
type DatabaseConfig struct {
	Driver      string // "postgres" or "sqlite"
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
	SQLitePath  string
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
	ScoreTTL   time.Duration
	PostTTL    time.Duration
	QuotaTTL   time.Duration
}

// WindowConfig is one sliding-window policy
type WindowConfig struct {
	Limit  int64
	Window time.Duration
}

// RateLimitConfig holds per-resource sliding window policies
type RateLimitConfig struct {
	Enabled     bool
	Generation  WindowConfig
	Improvement WindowConfig
	API         WindowConfig
}

// RefinementConfig holds the refinement loop policy
type RefinementConfig struct {
	Threshold         float64
	MaxIterations     int
	EscalateAfter     int
	RecentHookWindow  int
	LedgerRetention   int
	AcceptExpr        string
	EscalateExpr      string
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	GenerationTimeout time.Duration
	ScoringTimeout    time.Duration
	HistoryPageSize   int
	HistoryMaxPage    int
}

// BackendConfig holds an LLM backend endpoint
type BackendConfig struct {
	Provider       string // "openai", "anthropic" or "stub"
	BaseURL        string
	APIKey         string
	Model          string
	EscalatedModel string
	Temperature    float64
}

// QueueConfig holds handoff queue settings
type QueueConfig struct {
	Type   string // "memory" or "redis"
	Stream string
	MaxLen int64
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			HooksFile:   getEnv("HOOKS_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:      getEnv("STORE_DRIVER", "postgres"),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "refinery"),
			User:        getEnv("POSTGRES_USER", "refinery"),
			Password:    getEnv("POSTGRES_PASSWORD", "refinery"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
			SQLitePath:  getEnv("SQLITE_PATH", "refinery.db"),
			AutoMigrate: getEnvBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnvInt("REDIS_PORT", 6379),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			DialTimeout: getEnvDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			OpTimeout:   getEnvDuration("REDIS_OP_TIMEOUT", 500*time.Millisecond),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
			ScoreTTL:   getEnvDuration("CACHE_SCORE_TTL", 1*time.Hour),
			PostTTL:    getEnvDuration("CACHE_POST_TTL", 5*time.Minute),
			QuotaTTL:   getEnvDuration("CACHE_QUOTA_TTL", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			Generation: WindowConfig{
				Limit:  int64(getEnvInt("RATE_LIMIT_GENERATION", 10)),
				Window: getEnvDuration("RATE_LIMIT_GENERATION_WINDOW", 60*time.Second),
			},
			Improvement: WindowConfig{
				Limit:  int64(getEnvInt("RATE_LIMIT_IMPROVEMENT", 20)),
				Window: getEnvDuration("RATE_LIMIT_IMPROVEMENT_WINDOW", time.Hour),
			},
			API: WindowConfig{
				Limit:  int64(getEnvInt("RATE_LIMIT_API", 100)),
				Window: getEnvDuration("RATE_LIMIT_API_WINDOW", time.Hour),
			},
		},
		Refinement: RefinementConfig{
			Threshold:         getEnvFloat("REFINE_THRESHOLD", 85),
			MaxIterations:     getEnvInt("REFINE_MAX_ITERATIONS", 3),
			EscalateAfter:     getEnvInt("REFINE_ESCALATE_AFTER", 2),
			RecentHookWindow:  getEnvInt("REFINE_RECENT_HOOKS", 5),
			LedgerRetention:   getEnvInt("REFINE_LEDGER_RETENTION", 50),
			AcceptExpr:        getEnv("REFINE_ACCEPT_EXPR", ""),
			EscalateExpr:      getEnv("REFINE_ESCALATE_EXPR", ""),
			RetryAttempts:     getEnvInt("REFINE_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:    getEnvDuration("REFINE_RETRY_BASE_DELAY", 500*time.Millisecond),
			GenerationTimeout: getEnvDuration("REFINE_GENERATION_TIMEOUT", 30*time.Second),
			ScoringTimeout:    getEnvDuration("REFINE_SCORING_TIMEOUT", 15*time.Second),
			HistoryPageSize:   getEnvInt("HISTORY_PAGE_SIZE", 20),
			HistoryMaxPage:    getEnvInt("HISTORY_MAX_PAGE", 100),
		},
		Generator: BackendConfig{
			Provider:       getEnv("GENERATOR_PROVIDER", "openai"),
			BaseURL:        getEnv("GENERATOR_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         os.Getenv("GENERATOR_API_KEY"),
			Model:          getEnv("GENERATOR_MODEL", "gpt-4o-mini"),
			EscalatedModel: getEnv("GENERATOR_ESCALATED_MODEL", "gpt-4o"),
			Temperature:    getEnvFloat("GENERATOR_TEMPERATURE", 0.8),
		},
		Scorer: BackendConfig{
			Provider:    getEnv("SCORER_PROVIDER", "anthropic"),
			BaseURL:     getEnv("SCORER_BASE_URL", "https://api.anthropic.com/v1"),
			APIKey:      os.Getenv("SCORER_API_KEY"),
			Model:       getEnv("SCORER_MODEL", "claude-haiku-4-5"),
			Temperature: getEnvFloat("SCORER_TEMPERATURE", 0),
		},
		Queue: QueueConfig{
			Type:   getEnv("QUEUE_TYPE", "memory"),
			Stream: getEnv("QUEUE_STREAM", "posts:finalized"),
			MaxLen: int64(getEnvInt("QUEUE_MAX_LEN", 10000)),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unknown store driver: %s", c.Database.Driver)
	}

	for name, w := range map[string]WindowConfig{
		"generation":  c.RateLimit.Generation,
		"improvement": c.RateLimit.Improvement,
		"api":         c.RateLimit.API,
	} {
		if w.Limit <= 0 || w.Window <= 0 {
			return fmt.Errorf("rate limit %s: limit and window must be positive", name)
		}
	}

	r := c.Refinement
	if r.Threshold < 0 || r.Threshold > 100 {
		return fmt.Errorf("refinement threshold must be within 0..100, got %v", r.Threshold)
	}
	if r.MaxIterations < 0 {
		return fmt.Errorf("refinement max iterations must be >= 0")
	}
	if r.EscalateAfter < 0 {
		return fmt.Errorf("refinement escalate-after must be >= 0")
	}
	if r.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1")
	}
	if r.HistoryPageSize < 1 || r.HistoryMaxPage < r.HistoryPageSize {
		return fmt.Errorf("history page size must be >= 1 and <= max page")
	}

	for name, b := range map[string]BackendConfig{"generator": c.Generator, "scorer": c.Scorer} {
		switch b.Provider {
		case "openai", "anthropic", "stub":
		default:
			return fmt.Errorf("%s: unknown provider: %s", name, b.Provider)
		}
	}

	switch c.Queue.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue type: %s", c.Queue.Type)
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
