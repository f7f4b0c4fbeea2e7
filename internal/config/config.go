// Package config provides configuration management for Keepsake.
// Settings load from an optional YAML file overlaid by environment variables
// with the KEEPSAKE_ prefix; every option has a sensible default and
// out-of-range values are clamped rather than rejected, so a bad config can
// degrade behavior but never disable the store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keepsakehq/keepsake/internal/engine"
	"github.com/keepsakehq/keepsake/internal/gateway"
)

// Config holds all configuration for a Keepsake workspace instance.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Compaction CompactionConfig `yaml:"compaction"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"` // default: 127.0.0.1
	Port int    `yaml:"port"` // default: 7171

	// APIToken enables bearer-token auth when non-empty.
	APIToken string `yaml:"api_token"`

	// RateLimitPerSec and RateLimitBurst bound the HTTP middleware limiter
	// (defaults: 10 req/s, burst 20). Separate from the gateway's per-minute
	// retrieval budget.
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// StorageConfig contains storage backend configuration.
type StorageConfig struct {
	// Engine selects the storage backend: "sqlite" (default) or "postgres".
	Engine string `yaml:"engine"`

	// DataPath is the directory holding the SQLite database (default ./data).
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string used when Engine is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RankingConfig contains the scoring blend parameters.
type RankingConfig struct {
	// Alpha is the semantic/recency blend weight, clamped to [0.6, 0.95].
	Alpha float64 `yaml:"alpha"`

	// HalfLifeDays is the recency half-life, clamped to [7, 90].
	HalfLifeDays float64 `yaml:"half_life_days"`
}

// GatewayConfig contains retrieval gateway policy.
type GatewayConfig struct {
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"` // default 2, hard cap 5
	RateLimitPerMinute    int           `yaml:"rate_limit_per_minute"`   // default 10, hard cap 30
	MaxResultsDefault     int           `yaml:"max_results_default"`     // default 3, cap 10
	MaxTokenBudgetDefault int           `yaml:"max_token_budget_default"` // default 3000
	IncludeSuperseded     bool          `yaml:"include_superseded"`      // default false
	BackendTimeout        time.Duration `yaml:"backend_timeout"`         // default 10s
	CacheTTL              time.Duration `yaml:"cache_ttl"`               // default 0 (disabled)
}

// CompactionConfig contains compaction trigger thresholds.
type CompactionConfig struct {
	MinClusterSize int     `yaml:"min_cluster_size"` // default 3
	MinAgeDays     float64 `yaml:"min_age_days"`     // default 7

	// Interval enables background compaction when > 0 (e.g. "24h").
	Interval time.Duration `yaml:"interval"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then KEEPSAKE_* environment variables on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.clamp()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7171,
			RateLimitPerSec: 10.0,
			RateLimitBurst:  20,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Ranking: RankingConfig{
			Alpha:        engine.DefaultAlpha,
			HalfLifeDays: engine.DefaultHalfLifeDays,
		},
		Gateway: GatewayConfig{
			MaxConcurrentRequests: gateway.DefaultMaxConcurrent,
			RateLimitPerMinute:    gateway.DefaultRateLimitPerMinute,
			MaxResultsDefault:     gateway.DefaultMaxResults,
			MaxTokenBudgetDefault: gateway.DefaultMaxTokenBudget,
			BackendTimeout:        gateway.DefaultBackendTimeout,
		},
		Compaction: CompactionConfig{
			MinClusterSize: engine.DefaultMinClusterSize,
			MinAgeDays:     engine.DefaultMinAgeDays,
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("KEEPSAKE_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("KEEPSAKE_PORT", c.Server.Port)
	c.Server.APIToken = getEnv("KEEPSAKE_API_TOKEN", c.Server.APIToken)

	c.Storage.Engine = getEnv("KEEPSAKE_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.DataPath = getEnv("KEEPSAKE_DATA_PATH", c.Storage.DataPath)
	c.Storage.PostgresDSN = getEnv("KEEPSAKE_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.Ranking.Alpha = getEnvFloat("KEEPSAKE_ALPHA", c.Ranking.Alpha)
	c.Ranking.HalfLifeDays = getEnvFloat("KEEPSAKE_HALF_LIFE_DAYS", c.Ranking.HalfLifeDays)

	c.Gateway.MaxConcurrentRequests = getEnvInt("KEEPSAKE_MAX_CONCURRENT_REQUESTS", c.Gateway.MaxConcurrentRequests)
	c.Gateway.RateLimitPerMinute = getEnvInt("KEEPSAKE_RATE_LIMIT_PER_MINUTE", c.Gateway.RateLimitPerMinute)
	c.Gateway.MaxResultsDefault = getEnvInt("KEEPSAKE_MAX_RESULTS_DEFAULT", c.Gateway.MaxResultsDefault)
	c.Gateway.MaxTokenBudgetDefault = getEnvInt("KEEPSAKE_MAX_TOKEN_BUDGET", c.Gateway.MaxTokenBudgetDefault)
	c.Gateway.IncludeSuperseded = getEnvBool("KEEPSAKE_INCLUDE_SUPERSEDED", c.Gateway.IncludeSuperseded)
	c.Gateway.BackendTimeout = getEnvDuration("KEEPSAKE_BACKEND_TIMEOUT", c.Gateway.BackendTimeout)
	c.Gateway.CacheTTL = getEnvDuration("KEEPSAKE_CACHE_TTL", c.Gateway.CacheTTL)

	c.Compaction.MinClusterSize = getEnvInt("KEEPSAKE_COMPACTION_MIN_CLUSTER_SIZE", c.Compaction.MinClusterSize)
	c.Compaction.MinAgeDays = getEnvFloat("KEEPSAKE_COMPACTION_MIN_AGE_DAYS", c.Compaction.MinAgeDays)
	c.Compaction.Interval = getEnvDuration("KEEPSAKE_COMPACTION_INTERVAL", c.Compaction.Interval)
}

// clamp enforces the documented ranges. The gateway re-clamps on
// construction; clamping here too keeps the values observable in one place.
func (c *Config) clamp() {
	c.Ranking.Alpha = engine.ClampAlpha(c.Ranking.Alpha)
	c.Ranking.HalfLifeDays = engine.ClampHalfLife(c.Ranking.HalfLifeDays)

	if c.Gateway.MaxConcurrentRequests <= 0 {
		c.Gateway.MaxConcurrentRequests = gateway.DefaultMaxConcurrent
	}
	if c.Gateway.MaxConcurrentRequests > gateway.MaxConcurrentCeiling {
		c.Gateway.MaxConcurrentRequests = gateway.MaxConcurrentCeiling
	}
	if c.Gateway.RateLimitPerMinute <= 0 {
		c.Gateway.RateLimitPerMinute = gateway.DefaultRateLimitPerMinute
	}
	if c.Gateway.RateLimitPerMinute > gateway.RateLimitCeiling {
		c.Gateway.RateLimitPerMinute = gateway.RateLimitCeiling
	}
	if c.Gateway.MaxResultsDefault <= 0 {
		c.Gateway.MaxResultsDefault = gateway.DefaultMaxResults
	}
	if c.Gateway.MaxResultsDefault > gateway.MaxResultsCap {
		c.Gateway.MaxResultsDefault = gateway.MaxResultsCap
	}
	if c.Gateway.MaxTokenBudgetDefault <= 0 {
		c.Gateway.MaxTokenBudgetDefault = gateway.DefaultMaxTokenBudget
	}
	if c.Gateway.BackendTimeout <= 0 {
		c.Gateway.BackendTimeout = gateway.DefaultBackendTimeout
	}
	if c.Compaction.MinClusterSize < 2 {
		c.Compaction.MinClusterSize = engine.DefaultMinClusterSize
	}
	if c.Compaction.MinAgeDays <= 0 {
		c.Compaction.MinAgeDays = engine.DefaultMinAgeDays
	}
}

// GatewayOptions converts the loaded configuration into gateway options.
func (c *Config) GatewayOptions() gateway.Config {
	return gateway.Config{
		Alpha:                    c.Ranking.Alpha,
		HalfLifeDays:             c.Ranking.HalfLifeDays,
		MaxConcurrent:            c.Gateway.MaxConcurrentRequests,
		RateLimitPerMinute:       c.Gateway.RateLimitPerMinute,
		MaxResultsDefault:        c.Gateway.MaxResultsDefault,
		MaxTokenBudgetDefault:    c.Gateway.MaxTokenBudgetDefault,
		IncludeSupersededDefault: c.Gateway.IncludeSuperseded,
		BackendTimeout:           c.Gateway.BackendTimeout,
		CacheTTL:                 c.Gateway.CacheTTL,
	}
}

// CompactorOptions converts the loaded configuration into compactor options.
func (c *Config) CompactorOptions() engine.CompactorConfig {
	return engine.CompactorConfig{
		MinClusterSize: c.Compaction.MinClusterSize,
		MinAgeDays:     c.Compaction.MinAgeDays,
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
		return true
	case "false", "0", "no", "False", "FALSE", "No", "NO":
		return false
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("30s", "24h").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
