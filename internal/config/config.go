// Package config loads the service configuration: built-in defaults, then an
// optional TOML file, then an optional .env file and CREDENCE_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atmx/credence-engine/internal/treatment"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CREDENCE_"

// Config is the complete service configuration.
type Config struct {
	LogLevel   string           `toml:"log_level" env:"LOG_LEVEL"`
	Server     ServerConfig     `toml:"server" envPrefix:"SERVER_"`
	Storage    StorageConfig    `toml:"storage" envPrefix:"STORAGE_"`
	Experiment ExperimentConfig `toml:"experiment" envPrefix:"EXPERIMENT_"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `toml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects the persistence backend. DatabaseURL wins over
// SQLitePath; with neither set the service keeps everything in memory.
type StorageConfig struct {
	DatabaseURL string        `toml:"database_url" env:"DATABASE_URL"`
	SQLitePath  string        `toml:"sqlite_path" env:"SQLITE_PATH"`
	RedisURL    string        `toml:"redis_url" env:"REDIS_URL"`
	CacheTTL    time.Duration `toml:"cache_ttl" env:"CACHE_TTL"`
	BarrierTTL  time.Duration `toml:"barrier_ttl" env:"BARRIER_TTL"`
}

// ExperimentConfig holds the session defaults. Payment conversion belongs to
// each treatment.
type ExperimentConfig struct {
	DefaultTreatment string `toml:"default_treatment" env:"DEFAULT_TREATMENT"`
	MarketSize       int    `toml:"market_size" env:"MARKET_SIZE"`
	Rounds           int    `toml:"rounds" env:"ROUNDS"`

	// TypeSeed makes seller type draws reproducible when set.
	TypeSeed string `toml:"type_seed" env:"TYPE_SEED"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			CacheTTL:   30 * time.Second,
			BarrierTTL: 24 * time.Hour,
		},
		Experiment: ExperimentConfig{
			DefaultTreatment: treatment.Exogenous,
			MarketSize:       8,
			Rounds:           16,
		},
	}
}

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	if lvl, ok := validLogLevels[strings.ToLower(c.LogLevel)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if _, ok := validLogLevels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server: shutdown_timeout must be positive")
	}

	if c.Storage.DatabaseURL != "" && c.Storage.SQLitePath != "" {
		errs = append(errs, "storage: set either database_url or sqlite_path, not both")
	}
	if c.Storage.RedisURL != "" {
		if c.Storage.CacheTTL <= 0 {
			errs = append(errs, "storage: cache_ttl must be positive when redis_url is set")
		}
		if c.Storage.BarrierTTL <= 0 {
			errs = append(errs, "storage: barrier_ttl must be positive when redis_url is set")
		}
	}

	if _, err := treatment.Lookup(c.Experiment.DefaultTreatment); err != nil {
		errs = append(errs, fmt.Sprintf("experiment: unknown default_treatment %q (valid: %s)",
			c.Experiment.DefaultTreatment, strings.Join(treatment.Names(), ", ")))
	}
	if c.Experiment.MarketSize <= 0 || c.Experiment.MarketSize%2 != 0 {
		errs = append(errs, fmt.Sprintf("experiment: market_size must be a positive even number, got %d", c.Experiment.MarketSize))
	}
	if c.Experiment.Rounds < 1 {
		errs = append(errs, "experiment: rounds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
