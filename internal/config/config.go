// Package config defines the engine's process-level configuration and its
// load/validate pipeline.
package config

import (
	"fmt"
	"strings"
	"time"

	"hie/internal/apperror"
)

// Config is the top-level process configuration for the engine binary.
// It is distinct from a ProductionConfig: these are settings the engine
// needs regardless of which production it happens to be running.
type Config struct {
	Engine     EngineConfig     `koanf:"engine"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Store      StoreConfig      `koanf:"store"`
	Cache      CacheConfig      `koanf:"cache"`
	Production ProductionSource `koanf:"production"`
}

// EngineConfig holds engine-wide lifecycle tunables.
type EngineConfig struct {
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
	StartupDelay     time.Duration `koanf:"startup_delay"`
	DefaultQueueSize int           `koanf:"default_queue_size"`
}

// LogConfig configures the slog-based logger.
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`     // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// StoreConfig configures the message store backend.
type StoreConfig struct {
	Backend      string `koanf:"backend"` // postgres, memory
	DSN          string `koanf:"dsn"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
	PoolMaxConns int    `koanf:"pool_max_conns"`
	PoolMinConns int    `koanf:"pool_min_conns"`
}

// CacheConfig configures the cache that cmd/engine puts in front of the
// message store's GetContent reads.
type CacheConfig struct {
	Backend    string        `koanf:"backend"` // memory, redis
	Address    string        `koanf:"address"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
}

// ProductionSource locates the production definition to load at startup.
type ProductionSource struct {
	ConfigPath string `koanf:"config_path"`
	Format     string `koanf:"format"` // yaml, iris-xml, iris-cls
}

// Validate checks the configuration and returns an aggregated
// apperror.ValidationErrors, or nil if the configuration is valid.
func (c *Config) Validate() error {
	errs := apperror.NewValidationErrors()

	if c.Engine.ShutdownTimeout <= 0 {
		c.Engine.ShutdownTimeout = 30 * time.Second
	}
	if c.Engine.DefaultQueueSize <= 0 {
		errs.AddErrorWithField(apperror.CodeConfig, "engine.default_queue_size must be positive", "engine.default_queue_size")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs.AddErrorWithField(apperror.CodeConfig, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level), "log.level")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs.AddErrorWithField(apperror.CodeConfig, fmt.Sprintf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port), "metrics.port")
	}

	validStoreBackends := map[string]bool{"postgres": true, "memory": true}
	if !validStoreBackends[c.Store.Backend] {
		errs.AddErrorWithField(apperror.CodeConfig, fmt.Sprintf("store.backend must be one of: postgres, memory, got %s", c.Store.Backend), "store.backend")
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		errs.AddErrorWithField(apperror.CodeConfig, "store.dsn is required when store.backend is postgres", "store.dsn")
	}

	validCacheBackends := map[string]bool{"memory": true, "redis": true}
	if !validCacheBackends[c.Cache.Backend] {
		errs.AddErrorWithField(apperror.CodeConfig, fmt.Sprintf("cache.backend must be one of: memory, redis, got %s", c.Cache.Backend), "cache.backend")
	}
	if c.Cache.Backend == "redis" && c.Cache.Address == "" {
		errs.AddErrorWithField(apperror.CodeConfig, "cache.address is required when cache.backend is redis", "cache.address")
	}

	if c.Production.ConfigPath == "" {
		errs.AddErrorWithField(apperror.CodeConfig, "production.config_path is required", "production.config_path")
	}
	validFormats := map[string]bool{"yaml": true, "iris-xml": true, "iris-cls": true}
	if c.Production.Format != "" && !validFormats[c.Production.Format] {
		errs.AddErrorWithField(apperror.CodeConfig, fmt.Sprintf("production.format must be one of: yaml, iris-xml, iris-cls, got %s", c.Production.Format), "production.format")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
