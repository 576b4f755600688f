package config

import (
	"testing"
	"time"

	"hie/internal/apperror"
)

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Engine:     EngineConfig{ShutdownTimeout: 30 * time.Second, DefaultQueueSize: 1000},
			Log:        LogConfig{Level: "info"},
			Metrics:    MetricsConfig{Enabled: true, Port: 9090},
			Store:      StoreConfig{Backend: "memory"},
			Cache:      CacheConfig{Backend: "memory"},
			Production: ProductionSource{ConfigPath: "production.yaml", Format: "yaml"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing default queue size",
			mutate:  func(c *Config) { c.Engine.DefaultQueueSize = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "valid debug level",
			mutate:  func(c *Config) { c.Log.Level = "debug" },
			wantErr: false,
		},
		{
			name:    "invalid metrics port",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "metrics port ignored when disabled",
			mutate:  func(c *Config) { c.Metrics.Enabled = false; c.Metrics.Port = 0 },
			wantErr: false,
		},
		{
			name:    "invalid store backend",
			mutate:  func(c *Config) { c.Store.Backend = "mysql" },
			wantErr: true,
		},
		{
			name:    "postgres backend requires dsn",
			mutate:  func(c *Config) { c.Store.Backend = "postgres"; c.Store.DSN = "" },
			wantErr: true,
		},
		{
			name: "postgres backend with dsn is valid",
			mutate: func(c *Config) {
				c.Store.Backend = "postgres"
				c.Store.DSN = "postgres://localhost/hie"
			},
			wantErr: false,
		},
		{
			name:    "redis cache requires address",
			mutate:  func(c *Config) { c.Cache.Backend = "redis"; c.Cache.Address = "" },
			wantErr: true,
		},
		{
			name:    "missing production config path",
			mutate:  func(c *Config) { c.Production.ConfigPath = "" },
			wantErr: true,
		},
		{
			name:    "invalid production format",
			mutate:  func(c *Config) { c.Production.Format = "json" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ve *apperror.ValidationErrors
				if _, ok := err.(*apperror.ValidationErrors); !ok {
					t.Errorf("Validate() error type = %T, want *apperror.ValidationErrors", err)
				} else {
					ve = err.(*apperror.ValidationErrors)
					if !ve.HasErrors() {
						t.Error("expected ValidationErrors to have errors")
					}
				}
			}
		})
	}
}
