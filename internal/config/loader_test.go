package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("expected metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected store backend 'memory', got %s", cfg.Store.Backend)
	}
	if cfg.Production.ConfigPath != "production.yaml" {
		t.Errorf("expected production config path 'production.yaml', got %s", cfg.Production.ConfigPath)
	}
}

func TestLoader_LoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: debug
metrics:
  port: 9191
store:
  backend: memory
production:
  config_path: custom-production.yaml
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loader := NewLoader(WithConfigPaths(configPath))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Log.Level)
	}
	if cfg.Metrics.Port != 9191 {
		t.Errorf("expected port 9191, got %d", cfg.Metrics.Port)
	}
	if cfg.Production.ConfigPath != "custom-production.yaml" {
		t.Errorf("expected custom production config path, got %s", cfg.Production.ConfigPath)
	}
}

func TestLoader_LoadFromEnv(t *testing.T) {
	os.Setenv("HIE_LOG_LEVEL", "warn")
	os.Setenv("HIE_METRICS_PORT", "9292")
	defer func() {
		os.Unsetenv("HIE_LOG_LEVEL")
		os.Unsetenv("HIE_METRICS_PORT")
	}()

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level 'warn', got %s", cfg.Log.Level)
	}
	if cfg.Metrics.Port != 9292 {
		t.Errorf("expected port 9292, got %d", cfg.Metrics.Port)
	}
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: error
metrics:
  port: 9393
`
	os.WriteFile(configPath, []byte(configContent), 0644)

	os.Setenv("HIE_LOG_LEVEL", "debug")
	defer os.Unsetenv("HIE_LOG_LEVEL")

	cfg, err := NewLoader(WithConfigPaths(configPath)).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected env override, got %s", cfg.Log.Level)
	}
	// Port should come from file.
	if cfg.Metrics.Port != 9393 {
		t.Errorf("expected port from file 9393, got %d", cfg.Metrics.Port)
	}
}

func TestLoader_WithEnvPrefix(t *testing.T) {
	os.Setenv("CUSTOM_LOG_LEVEL", "debug")
	defer os.Unsetenv("CUSTOM_LOG_LEVEL")

	cfg, err := NewLoader(WithEnvPrefix("CUSTOM_")).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected 'debug', got %s", cfg.Log.Level)
	}
}

func TestMustLoad_Success(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustLoad should not panic with valid config")
		}
	}()

	cfg := MustLoad()
	if cfg == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoad_Simple(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoader_ConfigEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.yaml")

	configContent := `
production:
  config_path: env-var-production.yaml
`
	os.WriteFile(configPath, []byte(configContent), 0644)

	os.Setenv("CONFIG_PATH", configPath)
	defer os.Unsetenv("CONFIG_PATH")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Production.ConfigPath != "env-var-production.yaml" {
		t.Errorf("expected 'env-var-production.yaml', got %s", cfg.Production.ConfigPath)
	}
}
