package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"hie/internal/cache"
	"hie/internal/config"
	"hie/internal/database"
	"hie/internal/engine"
	"hie/internal/irisxml"
	"hie/internal/logging"
	"hie/internal/metrics"
	"hie/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("error")
		logging.Fatal("failed to load config", "error", err)
	}

	logging.InitWithConfig(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	logging.Log.Info("starting production engine",
		"production_config", cfg.Production.ConfigPath,
		"format", cfg.Production.Format,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	}

	msgStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logging.Fatal("failed to initialize store", "error", err)
	}
	defer closeStore()

	prod, err := loadProduction(&cfg.Production)
	if err != nil {
		logging.Fatal("failed to load production configuration", "error", err)
	}

	eng := engine.New(
		engine.WithStore(msgStore),
		engine.WithStartupDelay(cfg.Engine.StartupDelay),
		engine.WithShutdownTimeout(cfg.Engine.ShutdownTimeout),
	)

	if err := eng.Deploy(prod); err != nil {
		logging.Fatal("failed to deploy production", "error", err)
	}
	if err := eng.Start(); err != nil {
		logging.Fatal("failed to start production", "error", err)
	}
	logging.Log.Info("production running", "name", prod.Name)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.Metrics.Port),
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Log.Info("metrics listening", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Log.Error("metrics server failed", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Log.Info("shutting down...")

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if err := eng.Stop(); err != nil {
		logging.Log.Error("production stop error", "error", err)
	}
	logging.Log.Info("production stopped")
}

// buildStore constructs the configured store backend, returning a
// no-op close func for the memory backend.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Store.Backend != "postgres" {
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := database.NewPostgresDB(ctx, &cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	if err := database.RunMigrations(ctx, db.Pool(), &cfg.Store, store.MigrationsFS, store.MigrationsDir); err != nil {
		db.Close()
		return nil, nil, err
	}

	bodyCache, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	cached := store.NewCachedStore(store.NewPostgresStore(db), bodyCache, cfg.Cache.DefaultTTL)
	return cached, db.Close, nil
}

// loadProduction reads the production definition in whichever format the
// config names: native YAML by default, or IRIS .xml/.cls via
// internal/irisxml.
func loadProduction(src *config.ProductionSource) (*config.ProductionConfig, error) {
	switch src.Format {
	case "iris-xml", "iris-cls":
		return irisxml.NewLoader().Load(src.ConfigPath)
	default:
		return config.LoadProductionYAML(src.ConfigPath)
	}
}

