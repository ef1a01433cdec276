package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/internal/api"
	"github.com/medcatmlflow/engine/internal/api/handlers"
	mw "github.com/medcatmlflow/engine/internal/api/middleware"
	"github.com/medcatmlflow/engine/internal/app"
	"github.com/medcatmlflow/engine/pkg/config"
	"github.com/medcatmlflow/engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Initialize logger
	var paths []string
	if cfg.LogPath != "" {
		paths = append(paths, cfg.LogPath)
	}
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat, paths...)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("Starting MedCATmlflow engine",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("parent_policy", cfg.ParentPolicy),
	)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialise engine", zap.Error(err))
	}
	defer a.Close()
	log.Info("Databases and redis connected")

	trusted, err := mw.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatal("Invalid TRUSTED_PROXIES", zap.Error(err))
	}

	router := api.NewRouter(api.Dependencies{
		Health: handlers.NewHealthHandler(
			handlers.Check{Name: "engine_db", Fn: app.Ping(a.EngineDB)},
			handlers.Check{Name: "mlflow_db", Fn: app.Ping(a.MLflowDB)},
			handlers.Check{Name: "redis", Fn: func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }},
		),
		ModelsHandler:      handlers.NewModelsHandler(a.Models),
		DatasetsHandler:    handlers.NewDatasetsHandler(a.Datasets),
		PerformanceHandler: handlers.NewPerformanceHandler(a.Performance),
		RateLimit:          cfg.RateLimitRPS,
		TrustedProxies:     trusted,
	})

	// Inline evaluations can run for minutes, hence the long write timeout.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      time.Hour,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
