package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/internal/app"
	"github.com/medcatmlflow/engine/internal/queue/tasks"
	"github.com/medcatmlflow/engine/pkg/config"
	"github.com/medcatmlflow/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	var paths []string
	if cfg.LogPath != "" {
		paths = append(paths, cfg.LogPath)
	}
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat, paths...)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("failed to initialise engine", zap.Error(err))
	}
	defer a.Close()

	opts := app.RedisOptions(cfg)
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
			Logger:      log.Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	tasks.NewHandler(a.Performance, a.Models).Register(mux)

	errCh := make(chan error, 1)
	go func() {
		log.Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("worker stopped with error", zap.Error(err))
	}

	// lets in-flight evaluations finish
	srv.Shutdown()
}
