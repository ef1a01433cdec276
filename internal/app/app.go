// Package app wires the engine's components from configuration. The API
// server and the worker share it so both see the same stores and caches.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medcatmlflow/engine/internal/lineage"
	"github.com/medcatmlflow/engine/internal/mct"
	"github.com/medcatmlflow/engine/internal/medcat"
	"github.com/medcatmlflow/engine/internal/metadata"
	"github.com/medcatmlflow/engine/internal/performance"
	"github.com/medcatmlflow/engine/internal/registry"
	"github.com/medcatmlflow/engine/internal/repository"
	"github.com/medcatmlflow/engine/internal/services"
	"github.com/medcatmlflow/engine/pkg/cache"
	"github.com/medcatmlflow/engine/pkg/config"
	"github.com/medcatmlflow/engine/pkg/database"
)

// App holds the wired services and the connections they share.
type App struct {
	EngineDB *gorm.DB
	MLflowDB *gorm.DB
	Redis    *redis.Client
	Queue    *asynq.Client

	Models      services.ModelService
	Datasets    services.DatasetService
	Performance services.PerformanceService
}

// New opens both databases and redis and builds the services on top.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	engineDB, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("engine database: %w", err)
	}
	mlflowDB, err := database.Open(ctx, cfg.MLflowDBURI)
	if err != nil {
		return nil, fmt.Errorf("mlflow database: %w", err)
	}

	rdb := redis.NewClient(RedisOptions(cfg))
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	queue := asynq.NewClientFromRedisClient(rdb)
	shared := cache.NewRedis(rdb, "medcatmlflow:")

	policy, err := lineage.ParsePolicy(cfg.ParentPolicy)
	if err != nil {
		return nil, err
	}

	mc := medcat.NewClient(medcat.NewExecRunner(cfg.MedCATPython, cfg.MedCATHelper), shared, log)

	var linker metadata.Linker
	if cfg.MCTBaseURL != "" {
		trainer, err := mct.New(mct.Config{
			BaseURL:  cfg.MCTBaseURL,
			Username: cfg.MCTUsername,
			Password: cfg.MCTPassword,
		}, mc, shared, log)
		if err != nil {
			return nil, fmt.Errorf("medcattrainer client: %w", err)
		}
		linker = trainer
	} else {
		log.Info("MCT_BASE_URL not set, concept databases will not be linked")
	}

	store := metadata.NewStore(registry.New(mlflowDB), mc, linker, metadata.StoreConfig{
		StoragePath: cfg.ModelStoragePath,
		SizeLimit:   cfg.TagSizeLimit,
	}, log)

	datasetRepo := repository.NewDatasetRepository(engineDB)
	perfCache := performance.NewCache(repository.NewPerformanceRepository(engineDB), mc, log)

	models := services.NewModelService(store, policy, cfg.ModelStoragePath, queue)
	return &App{
		EngineDB:    engineDB,
		MLflowDB:    mlflowDB,
		Redis:       rdb,
		Queue:       queue,
		Models:      models,
		Datasets:    services.NewDatasetService(datasetRepo, cfg.ModelStoragePath),
		Performance: services.NewPerformanceService(models, datasetRepo, perfCache, queue),
	}, nil
}

// RedisOptions are the connection settings shared by the cache, the queue
// client and the worker server.
func RedisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: 0}
}

// Ping reports whether db answers.
func Ping(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

// Close releases the connections opened by New.
func (a *App) Close() {
	_ = a.Queue.Close()
	_ = a.Redis.Close()
	for _, db := range []*gorm.DB{a.EngineDB, a.MLflowDB} {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
