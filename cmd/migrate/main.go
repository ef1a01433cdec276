package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/internal/models"
	"github.com/medcatmlflow/engine/pkg/config"
	"github.com/medcatmlflow/engine/pkg/database"
	"github.com/medcatmlflow/engine/pkg/logger"
)

// registerModels returns the engine tables. The MLflow schema belongs to
// MLflow and is never migrated from here.
func registerModels() []any {
	return []any{
		&models.TestDataset{},
		&models.PerformanceResult{},
	}
}

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := database.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	for _, m := range registerModels() {
		if err := db.AutoMigrate(m); err != nil {
			log.Fatal("migration failed", zap.String("model", fmt.Sprintf("%T", m)), zap.Error(err))
		}
	}

	fmt.Fprintln(os.Stdout, "migrations completed")
}
