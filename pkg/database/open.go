package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/medcatmlflow/engine/pkg/config"
	"github.com/medcatmlflow/engine/pkg/logger"
)

// Open picks the driver from the DSN. MLflow backend URIs of the form
// sqlite:///path/to/mlflow.db go to SQLite, everything else to PostgreSQL.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	if path, ok := sqlitePath(dsn); ok {
		return OpenSQLite(ctx, path)
	}
	return OpenPostgres(ctx, strings.Replace(dsn, "postgresql+psycopg2://", "postgres://", 1))
}

// OpenSQLite opens a SQLite database file, or an in-memory one for ":memory:".
func OpenSQLite(ctx context.Context, path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single writer avoids "database is locked"
	return db, configurePool(ctx, db, 1)
}

func sqlitePath(dsn string) (string, bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:///"):
		return strings.TrimPrefix(dsn, "sqlite:///"), true
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://"), true
	case strings.HasPrefix(dsn, "sqlite:"):
		return strings.TrimPrefix(dsn, "sqlite:"), true
	case dsn == ":memory:", strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return dsn, true
	}
	return "", false
}

// gormConfig translates driver errors into gorm's (duplicate keys become
// gorm.ErrDuplicatedKey) and logs queries only outside production.
func gormConfig() *gorm.Config {
	level := gormlogger.Silent
	if config.Loaded() {
		if env := config.Get().AppEnv; env == "development" || env == "test" {
			level = gormlogger.Warn
		}
	}
	return &gorm.Config{
		TranslateError: true,
		Logger:         newGormLog(logger.OrNop(nil), level),
	}
}

func configurePool(ctx context.Context, db *gorm.DB, maxOpen int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
