package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/medcatmlflow/engine/pkg/logger"
)

var connectBackoff = backoff{maxRetries: 5, delay: 500 * time.Millisecond, maxDelay: 5 * time.Second}

// OpenPostgres connects with retries, since the engine usually starts next
// to its databases. It serves both the engine's own database and the
// MLflow backend store.
func OpenPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	for attempt := 0; ; attempt++ {
		db, err = gorm.Open(postgres.Open(dsn), gormConfig())
		if err == nil {
			break
		}
		if attempt >= connectBackoff.maxRetries {
			return nil, fmt.Errorf("open postgres failed after %d attempts: %w", attempt+1, err)
		}
		logger.OrNop(nil).Warn("postgres not reachable, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("open postgres canceled: %w", ctx.Err())
		case <-time.After(connectBackoff.nextDelay(attempt)):
		}
	}
	return db, configurePool(ctx, db, 25)
}

type backoff struct {
	maxRetries int
	delay      time.Duration
	maxDelay   time.Duration
}

func (b backoff) nextDelay(attempt int) time.Duration {
	d := b.delay << attempt
	if d > b.maxDelay {
		return b.maxDelay
	}
	return d
}
