package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQuery is the duration above which a query is logged at warn level.
const slowQuery = 2 * time.Second

// gormLog routes gorm's logging through zap.
type gormLog struct {
	zap   *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newGormLog(z *zap.Logger, level gormlogger.LogLevel) gormLog {
	return gormLog{zap: z.Named("gorm"), level: level, slow: slowQuery}
}

func (l gormLog) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	l.level = level
	return l
}

func (l gormLog) Info(_ context.Context, s string, args ...any) {
	if l.level >= gormlogger.Info {
		l.zap.Info(fmt.Sprintf(s, args...))
	}
}

func (l gormLog) Warn(_ context.Context, s string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.zap.Warn(fmt.Sprintf(s, args...))
	}
}

func (l gormLog) Error(_ context.Context, s string, args ...any) {
	if l.level >= gormlogger.Error {
		l.zap.Error(fmt.Sprintf(s, args...))
	}
}

// Trace logs failed queries at error level and slow ones at warn. A
// missing record is an answer, not a failure.
func (l gormLog) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	fields := func() []zap.Field {
		sql, rows := fc()
		return []zap.Field{zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql)}
	}
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		l.zap.Error("query failed", append(fields(), zap.Error(err))...)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		l.zap.Warn("slow query", fields()...)
	case l.level >= gormlogger.Info:
		l.zap.Debug("query", fields()...)
	}
}
