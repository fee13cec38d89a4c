package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-engagement/pkg/errutil"
	applog "smallbiznis-engagement/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

const defaultSlowQuery = 200 * time.Millisecond

// GormLogger routes gorm output to the global zap logger, tagged with the
// caller's trace. Unique constraint hits are expected outcomes here
// (repeat submissions, grant races) and stay at debug level.
type GormLogger struct {
	level   logger.LogLevel
	slow    time.Duration
	showSQL bool
}

func NewGormLogger(level logger.LogLevel, showSQL bool) *GormLogger {
	return &GormLogger{level: level, slow: defaultSlowQuery, showSQL: showSQL}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		applog.FromContext(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		applog.FromContext(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		applog.FromContext(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.String("caller", utils.FileWithLineNum()),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	log := applog.FromContext(ctx)

	switch {
	case err != nil && errors.Is(err, logger.ErrRecordNotFound):
	case err != nil && errutil.IsUniqueViolation(err):
		log.Debug("db constraint hit", append(fields, zap.String("sql", sql), zap.Error(err))...)
	case err != nil:
		log.Error("db query failed", append(fields, zap.String("sql", sql), zap.Error(err))...)
	case l.slow > 0 && elapsed > l.slow:
		log.Warn("db slow query", append(fields, zap.String("sql", sql), zap.Duration("threshold", l.slow))...)
	case l.level >= logger.Info && l.showSQL:
		log.Debug("db query", append(fields, zap.String("sql", sql))...)
	}
}
