package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestGormLoggerLevels(t *testing.T) {
	logs := observe(t)
	l := NewGormLogger(logger.Warn, false)
	ctx := context.Background()
	query := func() (string, int64) { return "INSERT INTO grant_logs ...", 0 }

	l.Trace(ctx, time.Now(), query, gorm.ErrDuplicatedKey)
	require.Equal(t, 1, logs.FilterMessage("db constraint hit").FilterLevelExact(zapcore.DebugLevel).Len())

	l.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
	require.Equal(t, 1, logs.Len())

	l.Trace(ctx, time.Now(), query, errors.New("connection reset"))
	require.Equal(t, 1, logs.FilterMessage("db query failed").FilterLevelExact(zapcore.ErrorLevel).Len())

	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.FilterMessage("db slow query").Len())

	l.Trace(ctx, time.Now(), query, nil)
	require.Equal(t, 3, logs.Len())

	l.LogMode(logger.Silent).Trace(ctx, time.Now(), query, errors.New("ignored"))
	require.Equal(t, 3, logs.Len())
}
