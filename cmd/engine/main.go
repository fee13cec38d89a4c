package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-engagement/internal/httpapi"
	"smallbiznis-engagement/pkg/config"
	"smallbiznis-engagement/pkg/db"
	"smallbiznis-engagement/pkg/gen"
	"smallbiznis-engagement/pkg/health"
	pkghttpapi "smallbiznis-engagement/pkg/httpapi"
	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/pkg/otelcol"
	"smallbiznis-engagement/pkg/profiling"
	"smallbiznis-engagement/pkg/redis"
	"smallbiznis-engagement/pkg/sequence"
	"smallbiznis-engagement/pkg/server"
	"smallbiznis-engagement/pkg/task"
	"smallbiznis-engagement/services/catalog"
	"smallbiznis-engagement/services/event"
	"smallbiznis-engagement/services/inventory"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/notify"
	"smallbiznis-engagement/services/submission"
	"smallbiznis-engagement/services/trigger"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		gen.Module,
		health.Module,
		fx.Invoke(db.Otel, db.Metric),

		event.Module,
		ledger.Module,
		inventory.Module,
		catalog.Module,
		notify.Module,
		trigger.Module,
		submission.Module,

		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		pkghttpapi.Module,
		httpapi.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
