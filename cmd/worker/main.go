package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-engagement/pkg/config"
	"smallbiznis-engagement/pkg/db"
	"smallbiznis-engagement/pkg/gen"
	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/pkg/otelcol"
	"smallbiznis-engagement/pkg/redis"
	"smallbiznis-engagement/pkg/task"
	"smallbiznis-engagement/services/event"
	"smallbiznis-engagement/services/inventory"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/notify"
	"smallbiznis-engagement/services/trigger"
)

// The worker consumes every background task of the engine.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		gen.Module,
		fx.Invoke(db.Otel),

		event.Module,
		event.WorkerModule,
		ledger.Module,
		inventory.Module,
		notify.Module,
		notify.WorkerModule,
		trigger.Module,
		trigger.WorkerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
