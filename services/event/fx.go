package event

import "go.uber.org/fx"

var Module = fx.Module("event.service",
	fx.Provide(NewService),
)

// WorkerModule runs the daily force confirmation purge.
var WorkerModule = fx.Module("event.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(RegisterWorker, StartScheduler),
)
