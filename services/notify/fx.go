package notify

import "go.uber.org/fx"

// Module provides the queue-backed Notifier.
var Module = fx.Module("notify",
	fx.Provide(NewTaskNotifier),
)

var WorkerModule = fx.Module("notify.worker",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)
