package event

import "go.uber.org/fx"

// Module publishes events from the API process.
var Module = fx.Module("event.publisher",
	fx.Provide(NewPublisher),
)

// Worker consumes events in cmd/worker.
var Worker = fx.Module("event.worker",
	fx.Provide(NewNotifier, NewRedisDeduper),
	fx.Invoke(Register),
)
