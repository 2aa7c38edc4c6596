package main

import (
	"log"

	"cleanops/pkg/config"
	"cleanops/pkg/hashistack/secretmanager"
	"cleanops/pkg/logger"
	"cleanops/pkg/otelcol"
	"cleanops/pkg/profiling"
	"cleanops/pkg/redis"
	"cleanops/pkg/task"
	"cleanops/services/event"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		redis.Module,
		task.Server,
		event.Worker,
		fx.Invoke(func(trace.TracerProvider) {}),
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
