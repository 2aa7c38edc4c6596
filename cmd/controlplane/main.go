package main

import (
	"log"

	"cleanops/pkg/access"
	"cleanops/pkg/config"
	"cleanops/pkg/db"
	"cleanops/pkg/featureflags"
	"cleanops/pkg/gen"
	"cleanops/pkg/hashistack/secretmanager"
	"cleanops/pkg/hashistack/servicediscover"
	"cleanops/pkg/health"
	"cleanops/pkg/logger"
	"cleanops/pkg/minio"
	"cleanops/pkg/otelcol"
	"cleanops/pkg/profiling"
	"cleanops/pkg/redis"
	"cleanops/pkg/sequence"
	"cleanops/pkg/server"
	"cleanops/pkg/task"
	"cleanops/services/event"
	"cleanops/services/invoice"
	"cleanops/services/job"
	"cleanops/services/override"

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
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		access.Module,
		featureflags.Module,
		minio.Client,
		health.Module,
		event.Module,
		invoice.Module,
		job.Module,
		override.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
