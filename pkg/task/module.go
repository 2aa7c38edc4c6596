package task

import (
	"context"
	"os"
	"time"

	"cleanops/pkg/config"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

var Client = fx.Module("asynq:client",
	fx.Provide(registerClient, NewEnqueuer),
)

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}
}

func registerClient(lc fx.Lifecycle, cfg *config.Config) *asynq.Client {
	client := asynq.NewClient(redisOpt(cfg))

	if err := client.Ping(); err != nil {
		zap.L().Error("[Asynq] Failed to connect to Asynq", zap.Error(err))
		os.Exit(1)
	}

	zap.L().Info("[Asynq] Connected to Asynq", zap.String("addr", cfg.Redis.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client
}

var Server = fx.Module("asynq:server",
	fx.Provide(registerServerMux),
	fx.Invoke(registerAsynqServer),
)

func registerServerMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

// ServerConfig builds the worker settings. Review and override events go to
// the critical queue and are always drained first.
func ServerConfig(cfg *config.Config) asynq.Config {
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	shutdown := cfg.Worker.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}

	return asynq.Config{
		Concurrency:     concurrency,
		RetryDelayFunc:  asynq.DefaultRetryDelayFunc,
		ShutdownTimeout: shutdown,
		StrictPriority:  true,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
		Logger:       zapLogger{},
		ErrorHandler: asynq.ErrorHandlerFunc(reportFailure),
	}
}

// reportFailure logs every failed attempt at warn and the last one at error.
func reportFailure(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	fields := []zap.Field{
		zap.String("task_type", task.Type()),
		zap.Int("retried", retried),
		zap.Int("max_retry", maxRetry),
		zap.Error(err),
	}
	if retried >= maxRetry {
		zap.L().Error("asynq task permanently failed", fields...)
		return
	}
	zap.L().Warn("asynq task failed, will retry", fields...)
}

func registerAsynqServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	server := asynq.NewServer(redisOpt(cfg), ServerConfig(cfg))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(mux); err != nil {
				return err
			}
			zap.L().Info("[Asynq] Asynq server started", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}

// zapLogger resolves the global logger per call so it follows ReplaceGlobals.
type zapLogger struct{}

func (zapLogger) Debug(args ...interface{}) { zap.S().Named("asynq").Debug(args...) }
func (zapLogger) Info(args ...interface{}) { zap.S().Named("asynq").Info(args...) }
func (zapLogger) Warn(args ...interface{}) { zap.S().Named("asynq").Warn(args...) }
func (zapLogger) Error(args ...interface{}) { zap.S().Named("asynq").Error(args...) }
func (zapLogger) Fatal(args ...interface{}) { zap.S().Named("asynq").Fatal(args...) }
