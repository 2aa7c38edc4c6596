package profiling

import (
	"context"
	"fmt"
	"runtime"

	"cleanops/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(Start))

// Mutex and block profiles matter here: every state change serialises on a
// row lock, and contention shows up there first.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

func Tags(c *config.Config) map[string]string {
	return map[string]string{
		"service_name": c.AppName,
		"version":      c.AppVersion,
		"env":          c.AppEnv,
	}
}

// Start is a no-op unless PYROSCOPE.ADDR is set.
func Start(lc fx.Lifecycle, c *config.Config) error {
	if c.Pyroscope.Addr == "" {
		return nil
	}

	runtime.SetMutexProfileFraction(5)
	runtime.SetBlockProfileRate(5)

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		ProfileTypes:    profileTypes,
		Tags:            Tags(c),
	})
	if err != nil {
		return fmt.Errorf("start pyroscope: %w", err)
	}
	zap.L().Info("pyroscope started", zap.String("app_name", c.AppName), zap.String("addr", c.Pyroscope.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})

	return nil
}
