package profiling

import (
	"context"

	"smallbiznis-engagement/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(Start))

// ProfileTypes are the continuous profiles pushed for every process.
var ProfileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexDuration,
}

// NewConfig returns nil when PYROSCOPE.ADDR is unset.
func NewConfig(c *config.Config) *pyroscope.Config {
	if c.Pyroscope.Addr == "" {
		return nil
	}
	return &pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		ProfileTypes:    ProfileTypes,
		Tags: map[string]string{
			"service_name": c.AppName,
			"env":          c.AppEnv,
		},
	}
}

func Start(lc fx.Lifecycle, c *config.Config) error {
	pc := NewConfig(c)
	if pc == nil {
		return nil
	}

	profiler, err := pyroscope.Start(*pc)
	if err != nil {
		zap.L().Error("failed to start pyroscope", zap.Error(err))
		return err
	}
	zap.L().Info("pyroscope started", zap.String("addr", pc.ServerAddress))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}
