package metrics

import (
	"github.com/omnifin/platform/internal/config"
	"go.uber.org/fx"
)

func provide(appCfg config.Config) *Metrics {
	return WithConfig(Config{
		ServiceName: appCfg.AppName,
		Environment: appCfg.Environment,
	})
}

var Module = fx.Module("metrics",
	fx.Provide(provide),
)
