package progress

import (
	"github.com/omnifin/platform/internal/progress/service"
	"go.uber.org/fx"
)

var Module = fx.Module("progress.service",
	fx.Provide(service.NewService),
)
