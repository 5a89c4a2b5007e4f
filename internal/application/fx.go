package application

import (
	"github.com/omnifin/platform/internal/application/service"
	"go.uber.org/fx"
)

var Module = fx.Module("application.service",
	fx.Provide(service.NewService),
)
