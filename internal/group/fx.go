package group

import (
	"github.com/omnifin/platform/internal/group/service"
	"go.uber.org/fx"
)

var Module = fx.Module("group.service",
	fx.Provide(service.NewService),
)
