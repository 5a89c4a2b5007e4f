package lender

import (
	"github.com/omnifin/platform/internal/lender/service"
	"go.uber.org/fx"
)

var Module = fx.Module("lender.service",
	fx.Provide(service.NewService),
)
