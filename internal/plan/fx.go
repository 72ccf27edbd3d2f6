package plan

import (
	"github.com/planfold/planfold/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(service.New),
)
