package feature

import (
	"github.com/planfold/planfold/internal/feature/repository"
	"github.com/planfold/planfold/internal/feature/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feature.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
