package subscription

import (
	"github.com/planfold/planfold/internal/subscription/repository"
	"github.com/planfold/planfold/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
