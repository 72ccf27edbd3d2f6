package worker

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("worker",
	fx.Provide(DefaultConfig),
	fx.Provide(NewPool),
	fx.Invoke(runPool),
)

func runPool(lc fx.Lifecycle, pool *Pool, cfg Config) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start(cfg.Workers)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return pool.Stop(ctx)
		},
	})
}
