package cache

import (
	"context"

	"github.com/planfold/planfold/internal/clock"
	"github.com/planfold/planfold/internal/config"
	"github.com/planfold/planfold/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config  config.Config
	Windows *config.CacheWindowHolder
	Clock   clock.Clock
	Pool    *worker.Pool
	Log     *zap.Logger
}

// NewRedisClient connects to the shared remote tier. Returns nil when no
// address is configured: the cache then runs on the in-process tier alone.
func NewRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Warn("redis not configured, cache runs in-process only")
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewCache(p Params, client *redis.Client) (*Cache, error) {
	tiers := []Store{NewMemoryStore()}
	if client != nil {
		tiers = append(tiers, NewRedisStore(client))
	}
	return New(tiers, p.Windows, p.Clock, p.Pool, NewMetrics(prometheus.DefaultRegisterer), p.Log)
}

func registerHooks(lc fx.Lifecycle, client *redis.Client) {
	if client == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return client.Close()
		},
	})
}

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(NewCache),
	fx.Invoke(registerHooks),
)
