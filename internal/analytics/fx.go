package analytics

import (
	"github.com/planfold/planfold/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewSink(cfg config.Config, log *zap.Logger) Sink {
	if cfg.AnalyticsEndpoint == "" {
		log.Named("analytics.sink").Info("no analytics endpoint configured, events are discarded")
		return NoopSink{}
	}
	return NewHTTPSink(cfg.AnalyticsEndpoint, cfg.AnalyticsToken, log)
}

var Module = fx.Module("analytics",
	fx.Provide(NewSink),
)
