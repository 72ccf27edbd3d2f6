// Package server exposes the HTTP API over gin and wires every domain
// module into one fx application.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/planfold/planfold/internal/analytics"
	"github.com/planfold/planfold/internal/cache"
	"github.com/planfold/planfold/internal/clock"
	"github.com/planfold/planfold/internal/config"
	"github.com/planfold/planfold/internal/customer"
	customerdomain "github.com/planfold/planfold/internal/customer/domain"
	"github.com/planfold/planfold/internal/entitlement"
	entdomain "github.com/planfold/planfold/internal/entitlement/domain"
	"github.com/planfold/planfold/internal/feature"
	featuredomain "github.com/planfold/planfold/internal/feature/domain"
	"github.com/planfold/planfold/internal/migration"
	"github.com/planfold/planfold/internal/observability"
	obslogger "github.com/planfold/planfold/internal/observability/logger"
	obstracing "github.com/planfold/planfold/internal/observability/tracing"
	"github.com/planfold/planfold/internal/payment"
	"github.com/planfold/planfold/internal/plan"
	plandomain "github.com/planfold/planfold/internal/plan/domain"
	"github.com/planfold/planfold/internal/ratelimit"
	"github.com/planfold/planfold/internal/seed"
	"github.com/planfold/planfold/internal/subscription"
	subdomain "github.com/planfold/planfold/internal/subscription/domain"
	"github.com/planfold/planfold/internal/usage"
	"github.com/planfold/planfold/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	config.Module,
	clock.Module,
	observability.Module,
	worker.Module,
	cache.Module,
	analytics.Module,
	migration.Module,
	seed.Module,
	customer.Module,
	feature.Module,
	payment.Module,
	plan.Module,
	ratelimit.Module,
	subscription.Module,
	usage.Module,
	entitlement.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ProjectMiddleware(cfg))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(cfg, obsCfg, log)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	log             *zap.Logger
	cfg             config.Config
	genID           *snowflake.Node
	customerSvc     customerdomain.Service
	featureSvc      featuredomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subdomain.Service
	entitlementSvc  entdomain.Engine
	sink            analytics.Sink
	usageLimiter    *ratelimit.UsageReportLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Log             *zap.Logger
	Cfg             config.Config
	GenID           *snowflake.Node
	CustomerSvc     customerdomain.Service
	FeatureSvc      featuredomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subdomain.Service
	EntitlementSvc  entdomain.Engine
	Sink            analytics.Sink
	UsageLimiter    *ratelimit.UsageReportLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		log:             p.Log.Named("server"),
		cfg:             p.Cfg,
		genID:           p.GenID,
		customerSvc:     p.CustomerSvc,
		featureSvc:      p.FeatureSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		entitlementSvc:  p.EntitlementSvc,
		sink:            p.Sink,
		usageLimiter:    p.UsageLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/entitlements/verify", s.VerifyFeature)
	v1.POST("/usage", s.ReportUsage)
	v1.GET("/usage/features", s.GetFeatureUsage)

	v1.POST("/customers", s.CreateCustomer)
	v1.GET("/customers", s.ListCustomers)
	v1.GET("/customers/:id", s.GetCustomer)
	v1.DELETE("/customers/:id", s.DeleteCustomer)
	v1.GET("/customers/:id/subscriptions", s.ListCustomerSubscriptions)

	v1.POST("/features", s.CreateFeature)
	v1.GET("/features", s.ListFeatures)
	v1.GET("/features/:slug", s.GetFeature)

	v1.POST("/plans", s.CreatePlan)
	v1.POST("/plan-versions", s.CreatePlanVersion)
	v1.POST("/plan-versions/:id/features", s.AddPlanVersionFeature)
	v1.POST("/plan-versions/:id/publish", s.PublishPlanVersion)
	v1.GET("/plan-versions/:id", s.GetPlanVersion)

	v1.POST("/subscriptions", s.CreateSubscription)
	v1.POST("/subscriptions/:id/end", s.EndSubscription)
}
