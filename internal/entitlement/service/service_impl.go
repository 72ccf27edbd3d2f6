package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/planfold/planfold/internal/analytics"
	"github.com/planfold/planfold/internal/cache"
	"github.com/planfold/planfold/internal/clock"
	entdomain "github.com/planfold/planfold/internal/entitlement/domain"
	"github.com/planfold/planfold/internal/observability/metrics"
	"github.com/planfold/planfold/internal/projectcontext"
	subdomain "github.com/planfold/planfold/internal/subscription/domain"
	usagedomain "github.com/planfold/planfold/internal/usage/domain"
	"github.com/planfold/planfold/internal/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// errNotEntitled marks a cache loader outcome where the customer holds no
// active subscription item for the feature. Negative results are not cached,
// so a newly created subscription is visible on the very next verification.
var errNotEntitled = errors.New("not_entitled")

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Cache   *cache.Cache
	Subs    subdomain.Service
	Ledger  usagedomain.Ledger
	Sink    analytics.Sink
	Pool    *worker.Pool
	Metrics *metrics.Metrics `optional:"true"`
}

type Engine struct {
	log     *zap.Logger
	clk     clock.Clock
	cache   *cache.Cache
	subs    subdomain.Service
	ledger  usagedomain.Ledger
	sink    analytics.Sink
	pool    *worker.Pool
	metrics *metrics.Metrics
}

func New(p Params) entdomain.Engine {
	return &Engine{
		log:     p.Log.Named("entitlement.service"),
		clk:     p.Clock,
		cache:   p.Cache,
		subs:    p.Subs,
		ledger:  p.Ledger,
		sink:    p.Sink,
		pool:    p.Pool,
		metrics: p.Metrics,
	}
}

// VerifyFeature decides whether the customer may use the feature right now.
// Flat features grant on possession alone. Metered features compare the
// snapshot's period counter to the limit; a fresh cache hit decides without
// touching the database. The period row is created when the snapshot is
// loaded and the counter rewritten after every accepted report.
func (e *Engine) VerifyFeature(ctx context.Context, req entdomain.VerifyFeatureRequest) (entdomain.VerifyFeatureResult, error) {
	start := e.clk.Now()

	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return entdomain.VerifyFeatureResult{}, entdomain.ErrInvalidProject
	}
	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil || customerID == 0 {
		return entdomain.VerifyFeatureResult{}, entdomain.ErrInvalidCustomer
	}
	featureSlug := strings.TrimSpace(req.FeatureSlug)
	if featureSlug == "" {
		return entdomain.VerifyFeatureResult{}, entdomain.ErrInvalidFeature
	}

	ent, err := e.resolveEntitlement(ctx, projectID, customerID, featureSlug)
	if err != nil {
		if errors.Is(err, errNotEntitled) {
			result := entdomain.VerifyFeatureResult{
				Access:       false,
				DeniedReason: entdomain.DeniedReasonFeatureNotFound,
				FeatureSlug:  featureSlug,
			}
			e.emitVerification(projectID, customerID, result, e.clk.Now().Sub(start))
			return result, nil
		}
		return entdomain.VerifyFeatureResult{}, err
	}

	result := entdomain.VerifyFeatureResult{
		FeatureSlug: ent.FeatureSlug,
		FeatureType: ent.FeatureType,
		Limit:       ent.Limit,
	}

	switch {
	case ent.FeatureType == "" || !ent.FeatureType.Valid():
		e.log.Error("subscription item carries unknown feature type",
			zap.String("feature_slug", ent.FeatureSlug),
			zap.String("feature_type", string(ent.FeatureType)),
			zap.String("subscription_item_id", ent.SubscriptionItemID.String()),
		)
		return entdomain.VerifyFeatureResult{}, entdomain.ErrUnknownFeatureType

	case !ent.FeatureType.Metered():
		result.Access = true

	default:
		result.CurrentUsage = ent.CurrentUsage
		if ent.Limit == nil || ent.CurrentUsage < *ent.Limit {
			result.Access = true
		} else {
			result.DeniedReason = entdomain.DeniedReasonUsageExceeded
		}
	}

	e.emitVerification(projectID, customerID, result, e.clk.Now().Sub(start))
	return result, nil
}

// ReportUsage records consumption against a metered feature. The increment
// is synchronous and atomic; the ledger accepts reports past the limit, so
// overage is counted rather than lost.
func (e *Engine) ReportUsage(ctx context.Context, req entdomain.ReportUsageRequest) (entdomain.ReportUsageResult, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return entdomain.ReportUsageResult{}, entdomain.ErrInvalidProject
	}
	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil || customerID == 0 {
		return entdomain.ReportUsageResult{}, entdomain.ErrInvalidCustomer
	}
	featureSlug := strings.TrimSpace(req.FeatureSlug)
	if featureSlug == "" {
		return entdomain.ReportUsageResult{}, entdomain.ErrInvalidFeature
	}

	delta := req.Delta
	if delta == 0 {
		delta = 1
	}
	if delta < 0 {
		return entdomain.ReportUsageResult{}, entdomain.ErrInvalidDelta
	}

	ent, err := e.resolveEntitlement(ctx, projectID, customerID, featureSlug)
	if err != nil {
		if errors.Is(err, errNotEntitled) {
			return entdomain.ReportUsageResult{
				Accepted:     false,
				DeniedReason: entdomain.DeniedReasonFeatureNotFound,
				FeatureSlug:  featureSlug,
			}, nil
		}
		return entdomain.ReportUsageResult{}, err
	}
	if !ent.FeatureType.Valid() {
		e.log.Error("subscription item carries unknown feature type",
			zap.String("feature_slug", ent.FeatureSlug),
			zap.String("feature_type", string(ent.FeatureType)),
		)
		return entdomain.ReportUsageResult{}, entdomain.ErrUnknownFeatureType
	}
	if !ent.FeatureType.Metered() {
		return entdomain.ReportUsageResult{}, entdomain.ErrFeatureNotMetered
	}

	record, err := e.ledger.Increment(ctx, usagedomain.IncrementRequest{
		ProjectID:          projectID,
		SubscriptionItemID: ent.SubscriptionItemID,
		Delta:              delta,
		Limit:              ent.Limit,
	})
	if err != nil {
		return entdomain.ReportUsageResult{}, err
	}

	limit := record.Limit
	if limit == nil {
		limit = ent.Limit
	}
	result := entdomain.ReportUsageResult{
		Accepted:     true,
		FeatureSlug:  ent.FeatureSlug,
		CurrentUsage: record.Usage,
		Limit:        limit,
	}

	e.metrics.RecordUsageReport(ctx, ent.FeatureSlug)
	e.emitUsage(projectID, customerID, ent.FeatureSlug, delta, record.Usage)

	// Rewrite the snapshot with the counter the increment returned, so the
	// next verification sees this report without a ledger read.
	ent.CurrentUsage = record.Usage
	ent.Limit = limit
	if payload, err := json.Marshal(ent); err == nil {
		e.cache.Set(ctx, cache.NamespaceFeatureByCustomerID, cache.FeatureKey(customerID.String(), featureSlug), payload)
	}
	return result, nil
}

// resolveEntitlement reads the cached feature snapshot, falling back to the
// database on miss. The loader re-injects the project ID because background
// refreshes run outside the request context.
func (e *Engine) resolveEntitlement(ctx context.Context, projectID, customerID snowflake.ID, featureSlug string) (*subdomain.FeatureEntitlement, error) {
	key := cache.FeatureKey(customerID.String(), featureSlug)

	value, err := e.cache.SWR(ctx, cache.NamespaceFeatureByCustomerID, key, e.entitlementLoader(projectID, customerID, featureSlug))
	if err != nil {
		return nil, err
	}

	var ent subdomain.FeatureEntitlement
	if err := json.Unmarshal(value, &ent); err != nil {
		return nil, err
	}
	return &ent, nil
}

func (e *Engine) entitlementLoader(projectID, customerID snowflake.ID, featureSlug string) cache.Loader {
	return func(ctx context.Context) ([]byte, error) {
		ctx = projectcontext.WithProjectID(ctx, int64(projectID))
		ent, err := e.subs.ResolveFeature(ctx, customerID, featureSlug)
		if err != nil {
			return nil, err
		}
		if ent == nil {
			return nil, errNotEntitled
		}
		if ent.FeatureType.Metered() {
			record, err := e.ledger.Ensure(ctx, usagedomain.EnsureRequest{
				ProjectID:          projectID,
				SubscriptionItemID: ent.SubscriptionItemID,
				Limit:              ent.Limit,
			})
			if err != nil {
				return nil, err
			}
			ent.CurrentUsage = record.Usage
			if record.Limit != nil {
				ent.Limit = record.Limit
			}
		}
		return json.Marshal(ent)
	}
}

func (e *Engine) emitVerification(projectID, customerID snowflake.ID, result entdomain.VerifyFeatureResult, latency time.Duration) {
	e.metrics.RecordVerification(context.Background(), result.Access, result.DeniedReason, latency)

	event := analytics.VerificationEvent{
		ProjectID:    projectID.String(),
		CustomerID:   customerID.String(),
		FeatureSlug:  result.FeatureSlug,
		Access:       result.Access,
		DeniedReason: result.DeniedReason,
		CurrentUsage: result.CurrentUsage,
		Limit:        result.Limit,
		LatencyMS:    latency.Milliseconds(),
		OccurredAt:   e.clk.Now(),
	}
	if !e.pool.Submit(func(ctx context.Context) {
		if err := e.sink.IngestFeaturesVerification(ctx, event); err != nil {
			e.log.Warn("verification event dropped", zap.Error(err))
		}
	}) {
		e.log.Warn("verification event dropped, worker queue full")
	}
}

func (e *Engine) emitUsage(projectID, customerID snowflake.ID, featureSlug string, delta, usage int64) {
	event := analytics.UsageEvent{
		ProjectID:   projectID.String(),
		CustomerID:  customerID.String(),
		FeatureSlug: featureSlug,
		Delta:       delta,
		Usage:       usage,
		OccurredAt:  e.clk.Now(),
	}
	if !e.pool.Submit(func(ctx context.Context) {
		if err := e.sink.IngestFeaturesUsage(ctx, event); err != nil {
			e.log.Warn("usage event dropped", zap.Error(err))
		}
	}) {
		e.log.Warn("usage event dropped, worker queue full")
	}
}
