package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/planfold/planfold/internal/config"
	entdomain "github.com/planfold/planfold/internal/entitlement/domain"
	"github.com/planfold/planfold/internal/ratelimit"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stubEngine struct {
	reports int32
}

func (s *stubEngine) VerifyFeature(ctx context.Context, req entdomain.VerifyFeatureRequest) (entdomain.VerifyFeatureResult, error) {
	return entdomain.VerifyFeatureResult{Access: true, FeatureSlug: req.FeatureSlug}, nil
}

func (s *stubEngine) ReportUsage(ctx context.Context, req entdomain.ReportUsageRequest) (entdomain.ReportUsageResult, error) {
	atomic.AddInt32(&s.reports, 1)
	return entdomain.ReportUsageResult{Accepted: true, FeatureSlug: req.FeatureSlug, CurrentUsage: 1}, nil
}

func newTestServer(t *testing.T, eng entdomain.Engine, limiter *ratelimit.UsageReportLimiter) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:         engine,
		log:            zap.NewNop(),
		entitlementSvc: eng,
		usageLimiter:   limiter,
	}
	srv.registerAPIRoutes()
	return srv
}

func postUsage(srv *Server, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/usage", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.engine.ServeHTTP(w, req)
	return w
}

func TestReportUsageSerializedPerCustomerFeature(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.NewUsageReportLimiter(config.Config{
		RateLimitEnabled:     true,
		UsageReportRate:      50,
		UsageReportBurst:     100,
		UsageReportLockTTLMS: 5000,
	}, client)

	eng := &stubEngine{}
	srv := newTestServer(t, eng, limiter)
	ctx := context.Background()

	token, locked, err := limiter.TryLockCustomerFeature(ctx, "123", "api-calls")
	if err != nil || !locked {
		t.Fatalf("lock: locked=%v err=%v", locked, err)
	}

	// A report for the locked customer and feature must be turned away
	// before it reaches the engine.
	w := postUsage(srv, `{"customer_id":"123","feature_slug":"api-calls"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while locked, got %d: %s", w.Code, w.Body.String())
	}
	if got := atomic.LoadInt32(&eng.reports); got != 0 {
		t.Fatalf("locked report still reached the engine %d times", got)
	}

	// A different feature is an independent lock.
	w = postUsage(srv, `{"customer_id":"123","feature_slug":"sso"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for an unlocked feature, got %d: %s", w.Code, w.Body.String())
	}

	if err := limiter.ReleaseCustomerFeature(ctx, "123", "api-calls", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	w = postUsage(srv, `{"customer_id":"123","feature_slug":"api-calls"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after release, got %d: %s", w.Code, w.Body.String())
	}
	if got := atomic.LoadInt32(&eng.reports); got != 2 {
		t.Fatalf("expected 2 reports to reach the engine, got %d", got)
	}

	// The handler released its own lock on the way out.
	if _, locked, err := limiter.TryLockCustomerFeature(ctx, "123", "api-calls"); err != nil || !locked {
		t.Fatalf("lock not released after report: locked=%v err=%v", locked, err)
	}
}

func TestReportUsageWithoutLimiterPassesThrough(t *testing.T) {
	eng := &stubEngine{}
	srv := newTestServer(t, eng, nil)

	w := postUsage(srv, `{"customer_id":"123","feature_slug":"api-calls"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 without a limiter, got %d: %s", w.Code, w.Body.String())
	}
	if got := atomic.LoadInt32(&eng.reports); got != 1 {
		t.Fatalf("expected 1 report, got %d", got)
	}
}
