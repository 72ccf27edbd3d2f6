package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/planfold/planfold/internal/analytics"
	"github.com/planfold/planfold/internal/cache"
	"github.com/planfold/planfold/internal/clock"
	"github.com/planfold/planfold/internal/config"
	customerdomain "github.com/planfold/planfold/internal/customer/domain"
	entdomain "github.com/planfold/planfold/internal/entitlement/domain"
	plandomain "github.com/planfold/planfold/internal/plan/domain"
	"github.com/planfold/planfold/internal/projectcontext"
	subdomain "github.com/planfold/planfold/internal/subscription/domain"
	subrepository "github.com/planfold/planfold/internal/subscription/repository"
	subservice "github.com/planfold/planfold/internal/subscription/service"
	usagedomain "github.com/planfold/planfold/internal/usage/domain"
	usageledger "github.com/planfold/planfold/internal/usage/ledger"
	"github.com/planfold/planfold/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testProjectID = int64(42)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clk    *clock.FakeClock
	cache  *cache.Cache
	subs   subdomain.Service
	engine entdomain.Engine
}

func testContext() context.Context {
	return projectcontext.WithProjectID(context.Background(), testProjectID)
}

func setupEngine(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	err = db.AutoMigrate(
		&customerdomain.Customer{},
		&plandomain.Plan{},
		&plandomain.PlanVersion{},
		&plandomain.PlanVersionFeature{},
		&subdomain.Subscription{},
		&subdomain.SubscriptionItem{},
		&usagedomain.UsageRecord{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	pool := worker.NewPool(worker.Config{Workers: 2, QueueSize: 32}, zap.NewNop())
	pool.Start(2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	windows, err := config.NewStaticCacheWindowHolder(config.CacheWindowConfig{
		Default: config.CacheWindow{Fresh: time.Minute, Stale: 5 * time.Minute},
	})
	if err != nil {
		t.Fatalf("windows: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC))
	c, err := cache.New([]cache.Store{cache.NewMemoryStore()}, windows, clk, pool, cache.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	subs := subservice.New(subservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  subrepository.Provide(),
		Cache: c,
		Pool:  pool,
	})

	ledger := usageledger.New(usageledger.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk})

	engine := New(Params{
		Log:    zap.NewNop(),
		Clock:  clk,
		Cache:  c,
		Subs:   subs,
		Ledger: ledger,
		Sink:   analytics.NoopSink{},
		Pool:   pool,
	})

	return &fixture{db: db, node: node, clk: clk, cache: c, subs: subs, engine: engine}
}

func (f *fixture) subscribe(t *testing.T, features ...plandomain.PlanVersionFeature) customerdomain.Customer {
	t.Helper()
	ctx := testContext()
	now := time.Now().UTC()

	customer := customerdomain.Customer{
		ID:        f.node.Generate(),
		ProjectID: snowflake.ID(testProjectID),
		Name:      "Acme",
		Email:     "billing@acme.test",
	}
	if err := f.db.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	plan := plandomain.Plan{
		ID:        f.node.Generate(),
		ProjectID: snowflake.ID(testProjectID),
		Slug:      "starter",
		Title:     "Starter",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.db.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	version := plandomain.PlanVersion{
		ID:            f.node.Generate(),
		ProjectID:     snowflake.ID(testProjectID),
		PlanID:        plan.ID,
		Version:       1,
		Status:        plandomain.PlanVersionStatusPublished,
		Currency:      "USD",
		BillingPeriod: "month",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.db.Create(&version).Error; err != nil {
		t.Fatalf("seed version: %v", err)
	}

	for i := range features {
		features[i].ID = f.node.Generate()
		features[i].ProjectID = snowflake.ID(testProjectID)
		features[i].PlanVersionID = version.ID
		features[i].FeatureID = f.node.Generate()
		if features[i].DefaultQuantity == 0 {
			features[i].DefaultQuantity = 1
		}
		features[i].CreatedAt = now
		features[i].UpdatedAt = now
		if err := f.db.Create(&features[i]).Error; err != nil {
			t.Fatalf("seed version feature: %v", err)
		}
	}

	if _, err := f.subs.Create(ctx, subdomain.CreateSubscriptionRequest{
		CustomerID:    customer.ID.String(),
		PlanVersionID: version.ID.String(),
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Warm-up runs on the pool; wait for it so later writes are ordered
	// after it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if res := f.cache.Get(ctx, cache.NamespaceSubscriptionsByCustomerID, customer.ID.String()); res.Found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cache warm-up never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return customer
}

func TestVerifyFlatFeatureGrants(t *testing.T) {
	f := setupEngine(t)
	customer := f.subscribe(t, plandomain.PlanVersionFeature{
		FeatureSlug: "sso",
		FeatureType: plandomain.FeatureTypeFlat,
	})

	result, err := f.engine.VerifyFeature(testContext(), entdomain.VerifyFeatureRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "sso",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Access {
		t.Fatalf("flat feature must grant on possession: %+v", result)
	}
	if result.DeniedReason != "" {
		t.Fatalf("granted decision must carry no denial reason, got %q", result.DeniedReason)
	}
}

func TestVerifyUnknownFeatureDenies(t *testing.T) {
	f := setupEngine(t)
	customer := f.subscribe(t, plandomain.PlanVersionFeature{
		FeatureSlug: "sso",
		FeatureType: plandomain.FeatureTypeFlat,
	})

	result, err := f.engine.VerifyFeature(testContext(), entdomain.VerifyFeatureRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "audit-logs",
	})
	if err != nil {
		t.Fatalf("a denial is not an error: %v", err)
	}
	if result.Access {
		t.Fatal("unheld feature must be denied")
	}
	if result.DeniedReason != entdomain.DeniedReasonFeatureNotFound {
		t.Fatalf("expected %s, got %q", entdomain.DeniedReasonFeatureNotFound, result.DeniedReason)
	}
}

func TestVerifyDoesNotConsumeUsage(t *testing.T) {
	f := setupEngine(t)
	limit := int64(10)
	customer := f.subscribe(t, plandomain.PlanVersionFeature{
		FeatureSlug: "api-calls",
		FeatureType: plandomain.FeatureTypeUsage,
		Limit:       &limit,
	})

	for i := 0; i < 3; i++ {
		result, err := f.engine.VerifyFeature(testContext(), entdomain.VerifyFeatureRequest{
			CustomerID:  customer.ID.String(),
			FeatureSlug: "api-calls",
		})
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if !result.Access || result.CurrentUsage != 0 {
			t.Fatalf("verification must not consume usage: %+v", result)
		}
		if result.Limit == nil || *result.Limit != 10 {
			t.Fatalf("limit missing from decision: %+v", result)
		}
	}
}

func TestReportUsageThenDenyPastLimit(t *testing.T) {
	f := setupEngine(t)
	limit := int64(5)
	customer := f.subscribe(t, plandomain.PlanVersionFeature{
		FeatureSlug: "api-calls",
		FeatureType: plandomain.FeatureTypeUsage,
		Limit:       &limit,
	})
	ctx := testContext()

	report, err := f.engine.ReportUsage(ctx, entdomain.ReportUsageRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
		Delta:       3,
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !report.Accepted || report.CurrentUsage != 3 {
		t.Fatalf("expected usage 3, got %+v", report)
	}

	verify, err := f.engine.VerifyFeature(ctx, entdomain.VerifyFeatureRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verify.Access {
		t.Fatalf("usage below limit must grant: %+v", verify)
	}

	// Overage is recorded, never rejected.
	report, err = f.engine.ReportUsage(ctx, entdomain.ReportUsageRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
		Delta:       3,
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !report.Accepted || report.CurrentUsage != 6 {
		t.Fatalf("expected usage 6, got %+v", report)
	}

	verify, err = f.engine.VerifyFeature(ctx, entdomain.VerifyFeatureRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verify.Access {
		t.Fatalf("usage at or past the limit must deny: %+v", verify)
	}
	if verify.DeniedReason != entdomain.DeniedReasonUsageExceeded {
		t.Fatalf("expected %s, got %q", entdomain.DeniedReasonUsageExceeded, verify.DeniedReason)
	}
	if verify.CurrentUsage != 6 || verify.Limit == nil || *verify.Limit != 5 {
		t.Fatalf("denial must carry usage and limit: %+v", verify)
	}
}

func TestReportUsageDefaultsDeltaToOne(t *testing.T) {
	f := setupEngine(t)
	customer := f.subscribe(t, plandomain.PlanVersionFeature{
		FeatureSlug: "api-calls",
		FeatureType: plandomain.FeatureTypeUsage,
	})

	report, err := f.engine.ReportUsage(testContext(), entdomain.ReportUsageRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.CurrentUsage != 1 {
		t.Fatalf("expected default delta 1, got %d", report.CurrentUsage)
	}
	if report.Limit != nil {
		t.Fatalf("unlimited feature must carry no limit, got %v", report.Limit)
	}
}

func TestReportUsageUnheldFeatureDenies(t *testing.T) {
	f := setupEngine(t)
	customer := f.subscribe(t, plandomain.PlanVersionFeature{
		FeatureSlug: "sso",
		FeatureType: plandomain.FeatureTypeFlat,
	})

	report, err := f.engine.ReportUsage(testContext(), entdomain.ReportUsageRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "audit-logs",
	})
	if err != nil {
		t.Fatalf("a denial is not an error: %v", err)
	}
	if report.Accepted {
		t.Fatal("report against an unheld feature must be rejected")
	}
	if report.DeniedReason != entdomain.DeniedReasonFeatureNotFound {
		t.Fatalf("expected %s, got %q", entdomain.DeniedReasonFeatureNotFound, report.DeniedReason)
	}
}

func TestReportUsageFlatFeatureRejected(t *testing.T) {
	f := setupEngine(t)
	customer := f.subscribe(t, plandomain.PlanVersionFeature{
		FeatureSlug: "sso",
		FeatureType: plandomain.FeatureTypeFlat,
	})

	_, err := f.engine.ReportUsage(testContext(), entdomain.ReportUsageRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "sso",
	})
	if !errors.Is(err, entdomain.ErrFeatureNotMetered) {
		t.Fatalf("expected ErrFeatureNotMetered, got %v", err)
	}
}

func TestVerifyUsesCachedEntitlement(t *testing.T) {
	f := setupEngine(t)
	customer := f.subscribe(t, plandomain.PlanVersionFeature{
		FeatureSlug: "sso",
		FeatureType: plandomain.FeatureTypeFlat,
	})
	ctx := testContext()

	if _, err := f.engine.VerifyFeature(ctx, entdomain.VerifyFeatureRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "sso",
	}); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Remove the backing rows; a fresh cached snapshot must still answer.
	if err := f.db.Exec("DELETE FROM subscription_items").Error; err != nil {
		t.Fatalf("delete items: %v", err)
	}
	if err := f.db.Exec("DELETE FROM subscriptions").Error; err != nil {
		t.Fatalf("delete subscriptions: %v", err)
	}

	result, err := f.engine.VerifyFeature(ctx, entdomain.VerifyFeatureRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "sso",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Access {
		t.Fatalf("fresh cache entry must serve without a database read: %+v", result)
	}
}

func TestVerifyDecidesFromSnapshotWithoutLedger(t *testing.T) {
	f := setupEngine(t)
	limit := int64(10)
	customer := f.subscribe(t, plandomain.PlanVersionFeature{
		FeatureSlug: "api-calls",
		FeatureType: plandomain.FeatureTypeUsage,
		Limit:       &limit,
	})
	ctx := testContext()

	report, err := f.engine.ReportUsage(ctx, entdomain.ReportUsageRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
		Delta:       3,
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.CurrentUsage != 3 {
		t.Fatalf("expected usage 3, got %+v", report)
	}

	// Skew the ledger row. A fresh snapshot carries its own counter, so
	// verification must not notice.
	if err := f.db.Exec("UPDATE usage_records SET usage = 99").Error; err != nil {
		t.Fatalf("skew ledger: %v", err)
	}

	verify, err := f.engine.VerifyFeature(ctx, entdomain.VerifyFeatureRequest{
		CustomerID:  customer.ID.String(),
		FeatureSlug: "api-calls",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verify.Access || verify.CurrentUsage != 3 {
		t.Fatalf("fresh hit must decide from the cached counter: %+v", verify)
	}
}

func TestVerifyInvalidInput(t *testing.T) {
	f := setupEngine(t)

	if _, err := f.engine.VerifyFeature(context.Background(), entdomain.VerifyFeatureRequest{
		CustomerID: "1", FeatureSlug: "sso",
	}); !errors.Is(err, entdomain.ErrInvalidProject) {
		t.Fatalf("expected ErrInvalidProject, got %v", err)
	}

	if _, err := f.engine.VerifyFeature(testContext(), entdomain.VerifyFeatureRequest{
		CustomerID: "not-a-number", FeatureSlug: "sso",
	}); !errors.Is(err, entdomain.ErrInvalidCustomer) {
		t.Fatalf("expected ErrInvalidCustomer, got %v", err)
	}

	if _, err := f.engine.VerifyFeature(testContext(), entdomain.VerifyFeatureRequest{
		CustomerID: "12345",
	}); !errors.Is(err, entdomain.ErrInvalidFeature) {
		t.Fatalf("expected ErrInvalidFeature, got %v", err)
	}
}
