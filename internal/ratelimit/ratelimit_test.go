package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/planfold/planfold/internal/config"
	redis "github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTokenBucketDrainsToDenial(t *testing.T) {
	bucket := NewTokenBucket(newTestClient(t))
	ctx := context.Background()

	// rate 1/s, burst 2: two immediate tokens, the third is denied.
	for i := 0; i < 2; i++ {
		allowed, err := bucket.Allow(ctx, "usage:report:customer:7", 1, 2)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("token %d must be granted", i)
		}
	}

	allowed, err := bucket.Allow(ctx, "usage:report:customer:7", 1, 2)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("drained bucket must deny")
	}
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	bucket := NewTokenBucket(newTestClient(t))
	ctx := context.Background()

	if allowed, _ := bucket.Allow(ctx, "usage:report:customer:7", 1, 1); !allowed {
		t.Fatal("first customer must be granted")
	}
	if allowed, _ := bucket.Allow(ctx, "usage:report:customer:8", 1, 1); !allowed {
		t.Fatal("second customer has its own bucket")
	}
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	bucket := NewTokenBucket(newTestClient(t))
	ctx := context.Background()

	if _, err := bucket.Allow(ctx, "", 1, 1); err == nil {
		t.Fatal("empty key must error")
	}
	if _, err := bucket.Allow(ctx, "k", 0, 1); err == nil {
		t.Fatal("zero rate must error")
	}
	if _, err := bucket.Allow(ctx, "k", 1, 0); err == nil {
		t.Fatal("zero burst must error")
	}
}

func TestLockerReleaseRequiresToken(t *testing.T) {
	locker := NewLocker(newTestClient(t))
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "usage:report:lock:7:api-calls", time.Minute)
	if err != nil {
		t.Fatalf("trylock: %v", err)
	}
	if !ok || token == "" {
		t.Fatal("first acquire must succeed with a token")
	}

	if _, ok, _ := locker.TryLock(ctx, "usage:report:lock:7:api-calls", time.Minute); ok {
		t.Fatal("held lock must not be re-acquired")
	}

	if err := locker.Release(ctx, "usage:report:lock:7:api-calls", "stale-token"); err != nil {
		t.Fatalf("release with wrong token: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "usage:report:lock:7:api-calls", time.Minute); ok {
		t.Fatal("wrong token must not free the lock")
	}

	if err := locker.Release(ctx, "usage:report:lock:7:api-calls", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "usage:report:lock:7:api-calls", time.Minute); !ok {
		t.Fatal("released lock must be acquirable")
	}
}

func TestUsageReportLimiterDisabledAllowsAll(t *testing.T) {
	var limiter *UsageReportLimiter

	if limiter.Enabled() {
		t.Fatal("nil limiter must report disabled")
	}
	allowed, err := limiter.AllowCustomer(context.Background(), "7")
	if err != nil || !allowed {
		t.Fatalf("nil limiter must allow, got %v %v", allowed, err)
	}
}

func TestUsageReportLimiterLockRoundTrip(t *testing.T) {
	cfg := config.Config{
		RateLimitEnabled:     true,
		UsageReportRate:      50,
		UsageReportBurst:     100,
		UsageReportLockTTLMS: 5000,
	}
	limiter := NewUsageReportLimiter(cfg, newTestClient(t))
	if !limiter.Enabled() {
		t.Fatal("limiter must be enabled")
	}
	ctx := context.Background()

	allowed, err := limiter.AllowCustomer(ctx, "7")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed {
		t.Fatal("fresh customer must be within the burst")
	}

	token, ok, err := limiter.TryLockCustomerFeature(ctx, "7", "api-calls")
	if err != nil {
		t.Fatalf("trylock: %v", err)
	}
	if !ok {
		t.Fatal("lock must be acquirable")
	}
	if _, ok, _ := limiter.TryLockCustomerFeature(ctx, "7", "api-calls"); ok {
		t.Fatal("lock must be exclusive per customer and feature")
	}
	if err := limiter.ReleaseCustomerFeature(ctx, "7", "api-calls", token); err != nil {
		t.Fatalf("release: %v", err)
	}
}
