package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/planfold/planfold/internal/clock"
	"github.com/planfold/planfold/internal/config"
	"github.com/planfold/planfold/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func testWindows(t *testing.T, fresh, stale time.Duration) *config.CacheWindowHolder {
	t.Helper()
	holder, err := config.NewStaticCacheWindowHolder(config.CacheWindowConfig{
		Default: config.CacheWindow{Fresh: fresh, Stale: stale},
	})
	if err != nil {
		t.Fatalf("static window holder: %v", err)
	}
	return holder
}

func newTestCache(t *testing.T, tiers []Store, fresh, stale time.Duration) (*Cache, *clock.FakeClock) {
	t.Helper()

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	pool := worker.NewPool(worker.Config{Workers: 2, QueueSize: 32}, zap.NewNop())
	pool.Start(2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	c, err := New(tiers, testWindows(t, fresh, stale), clk, pool, NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, clk
}

func TestSWRFreshHitSkipsLoader(t *testing.T) {
	c, _ := newTestCache(t, []Store{NewMemoryStore()}, time.Minute, 5*time.Minute)
	ctx := context.Background()

	c.Set(ctx, "ns", "k", []byte("v1"))

	var calls int32
	value, err := c.SWR(ctx, "ns", "k", func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("v2"), nil
	})
	if err != nil {
		t.Fatalf("swr: %v", err)
	}
	if string(value) != "v1" {
		t.Fatalf("expected cached value, got %q", value)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("loader ran on fresh hit")
	}
}

func TestSWRMissRunsLoaderAndCaches(t *testing.T) {
	c, _ := newTestCache(t, []Store{NewMemoryStore()}, time.Minute, 5*time.Minute)
	ctx := context.Background()

	var calls int32
	value, err := c.SWR(ctx, "ns", "k", func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("loaded"), nil
	})
	if err != nil {
		t.Fatalf("swr: %v", err)
	}
	if string(value) != "loaded" {
		t.Fatalf("unexpected value %q", value)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one loader call, got %d", calls)
	}

	result := c.Get(ctx, "ns", "k")
	if !result.Found || string(result.Value) != "loaded" {
		t.Fatalf("loaded value not cached")
	}
}

func TestSWRMissPropagatesLoaderError(t *testing.T) {
	c, _ := newTestCache(t, []Store{NewMemoryStore()}, time.Minute, 5*time.Minute)

	wantErr := errors.New("origin down")
	_, err := c.SWR(context.Background(), "ns", "k", func(context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

func TestSWRStaleServesOldValueAndRefreshesOnce(t *testing.T) {
	c, clk := newTestCache(t, []Store{NewMemoryStore()}, time.Minute, 5*time.Minute)
	ctx := context.Background()

	c.Set(ctx, "ns", "k", []byte("old"))
	clk.Advance(2 * time.Minute)

	var calls int32
	loaded := make(chan struct{})
	loader := func(context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			defer close(loaded)
		}
		return []byte("new"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := c.SWR(ctx, "ns", "k", loader)
			if err != nil {
				t.Errorf("swr: %v", err)
				return
			}
			if s := string(value); s != "old" && s != "new" {
				t.Errorf("stale read must serve a cached value, got %q", s)
			}
		}()
	}
	wg.Wait()

	select {
	case <-loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh never ran")
	}

	// Drain any straggler submissions before counting.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}

	result := c.Get(ctx, "ns", "k")
	if !result.Found || string(result.Value) != "new" {
		t.Fatalf("refreshed value not stored, got %+v", result)
	}
	if result.Freshness != FreshnessFresh {
		t.Fatalf("refreshed entry should be fresh, got %s", result.Freshness)
	}
}

func TestGetExpiredEntryIsMiss(t *testing.T) {
	c, clk := newTestCache(t, []Store{NewMemoryStore()}, time.Minute, 5*time.Minute)
	ctx := context.Background()

	c.Set(ctx, "ns", "k", []byte("v"))
	clk.Advance(6 * time.Minute)

	if result := c.Get(ctx, "ns", "k"); result.Found {
		t.Fatalf("entry past its stale bound must be absent")
	}
}

type failingStore struct {
	name string
}

func (f *failingStore) Name() string { return f.name }
func (f *failingStore) Get(context.Context, string, string) (*Entry, error) {
	return nil, errors.New("tier down")
}
func (f *failingStore) Set(context.Context, string, string, Entry) error {
	return errors.New("tier down")
}
func (f *failingStore) Delete(context.Context, string, string) error {
	return errors.New("tier down")
}
func (f *failingStore) Scan(context.Context, string, string) (map[string]Entry, error) {
	return nil, errors.New("tier down")
}
func (f *failingStore) Increment(context.Context, string, string, int64) (int64, error) {
	return 0, errors.New("tier down")
}

func TestGetTierErrorFallsThrough(t *testing.T) {
	slow := NewMemoryStore()
	c, _ := newTestCache(t, []Store{&failingStore{name: "broken"}, slow}, time.Minute, 5*time.Minute)
	ctx := context.Background()

	c.Set(ctx, "ns", "k", []byte("v"))

	result := c.Get(ctx, "ns", "k")
	if !result.Found || string(result.Value) != "v" {
		t.Fatalf("failing tier must not hide slower tiers, got %+v", result)
	}
}

func TestGetPromotesToFasterTier(t *testing.T) {
	fast := NewMemoryStore()
	slow := NewMemoryStore()
	c, _ := newTestCache(t, []Store{fast, slow}, time.Minute, 5*time.Minute)
	ctx := context.Background()

	entry := Entry{
		Value:      []byte("v"),
		FreshUntil: time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC),
		StaleUntil: time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC),
	}
	if err := slow.Set(ctx, "ns", "k", entry); err != nil {
		t.Fatalf("seed slow tier: %v", err)
	}

	result := c.Get(ctx, "ns", "k")
	if !result.Found {
		t.Fatal("expected hit from slow tier")
	}

	promoted, err := fast.Get(ctx, "ns", "k")
	if err != nil {
		t.Fatalf("fast tier get: %v", err)
	}
	if promoted == nil || string(promoted.Value) != "v" {
		t.Fatal("hit was not promoted into the faster tier")
	}
}

func TestMemoryStoreNamespacesAreDisjoint(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	entry := Entry{Value: []byte("v"), FreshUntil: time.Now().Add(time.Minute), StaleUntil: time.Now().Add(time.Hour)}

	if err := s.Set(ctx, "a", "k", entry); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Get(ctx, "b", "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatal("namespaces must not share keys")
	}

	if err := s.Delete(ctx, "a", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.Get(ctx, "a", "k"); got != nil {
		t.Fatal("delete did not remove the entry")
	}
}

func TestDeletePrefixDropsMatchingKeys(t *testing.T) {
	c, _ := newTestCache(t, []Store{NewMemoryStore()}, time.Minute, 5*time.Minute)
	ctx := context.Background()

	c.Set(ctx, "featureByCustomerId", "7:api-calls", []byte("a"))
	c.Set(ctx, "featureByCustomerId", "7:sso", []byte("b"))
	c.Set(ctx, "featureByCustomerId", "8:api-calls", []byte("c"))

	c.DeletePrefix(ctx, "featureByCustomerId", "7:")

	if res := c.Get(ctx, "featureByCustomerId", "7:api-calls"); res.Found {
		t.Fatal("7:api-calls must be dropped")
	}
	if res := c.Get(ctx, "featureByCustomerId", "7:sso"); res.Found {
		t.Fatal("7:sso must be dropped")
	}
	if res := c.Get(ctx, "featureByCustomerId", "8:api-calls"); !res.Found {
		t.Fatal("other customers' keys must survive")
	}
}
