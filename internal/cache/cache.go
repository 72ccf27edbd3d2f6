package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/planfold/planfold/internal/clock"
	"github.com/planfold/planfold/internal/config"
	"github.com/planfold/planfold/internal/worker"
	"go.uber.org/zap"
)

// ErrNoTiers is returned when a Cache is constructed without stores.
var ErrNoTiers = errors.New("cache requires at least one tier")

// Freshness classifies a hit relative to its namespace window.
type Freshness string

const (
	FreshnessFresh Freshness = "fresh"
	FreshnessStale Freshness = "stale"
)

// Result is the outcome of a cache read.
type Result struct {
	Value     []byte
	Found     bool
	Freshness Freshness
}

// Loader produces the authoritative value on miss or stale refresh.
type Loader func(ctx context.Context) ([]byte, error)

// Cache probes an ordered list of tiers (fastest first) and applies
// stale-while-revalidate semantics per namespace. Tier I/O failures are
// never propagated to readers: a failing Get is a miss for that tier, a
// failing Set is logged and ignored.
type Cache struct {
	tiers   []Store
	windows *config.CacheWindowHolder
	clk     clock.Clock
	log     *zap.Logger
	metrics *Metrics
	pool    *worker.Pool

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(tiers []Store, windows *config.CacheWindowHolder, clk clock.Clock, pool *worker.Pool, metrics *Metrics, log *zap.Logger) (*Cache, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	return &Cache{
		tiers:    tiers,
		windows:  windows,
		clk:      clk,
		log:      log.Named("cache"),
		metrics:  metrics,
		pool:     pool,
		inflight: make(map[string]struct{}),
	}, nil
}

// Get probes tiers in order. A hit found in tier i is promoted into all
// faster tiers as a side effect. Entries past their stale bound count as
// absent.
func (c *Cache) Get(ctx context.Context, namespace, key string) Result {
	now := c.clk.Now()

	for i, tier := range c.tiers {
		entry, err := tier.Get(ctx, namespace, key)
		if err != nil {
			c.metrics.tierError(tier.Name(), "get")
			c.log.Debug("tier get failed, treating as miss",
				zap.String("tier", tier.Name()),
				zap.String("namespace", namespace),
				zap.Error(err),
			)
			continue
		}
		if entry == nil || now.After(entry.StaleUntil) {
			continue
		}

		c.promote(ctx, namespace, key, *entry, i)

		freshness := FreshnessFresh
		if now.After(entry.FreshUntil) {
			freshness = FreshnessStale
		}
		c.metrics.hit(namespace, string(freshness))
		return Result{Value: entry.Value, Found: true, Freshness: freshness}
	}

	c.metrics.miss(namespace)
	return Result{}
}

// Set writes the value to every tier, stamped with the namespace window.
func (c *Cache) Set(ctx context.Context, namespace, key string, value []byte) {
	entry := c.newEntry(namespace, value)
	for _, tier := range c.tiers {
		if err := tier.Set(ctx, namespace, key, entry); err != nil {
			c.metrics.tierError(tier.Name(), "set")
			c.log.Warn("tier set failed",
				zap.String("tier", tier.Name()),
				zap.String("namespace", namespace),
				zap.Error(err),
			)
		}
	}
}

// Delete removes the key from every tier, best effort.
func (c *Cache) Delete(ctx context.Context, namespace, key string) {
	for _, tier := range c.tiers {
		if err := tier.Delete(ctx, namespace, key); err != nil {
			c.metrics.tierError(tier.Name(), "delete")
		}
	}
}

// DeletePrefix removes every key under the prefix from every tier, best
// effort. Tiers are scanned independently so an entry present in one tier
// only is still dropped.
func (c *Cache) DeletePrefix(ctx context.Context, namespace, prefix string) {
	for _, tier := range c.tiers {
		entries, err := tier.Scan(ctx, namespace, prefix)
		if err != nil {
			c.metrics.tierError(tier.Name(), "scan")
			c.log.Warn("tier scan failed",
				zap.String("tier", tier.Name()),
				zap.String("namespace", namespace),
				zap.Error(err),
			)
			continue
		}
		for key := range entries {
			if err := tier.Delete(ctx, namespace, key); err != nil {
				c.metrics.tierError(tier.Name(), "delete")
			}
		}
	}
}

// SWR is the composed read-through operation. On full miss the loader runs
// synchronously and its error propagates. On a stale hit the cached value is
// returned immediately and a single deduplicated background refresh is
// scheduled; refresh failures are logged and swallowed.
func (c *Cache) SWR(ctx context.Context, namespace, key string, loader Loader) ([]byte, error) {
	result := c.Get(ctx, namespace, key)
	if result.Found {
		if result.Freshness == FreshnessStale {
			c.scheduleRefresh(namespace, key, loader)
		}
		return result.Value, nil
	}

	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	c.Set(ctx, namespace, key, value)
	return value, nil
}

func (c *Cache) newEntry(namespace string, value []byte) Entry {
	now := c.clk.Now()
	window := c.windows.Window(namespace)
	return Entry{
		Value:      value,
		FreshUntil: now.Add(window.Fresh),
		StaleUntil: now.Add(window.Stale),
	}
}

func (c *Cache) promote(ctx context.Context, namespace, key string, entry Entry, hitTier int) {
	for i := 0; i < hitTier; i++ {
		if err := c.tiers[i].Set(ctx, namespace, key, entry); err != nil {
			c.metrics.tierError(c.tiers[i].Name(), "promote")
		}
	}
}

func (c *Cache) scheduleRefresh(namespace, key string, loader Loader) {
	refreshKey := namespace + ":" + key

	c.mu.Lock()
	if _, running := c.inflight[refreshKey]; running {
		c.mu.Unlock()
		return
	}
	c.inflight[refreshKey] = struct{}{}
	c.mu.Unlock()

	submitted := c.pool.Submit(func(ctx context.Context) {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, refreshKey)
			c.mu.Unlock()
		}()

		value, err := loader(ctx)
		if err != nil {
			c.metrics.refresh(namespace, "error")
			c.log.Warn("background refresh failed",
				zap.String("namespace", namespace),
				zap.String("key", key),
				zap.Error(err),
			)
			return
		}
		c.Set(ctx, namespace, key, value)
		c.metrics.refresh(namespace, "ok")
	})

	if !submitted {
		c.mu.Lock()
		delete(c.inflight, refreshKey)
		c.mu.Unlock()
	}
}
