// Package cache implements the namespaced, multi-tier stale-while-revalidate
// cache that backs the entitlement hot path.
package cache

import (
	"context"
	"time"
)

// Entry is a cached value with its freshness bounds. FreshUntil <= StaleUntil
// always holds; a value read after StaleUntil is treated as absent.
type Entry struct {
	Value      []byte    `json:"value"`
	FreshUntil time.Time `json:"fresh_until"`
	StaleUntil time.Time `json:"stale_until"`
}

// Store is a single key/value tier. Implementations must be safe for
// concurrent use. A nil entry with nil error means the key is absent.
type Store interface {
	Name() string
	Get(ctx context.Context, namespace, key string) (*Entry, error)
	Set(ctx context.Context, namespace, key string, entry Entry) error
	Delete(ctx context.Context, namespace, key string) error
	Scan(ctx context.Context, namespace, prefix string) (map[string]Entry, error)
	Increment(ctx context.Context, namespace, key string, delta int64) (int64, error)
}
