package config

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCacheWindowHolderDefaultsWithoutFile(t *testing.T) {
	holder, err := NewCacheWindowHolder(zap.NewNop())
	if err != nil {
		t.Fatalf("holder: %v", err)
	}

	want := DefaultCacheWindowConfig()
	if got := holder.Window("featureByCustomerId"); got != want.Namespaces["featureByCustomerId"] {
		t.Fatalf("namespace window mismatch: %+v", got)
	}
	if got := holder.Window("nonexistent"); got != want.Default {
		t.Fatalf("unknown namespace must fall back to default, got %+v", got)
	}
}

func TestStaticCacheWindowHolderValidates(t *testing.T) {
	if _, err := NewStaticCacheWindowHolder(CacheWindowConfig{
		Default: CacheWindow{Fresh: time.Minute, Stale: time.Second},
	}); err == nil {
		t.Fatal("stale shorter than fresh must be rejected")
	}

	holder, err := NewStaticCacheWindowHolder(CacheWindowConfig{
		Default:    CacheWindow{Fresh: time.Second, Stale: time.Minute},
		Namespaces: map[string]CacheWindow{"a": {Fresh: 2 * time.Second, Stale: 10 * time.Second}},
	})
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if got := holder.Window("a"); got.Fresh != 2*time.Second {
		t.Fatalf("namespace window not applied: %+v", got)
	}
}
