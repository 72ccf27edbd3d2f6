package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CacheWindow is the fresh/stale pair for one cache namespace. A value older
// than Fresh but not older than Stale is served while a background refresh
// runs; older than Stale it is treated as absent.
type CacheWindow struct {
	Fresh time.Duration `mapstructure:"fresh"`
	Stale time.Duration `mapstructure:"stale"`
}

type CacheWindowConfig struct {
	Default    CacheWindow            `mapstructure:"default"`
	Namespaces map[string]CacheWindow `mapstructure:"namespaces"`
}

func DefaultCacheWindowConfig() CacheWindowConfig {
	return CacheWindowConfig{
		Default: CacheWindow{Fresh: 30 * time.Second, Stale: 5 * time.Minute},
		Namespaces: map[string]CacheWindow{
			"featureByCustomerId":       {Fresh: 30 * time.Second, Stale: 2 * time.Minute},
			"entitlementsByCustomerId":  {Fresh: 1 * time.Minute, Stale: 5 * time.Minute},
			"subscriptionsByCustomerId": {Fresh: 1 * time.Minute, Stale: 5 * time.Minute},
		},
	}
}

// CacheWindowHolder exposes the current window config and hot-reloads it when
// the mounted file changes. Invalid updates are ignored.
type CacheWindowHolder struct {
	current atomic.Value // holds CacheWindowConfig
}

func NewCacheWindowHolder(log *zap.Logger) (*CacheWindowHolder, error) {
	log = log.Named("config.cache")
	v := viper.New()

	v.SetConfigName("cache")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/planfold/config")
	v.AddConfigPath("/etc/planfold")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PLANFOLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &CacheWindowHolder{}
	holder.current.Store(DefaultCacheWindowConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return holder, nil
	}

	cfg, err := unmarshalCacheWindows(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalCacheWindows(v)
		if err != nil {
			log.Warn("cache window reload rejected", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("cache windows reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticCacheWindowHolder returns a holder pinned to cfg, with no file
// watching. Used by tests and embedded callers.
func NewStaticCacheWindowHolder(cfg CacheWindowConfig) (*CacheWindowHolder, error) {
	if err := validateCacheWindows(cfg); err != nil {
		return nil, err
	}
	holder := &CacheWindowHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func (h *CacheWindowHolder) Get() CacheWindowConfig {
	return h.current.Load().(CacheWindowConfig)
}

// Window resolves the effective window for a namespace.
func (h *CacheWindowHolder) Window(namespace string) CacheWindow {
	cfg := h.Get()
	if w, ok := cfg.Namespaces[namespace]; ok {
		return w
	}
	return cfg.Default
}

func unmarshalCacheWindows(v *viper.Viper) (CacheWindowConfig, error) {
	cfg := DefaultCacheWindowConfig()
	if err := v.UnmarshalKey("cache", &cfg); err != nil {
		return CacheWindowConfig{}, err
	}
	if err := validateCacheWindows(cfg); err != nil {
		return CacheWindowConfig{}, err
	}
	return cfg, nil
}

func validateCacheWindows(cfg CacheWindowConfig) error {
	if cfg.Default.Fresh <= 0 || cfg.Default.Stale < cfg.Default.Fresh {
		return errors.New("cache.default requires 0 < fresh <= stale")
	}
	for ns, w := range cfg.Namespaces {
		if w.Fresh <= 0 || w.Stale < w.Fresh {
			return errors.New("cache.namespaces." + ns + " requires 0 < fresh <= stale")
		}
	}
	return nil
}
