package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cache outcomes per namespace.
type Metrics struct {
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
	refreshes  *prometheus.CounterVec
	tierErrors *prometheus.CounterVec
}

// NewMetrics registers cache metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planfold_cache_hits_total",
			Help: "Cache hits by namespace and freshness (fresh|stale).",
		}, []string{"namespace", "freshness"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planfold_cache_misses_total",
			Help: "Cache misses by namespace.",
		}, []string{"namespace"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planfold_cache_refreshes_total",
			Help: "Background stale refreshes by namespace and status.",
		}, []string{"namespace", "status"}),
		tierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planfold_cache_tier_errors_total",
			Help: "Tier I/O errors by tier and operation.",
		}, []string{"tier", "op"}),
	}

	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.refreshes, m.tierErrors)
	}
	return m
}

func (m *Metrics) hit(namespace, freshness string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(namespace, freshness).Inc()
}

func (m *Metrics) miss(namespace string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(namespace).Inc()
}

func (m *Metrics) refresh(namespace, status string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(namespace, status).Inc()
}

func (m *Metrics) tierError(tier, op string) {
	if m == nil {
		return
	}
	m.tierErrors.WithLabelValues(tier, op).Inc()
}
