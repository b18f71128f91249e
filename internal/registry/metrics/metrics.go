// Package metrics exposes Prometheus instrumentation for the identity
// uniqueness registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	uniquenessChecks  *prometheus.CounterVec
	conflictsDetected prometheus.Counter
	claims            prometheus.Counter
	guardCacheHits    prometheus.Counter
	guardCacheMisses  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		uniquenessChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_uniqueness_checks_total",
			Help: "Uniqueness checks by outcome (clear, conflict, error).",
		}, []string{"outcome"}),
		conflictsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_conflicts_detected_total",
			Help: "Approvals blocked because another account owns the national ID.",
		}),
		claims: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_claims_total",
			Help: "Registry entries claimed or re-claimed on approval.",
		}),
		guardCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_guard_cache_hits_total",
			Help: "Pre-flight uniqueness lookups served from cache.",
		}),
		guardCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_guard_cache_misses_total",
			Help: "Pre-flight uniqueness lookups that fell through to the store.",
		}),
	}
}

func (m *Metrics) RecordCheck(outcome string) {
	if m == nil {
		return
	}
	m.uniquenessChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.conflictsDetected.Inc()
}

func (m *Metrics) RecordClaim() {
	if m == nil {
		return
	}
	m.claims.Inc()
}

func (m *Metrics) RecordGuardCacheHit() {
	if m == nil {
		return
	}
	m.guardCacheHits.Inc()
}

func (m *Metrics) RecordGuardCacheMiss() {
	if m == nil {
		return
	}
	m.guardCacheMisses.Inc()
}
