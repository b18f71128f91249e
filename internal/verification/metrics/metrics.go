package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification module.
type Metrics struct {
	// Attempt lifecycle by event: started, resumed, submitted.
	AttemptEvents *prometheus.CounterVec

	// Provider invocation latency by tier.
	ProviderLatency *prometheus.HistogramVec

	// Provider invocations that degraded to manual review.
	ProviderDegraded *prometheus.CounterVec

	// Decisions folded into attempts by source and outcome.
	DecisionOutcome *prometheus.CounterVec

	// Computed confidence scores by tier.
	ConfidenceScore *prometheus.HistogramVec
}

// New creates a Metrics instance with all verification metrics registered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AttemptEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_attempt_events_total",
			Help: "Attempt lifecycle events by kind (started, resumed, submitted).",
		}, []string{"event"}),

		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verification_provider_duration_seconds",
			Help:    "Duration of provider invocations by tier",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"tier"}),

		ProviderDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_provider_degraded_total",
			Help: "Provider failures absorbed into a degraded pending attempt",
		}, []string{"tier"}),

		DecisionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_decisions_total",
			Help: "Decisions applied to attempts by source (webhook, review) and outcome",
		}, []string{"source", "outcome"}),

		ConfidenceScore: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verification_confidence_score",
			Help:    "Aggregated confidence scores by tier",
			Buckets: []float64{0.5, 0.6, 0.65, 0.7, 0.8, 0.9, 0.95, 0.99},
		}, []string{"tier"}),
	}
}

func (m *Metrics) RecordAttemptEvent(event string) {
	if m != nil {
		m.AttemptEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) ObserveProviderLatency(tier string, d time.Duration) {
	if m != nil {
		m.ProviderLatency.WithLabelValues(tier).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordProviderDegraded(tier string) {
	if m != nil {
		m.ProviderDegraded.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) RecordDecision(source, outcome string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(source, outcome).Inc()
	}
}

func (m *Metrics) ObserveConfidence(tier string, score float64) {
	if m != nil {
		m.ConfidenceScore.WithLabelValues(tier).Observe(score)
	}
}
