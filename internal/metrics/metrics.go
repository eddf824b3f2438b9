// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache tiers and outcomes used as label values.
const (
	TierFast    = "fast"
	TierDurable = "durable"

	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeStale = "stale"
	OutcomeError = "error"
)

var (
	// CacheLookups counts search-cache and analysis-freshness lookups.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_cache_lookups_total",
			Help: "Total number of cache lookups by tier and outcome",
		},
		[]string{"kind", "tier", "outcome"}, // kind: "search", "analysis"
	)

	// CacheTierErrors counts tier failures that were degraded to a miss or
	// skipped write.
	CacheTierErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_cache_tier_errors_total",
			Help: "Total number of cache tier errors absorbed by the coordinator",
		},
		[]string{"tier", "operation"},
	)

	// ProviderRequests counts outbound calls by provider and outcome.
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_provider_requests_total",
			Help: "Total number of external provider calls",
		},
		[]string{"provider", "operation", "outcome"}, // outcome: "ok", "rate_limited", "error", "rejected"
	)

	// AnalysisResults counts per-cafe analysis outcomes.
	AnalysisResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_analysis_results_total",
			Help: "Total number of per-cafe analysis outcomes",
		},
		[]string{"outcome"}, // "analyzed" or a skip reason
	)

	// AnalysisTokens counts tokens consumed by text scoring.
	AnalysisTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_analysis_tokens_total",
			Help: "Total number of tokens consumed by text scoring",
		},
		[]string{"direction"}, // "input", "output"
	)

	// Recommendations counts recommendation requests by terminal outcome.
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_recommendations_total",
			Help: "Total number of recommendation requests",
		},
		[]string{"outcome", "source"}, // source: "cache", "provider", "store", "none"
	)

	// RecommendationDuration observes end-to-end latency.
	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cafe_recommendation_duration_seconds",
			Help:    "Recommendation request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// CircuitBreakerState tracks breaker state per upstream.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cafe_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
