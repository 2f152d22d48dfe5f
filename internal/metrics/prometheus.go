package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intent_agent_request_duration_seconds",
			Help:    "End-to-end intent analysis duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_agent_requests_total",
			Help: "Total number of intent requests by outcome",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intent_agent_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
		[]string{"stage"},
	)

	StageDegradations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_agent_stage_degradations_total",
			Help: "Stage failures recovered by the pipeline",
		},
		[]string{"stage", "code"},
	)

	LLMAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intent_agent_llm_attempts",
			Help:    "Remote model attempts per request",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	FallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intent_agent_classifier_fallback_total",
			Help: "Requests answered from classifier output because the remote model was unavailable",
		},
	)

	ValidationFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intent_agent_validation_failed_total",
			Help: "Requests that ended with a best-effort analysis",
		},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intent_agent_confidence_score",
			Help:    "Final analysis confidence",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"intent_type"},
	)

	ExemplarsRetrieved = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intent_agent_exemplars_retrieved",
			Help:    "Number of exemplars retrieved per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	IndexExemplars = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intent_agent_index_exemplars",
			Help: "Exemplars in the live similarity index",
		},
	)

	IndexRebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_agent_index_rebuilds_total",
			Help: "Index rebuilds by outcome",
		},
		[]string{"status"},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestDuration,
			RequestsTotal,
			StageDuration,
			StageDegradations,
			LLMAttempts,
			FallbackTotal,
			ValidationFailedTotal,
			ConfidenceScore,
			ExemplarsRetrieved,
			CacheHits,
			CacheMisses,
			IndexExemplars,
			IndexRebuilds,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
