package pipeline

import (
	"github.com/intelliquery/intent-agent/internal/metrics"
)

// MetricsObserver feeds run outcomes into the Prometheus collectors.
type MetricsObserver struct{}

func (MetricsObserver) OnStage(_ string, r StageReport) {
	metrics.StageDuration.WithLabelValues(r.Stage).Observe(r.Seconds)
	if !r.Success {
		metrics.StageDegradations.WithLabelValues(r.Stage, string(r.ErrorCode)).Inc()
	}
}

func (MetricsObserver) OnComplete(env *Envelope) {
	if !env.Success {
		status := "rejected"
		if env.Error != nil {
			status = string(env.Error.Code)
		}
		metrics.RequestsTotal.WithLabelValues(status).Inc()
		return
	}

	meta := env.Metadata
	status := "success"
	switch {
	case meta.ValidationFailed:
		status = "best_effort"
	case meta.FallbackUsed:
		status = "fallback"
	}
	metrics.RequestsTotal.WithLabelValues(status).Inc()
	metrics.RequestDuration.WithLabelValues(status).Observe(meta.ProcessingTime)
	metrics.LLMAttempts.Observe(float64(meta.LLMAttempts))
	metrics.ExemplarsRetrieved.Observe(float64(meta.ExemplarsRetrieved))
	metrics.ConfidenceScore.WithLabelValues(env.IntentAnalysis.IntentType).Observe(env.IntentAnalysis.Confidence)
	if meta.FallbackUsed {
		metrics.FallbackTotal.Inc()
	}
	if meta.ValidationFailed {
		metrics.ValidationFailedTotal.Inc()
	}
}
