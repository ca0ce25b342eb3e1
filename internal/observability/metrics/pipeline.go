package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

// PipelineMetrics records stage timings, outcomes, cache lookups and
// capability failures of the answer pipeline.
type PipelineMetrics struct {
	service string

	outcomesTotal    *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	cacheTotal       *prometheus.CounterVec
	capabilityErrors *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	outcomesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Completed pipeline runs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "stage", "status"},
	)
	cacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Answer cache lookups by result.",
		},
		[]string{"service", "result"},
	)
	capabilityErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capability",
			Name:      "errors_total",
			Help:      "Failed calls to external capabilities by operation.",
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(outcomesTotal, stageDuration, cacheTotal, capabilityErrors)

	return &PipelineMetrics{
		service:          service,
		outcomesTotal:    outcomesTotal,
		stageDuration:    stageDuration,
		cacheTotal:       cacheTotal,
		capabilityErrors: capabilityErrors,
	}
}

func (m *PipelineMetrics) ObserveStage(stage domain.Stage, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stageDuration.WithLabelValues(m.service, string(stage), status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveOutcome(outcome domain.Outcome) {
	m.outcomesTotal.WithLabelValues(m.service, string(outcome)).Inc()
}

func (m *PipelineMetrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(m.service, result).Inc()
}

// ObserveCapabilityFailure matches resilience.FailureObserver.
func (m *PipelineMetrics) ObserveCapabilityFailure(operation string, _ error) {
	if operation == "" {
		operation = "unknown"
	}
	m.capabilityErrors.WithLabelValues(m.service, operation).Inc()
}
