package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

type IngestMetrics struct {
	service string

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	chunksIndexed  prometheus.Gauge
	filesSkipped   prometheus.Counter
	reloadsTotal   *prometheus.CounterVec
	lastReloadTime prometheus.Gauge
}

func NewIngestMetrics(service string, registerer prometheus.Registerer) *IngestMetrics {
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Corpus rebuilds by status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Corpus rebuild duration in seconds by status.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service", "status"},
	)
	chunksIndexed := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "index",
			Name:        "chunks",
			Help:        "Chunks in the most recently loaded corpus.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	filesSkipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ingest",
			Name:        "files_skipped_total",
			Help:        "Source files skipped during ingestion.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	reloadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "reloads_total",
			Help:      "In-memory index reloads by status.",
		},
		[]string{"service", "status"},
	)
	lastReloadTime := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "index",
			Name:        "last_reload_timestamp_seconds",
			Help:        "Unix time of the last successful index reload.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	registerer.MustRegister(runsTotal, runDuration, chunksIndexed, filesSkipped, reloadsTotal, lastReloadTime)

	return &IngestMetrics{
		service:        service,
		runsTotal:      runsTotal,
		runDuration:    runDuration,
		chunksIndexed:  chunksIndexed,
		filesSkipped:   filesSkipped,
		reloadsTotal:   reloadsTotal,
		lastReloadTime: lastReloadTime,
	}
}

func (m *IngestMetrics) RecordIngest(report *domain.IngestReport, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.runsTotal.WithLabelValues(m.service, status).Inc()
	m.runDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
	if err == nil && report != nil {
		m.chunksIndexed.Set(float64(report.Chunks))
		m.filesSkipped.Add(float64(len(report.Skipped)))
	}
}

func (m *IngestMetrics) RecordReload(chunks int, err error) {
	if err != nil {
		m.reloadsTotal.WithLabelValues(m.service, "error").Inc()
		return
	}
	m.reloadsTotal.WithLabelValues(m.service, "success").Inc()
	m.chunksIndexed.Set(float64(chunks))
	m.lastReloadTime.SetToCurrentTime()
}
