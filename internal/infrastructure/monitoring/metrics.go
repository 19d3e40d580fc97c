// Package monitoring exposes Prometheus metrics for the server.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSRejections  *prometheus.CounterVec

	// Session metrics
	SessionsByState  *prometheus.GaugeVec
	SessionsCreated  prometheus.Counter
	SessionsRemoved  prometheus.Counter
	RerecordRequests prometheus.Counter

	// Audio ingestion metrics
	ChunksIngested  prometheus.Counter
	BytesIngested   prometheus.Counter
	ChunkGaps       prometheus.Counter
	QuotaRejections prometheus.Counter

	// Pipeline metrics
	PipelineDuration *prometheus.HistogramVec
	ExternalCalls    *prometheus.CounterVec
	ExternalDuration *prometheus.HistogramVec

	// Storage metrics
	TempDiskUsage prometheus.Gauge
	FilesSwept    prometheus.Counter

	// System metrics
	startTime time.Time

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotpin_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotpin_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hotpin_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotpin_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		WSRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotpin_ws_rejections_total",
				Help: "Total number of rejected connection attempts",
			},
			[]string{"reason"},
		),

		SessionsByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hotpin_sessions_by_state",
				Help: "Number of sessions per state",
			},
			[]string{"state"},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpin_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpin_sessions_removed_total",
				Help: "Total number of sessions removed",
			},
		),
		RerecordRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpin_rerecord_requests_total",
				Help: "Total number of re-record requests issued",
			},
		),

		ChunksIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpin_audio_chunks_ingested_total",
				Help: "Total number of audio chunks ingested",
			},
		),
		BytesIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpin_audio_bytes_ingested_total",
				Help: "Total audio bytes ingested",
			},
		),
		ChunkGaps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpin_audio_chunk_gaps_total",
				Help: "Total number of chunk sequence gaps observed",
			},
		),
		QuotaRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpin_quota_rejections_total",
				Help: "Total number of ingests rejected by disk quota",
			},
		),

		PipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotpin_pipeline_stage_duration_seconds",
				Help:    "Finalize pipeline stage duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		ExternalCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotpin_external_calls_total",
				Help: "Total number of external service calls",
			},
			[]string{"service", "status"},
		),
		ExternalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotpin_external_call_duration_seconds",
				Help:    "External service call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"service"},
		),

		TempDiskUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hotpin_temp_disk_usage_bytes",
				Help: "Total bytes used by temp artifacts",
			},
		),
		FilesSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpin_temp_files_swept_total",
				Help: "Total number of temp files removed by sweeps",
			},
		),
	}

	// Computed on scrape so no ticker goroutine is needed.
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "hotpin_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the metrics registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordWSRejection records a rejected connection attempt.
func (m *Metrics) RecordWSRejection(reason string) {
	m.WSRejections.WithLabelValues(reason).Inc()
}

// RecordExternalCall records an external service call outcome.
func (m *Metrics) RecordExternalCall(service, status string, duration time.Duration) {
	m.ExternalCalls.WithLabelValues(service, status).Inc()
	m.ExternalDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordPipelineStage records a finalize pipeline stage duration.
func (m *Metrics) RecordPipelineStage(stage string, duration time.Duration) {
	m.PipelineDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordIngest records an accepted chunk ingest.
func (m *Metrics) RecordIngest(bytes int) {
	m.ChunksIngested.Inc()
	m.BytesIngested.Add(float64(bytes))
}
