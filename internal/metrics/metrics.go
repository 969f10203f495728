// Package metrics owns the prometheus registry for the server process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tabdoc"

// Request outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeBusy    = "busy"
	OutcomeInvalid = "invalid"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	uploads         *prometheus.CounterVec
	documentRecords prometheus.Gauge
	documentBytes   prometheus.Gauge

	poolQueueDepth *prometheus.GaugeVec
	poolSubmitted  *prometheus.CounterVec
	poolProcessed  *prometheus.CounterVec
	poolFailed     *prometheus.CounterVec
	poolDropped    *prometheus.CounterVec
}

// New creates a registry with runtime collectors and the server metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by protocol, operation and outcome.",
		}, []string{"protocol", "operation", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request handling time.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"protocol", "operation"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Document uploads, by outcome.",
		}, []string{"outcome"}),
		documentRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "document_records",
			Help:      "Item elements in the current document.",
		}),
		documentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "document_bytes",
			Help:      "Serialized size of the current document.",
		}),
		poolQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_queue_depth",
			Help:      "Work items waiting in a worker pool.",
		}, []string{"pool"}),
		poolSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_submitted_total",
			Help:      "Work items accepted by a worker pool.",
		}, []string{"pool"}),
		poolProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_processed_total",
			Help:      "Work items processed by a worker pool.",
		}, []string{"pool"}),
		poolFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_failed_total",
			Help:      "Work items whose processing returned an error.",
		}, []string{"pool"}),
		poolDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_dropped_total",
			Help:      "Work items rejected because the queue was full.",
		}, []string{"pool"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.uploads, m.documentRecords, m.documentBytes,
		m.poolQueueDepth, m.poolSubmitted, m.poolProcessed, m.poolFailed, m.poolDropped,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(protocol, operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(protocol, operation, outcome).Inc()
	m.requestDuration.WithLabelValues(protocol, operation).Observe(took.Seconds())
}

// ObserveUpload records an upload result.
func (m *Metrics) ObserveUpload(ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeError
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

// SetDocument records the size of the document now being served.
func (m *Metrics) SetDocument(records int, bytes int64) {
	if m == nil {
		return
	}
	m.documentRecords.Set(float64(records))
	m.documentBytes.Set(float64(bytes))
}

// Pool returns the recorder for the named worker pool.
func (m *Metrics) Pool(name string) *PoolRecorder {
	if m == nil {
		return nil
	}
	return &PoolRecorder{m: m, name: name}
}

// PoolRecorder records worker pool activity. A nil *PoolRecorder records nothing.
type PoolRecorder struct {
	m    *Metrics
	name string
}

func (p *PoolRecorder) Submitted(depth int) {
	if p == nil {
		return
	}
	p.m.poolSubmitted.WithLabelValues(p.name).Inc()
	p.m.poolQueueDepth.WithLabelValues(p.name).Set(float64(depth))
}

func (p *PoolRecorder) Dropped() {
	if p == nil {
		return
	}
	p.m.poolDropped.WithLabelValues(p.name).Inc()
}

func (p *PoolRecorder) Processed(depth int, err error) {
	if p == nil {
		return
	}
	p.m.poolProcessed.WithLabelValues(p.name).Inc()
	if err != nil {
		p.m.poolFailed.WithLabelValues(p.name).Inc()
	}
	p.m.poolQueueDepth.WithLabelValues(p.name).Set(float64(depth))
}
