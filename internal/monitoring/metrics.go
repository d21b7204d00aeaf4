// Package monitoring exposes Prometheus metrics for the orchestration
// pipeline and the HTTP surface.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Dispatch pipeline metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	PersistErrors    prometheus.Counter
	BroadcastErrors  prometheus.Counter

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// WebSocket metrics
	TabsConnected prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on a fresh registry, so
// tests can construct as many instances as they need.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	auto := promauto.With(registry)

	return &Metrics{
		RequestsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "webpilot_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		}, []string{"method", "path", "status"}),
		RequestDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webpilot_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		DispatchTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "webpilot_dispatch_total",
			Help: "Dispatched events by type and outcome (applied, rejected)",
		}, []string{"event", "outcome"}),
		DispatchDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "webpilot_dispatch_duration_seconds",
			Help:    "Time spent applying a transition and its side effects",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		PersistErrors: auto.NewCounter(prometheus.CounterOpts{
			Name: "webpilot_persist_errors_total",
			Help: "Persistence failures (swallowed, in-memory state stays authoritative)",
		}),
		BroadcastErrors: auto.NewCounter(prometheus.CounterOpts{
			Name: "webpilot_broadcast_errors_total",
			Help: "Per-tab broadcast delivery failures",
		}),

		SessionsActive: auto.NewGauge(prometheus.GaugeOpts{
			Name: "webpilot_sessions_active",
			Help: "Whether a session is currently active (0 or 1)",
		}),
		SessionsStarted: auto.NewCounter(prometheus.CounterOpts{
			Name: "webpilot_sessions_started_total",
			Help: "Sessions started",
		}),
		SessionsEnded: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "webpilot_sessions_ended_total",
			Help: "Sessions ended by reason",
		}, []string{"reason"}),
		SessionDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "webpilot_session_duration_seconds",
			Help:    "Wall-clock duration of ended sessions",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		TabsConnected: auto.NewGauge(prometheus.GaugeOpts{
			Name: "webpilot_tabs_connected",
			Help: "Currently connected tab sockets",
		}),

		registry: registry,
	}
}

// Registry returns the registry backing these metrics, for the /metrics
// handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDispatch records one dispatch outcome.
func (m *Metrics) RecordDispatch(event, outcome string, duration time.Duration) {
	m.DispatchTotal.WithLabelValues(event, outcome).Inc()
	m.DispatchDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
