package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central registry of docsight Prometheus collectors.
//
// Tracked surfaces:
//   - LLM calls (latency, count, token streaming) by tier and phase
//   - Evidence renders by kind (overview, quadrant, roi)
//   - Render cache traffic (hits, misses, evictions, resident bytes)
//   - Request queue (depth, active slots, wait time)
//   - Deletion cascades
//   - HTTP requests
type Metrics struct {
	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: tier (flash|pro), phase (intent|collector|facts|answer|roi_request)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM calls.
	// Labels: tier, phase, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// RenderDuration measures evidence render latency in seconds.
	// Labels: kind (overview|quadrant|roi)
	RenderDuration *prometheus.HistogramVec

	// RenderCounter counts renders. Labels: kind, status (success|error)
	RenderCounter *prometheus.CounterVec

	// CacheCounter counts render-cache outcomes.
	// Labels: outcome (hit|miss|expired|evicted|invalidated)
	CacheCounter *prometheus.CounterVec

	// CacheBytes is the resident render-cache payload size.
	CacheBytes prometheus.Gauge

	// QueueWaiting is the number of requests waiting for admission.
	QueueWaiting prometheus.Gauge

	// QueueActive is the number of admitted, running requests.
	QueueActive prometheus.Gauge

	// QueueWaitDuration measures time from enqueue to admission in seconds.
	QueueWaitDuration prometheus.Histogram

	// DeletionCounter counts deletion cascade items.
	// Labels: target (object|log|rows), status (success|error)
	DeletionCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP latency. Labels: method, path, code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on the default registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docsight_llm_request_duration_seconds",
			Help:    "LLM call latency by tier and pipeline phase.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"tier", "phase"}),
		LLMRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docsight_llm_requests_total",
			Help: "LLM calls by tier, phase, and status.",
		}, []string{"tier", "phase", "status"}),
		RenderDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docsight_render_duration_seconds",
			Help:    "Evidence render latency by kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"kind"}),
		RenderCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docsight_renders_total",
			Help: "Evidence renders by kind and status.",
		}, []string{"kind", "status"}),
		CacheCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docsight_render_cache_events_total",
			Help: "Render cache outcomes.",
		}, []string{"outcome"}),
		CacheBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "docsight_render_cache_bytes",
			Help: "Resident render cache payload bytes.",
		}),
		QueueWaiting: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "docsight_queue_waiting",
			Help: "Requests waiting for admission.",
		}),
		QueueActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "docsight_queue_active",
			Help: "Admitted running requests.",
		}),
		QueueWaitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsight_queue_wait_seconds",
			Help:    "Time from enqueue to admission.",
			Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300},
		}),
		DeletionCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docsight_deletions_total",
			Help: "Deletion cascade items by target and status.",
		}, []string{"target", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docsight_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method", "path", "code"}),
	}
}
