// Package metrics provides Prometheus metrics export for the IDS service.
// Exposes capture statistics, inference metrics, training runs and HTTP
// request counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Capture metrics
	PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ids_packets_received_total",
		Help: "Total number of packets received",
	})

	PacketsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ids_packets_dropped_total",
		Help: "Total number of packets dropped",
	})

	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ids_bytes_received_total",
		Help: "Total bytes received",
	})

	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ids_parse_errors_total",
		Help: "Total number of packets that failed to decode",
	})

	CaptureUptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ids_capture_uptime_seconds",
		Help: "Capture engine uptime in seconds",
	})

	CaptureActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ids_capture_active",
		Help: "1 while a capture is running",
	})

	// Flow metrics
	ActiveFlows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ids_active_flows",
		Help: "Number of currently tracked flows",
	})

	// ML metrics
	Predictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ids_predictions_total",
		Help: "Packets classified by predicted label",
	}, []string{"label"})

	InferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ids_inference_duration_seconds",
		Help:    "Per-packet inference latency in seconds",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
	}, []string{"model"})

	AlertsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ids_alerts_total",
		Help: "Malicious verdicts raised by the monitor",
	})

	// Dataset workflow metrics
	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ids_training_runs_total",
		Help: "Model training runs by model kind and result",
	}, []string{"model", "result"})

	TrainingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ids_training_duration_seconds",
		Help:    "Model training duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"model"})

	DatasetRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ids_dataset_rows",
		Help: "Rows in each stored dataset split",
	}, []string{"split"})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ids_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ids_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
