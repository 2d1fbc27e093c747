package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for ReferencesTotal.
const (
	OutcomeStored       = "stored"
	OutcomeDeduplicated = "deduplicated"
	OutcomeSkipped      = "skipped"
	OutcomeFailed       = "failed"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	QueueDepth      prometheus.Gauge
	InFlight        prometheus.Gauge
	ReferencesTotal *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	RateLimitWait   *prometheus.HistogramVec
	BytesUploaded   prometheus.Counter
}

// New registers the metrics with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_references_in_queue",
			Help: "Current number of references waiting in the catalog.",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_references_in_flight",
			Help: "References currently held by a worker or waiting on a retry timer.",
		}),
		ReferencesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_references_total",
			Help: "References that reached an outcome.",
		}, []string{"outcome"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_errors_total",
			Help: "Classified pipeline errors.",
		}, []string{"kind"}),
		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_retries_total",
			Help: "Retries scheduled, by stage.",
		}, []string{"stage"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_fetch_duration_seconds",
			Help:    "Duration of outbound fetches.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"host"}),
		RateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a host token.",
			Buckets: []float64{0, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"host"}),
		BytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "ingest_uploaded_bytes_total",
			Help: "Bytes written to the object store.",
		}),
	}
}

// Outcome counts a reference reaching outcome.
func (m *Metrics) Outcome(outcome string) {
	m.ReferencesTotal.WithLabelValues(outcome).Inc()
}

// Error counts a classified error.
func (m *Metrics) Error(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// Retry counts a retry scheduled for stage.
func (m *Metrics) Retry(stage string) {
	m.RetriesTotal.WithLabelValues(stage).Inc()
}
