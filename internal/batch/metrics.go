package batch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// OutcomeSucceeded labels items that produced a result; failures use their error code.
const OutcomeSucceeded = "SUCCEEDED"

// PrometheusRecorder is a Prometheus implementation of Recorder with its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobsTotal           *prometheus.CounterVec
	jobDurationSeconds  *prometheus.HistogramVec
	activeJobs          prometheus.Gauge
	itemsTotal          *prometheus.CounterVec
	itemDurationSeconds prometheus.Histogram
}

// NewPrometheusRecorder creates a recorder and registers Go and process collectors alongside it.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_batch_jobs_total",
			Help: "Total number of batch forecast jobs by terminal state.",
		}, []string{"state"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forecast_batch_job_duration_seconds",
			Help:    "Wall time from first dispatch to terminal state.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"state"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forecast_batch_active_jobs",
			Help: "Number of batch jobs currently running in this process.",
		}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecast_batch_items_total",
			Help: "Total number of batch items by outcome.",
		}, []string{"outcome"}),
		itemDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_batch_item_duration_seconds",
			Help:    "Duration of a single item pipeline run.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(r.jobsTotal)
	registry.MustRegister(r.jobDurationSeconds)
	registry.MustRegister(r.activeJobs)
	registry.MustRegister(r.itemsTotal)
	registry.MustRegister(r.itemDurationSeconds)

	return r
}

// Registry returns the Prometheus registry to expose over HTTP.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) JobStarted() {
	r.activeJobs.Inc()
}

func (r *PrometheusRecorder) JobFinished(state domain.JobState, d time.Duration) {
	r.activeJobs.Dec()
	r.jobsTotal.WithLabelValues(string(state)).Inc()
	r.jobDurationSeconds.WithLabelValues(string(state)).Observe(d.Seconds())
}

func (r *PrometheusRecorder) ItemFinished(outcome string, d time.Duration) {
	r.itemsTotal.WithLabelValues(outcome).Inc()
	r.itemDurationSeconds.Observe(d.Seconds())
}

var _ Recorder = (*PrometheusRecorder)(nil)
