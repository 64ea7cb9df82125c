// Package metrics holds the Prometheus collectors for the scrape pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricewatch"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	ScrapeAttempts *prometheus.CounterVec
	ScrapeDuration *prometheus.HistogramVec
	JobsProcessed  *prometheus.CounterVec
	JobsEnqueued   *prometheus.CounterVec
	AlertsRaised   *prometheus.CounterVec
}

// New creates a private registry with process and Go collectors plus the
// pipeline metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.ScrapeAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_attempts_total",
			Help:      "Scrape attempts by vendor and result",
		},
		[]string{"vendor", "result"},
	)

	m.ScrapeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_duration_seconds",
			Help:      "Duration of a single scrape attempt",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~64s
		},
		[]string{"vendor"},
	)

	m.JobsProcessed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Queue jobs finished by queue, job name and result",
		},
		[]string{"queue", "name", "result"},
	)

	m.JobsEnqueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Queue jobs added by queue and job name",
		},
		[]string{"queue", "name"},
	)

	m.AlertsRaised = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alert decisions that fired, by kind",
		},
		[]string{"kind"},
	)

	return m
}

// Registry returns the underlying registry, or nil.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

// ObserveScrape records one scrape attempt.
func (m *Metrics) ObserveScrape(vendor string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ScrapeAttempts.WithLabelValues(vendor, result(ok)).Inc()
	m.ScrapeDuration.WithLabelValues(vendor).Observe(d.Seconds())
}

// JobProcessed records a finished job.
func (m *Metrics) JobProcessed(queue, name string, ok bool) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(queue, name, result(ok)).Inc()
}

// JobEnqueued records an added job.
func (m *Metrics) JobEnqueued(queue, name string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(queue, name).Inc()
}

// AlertRaised records a firing alert decision.
func (m *Metrics) AlertRaised(kind string) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(kind).Inc()
}
