// Package metrics exposes Prometheus counters for archive runs. A run is a
// batch job, so metrics are pushed to a Pushgateway when it finishes rather
// than scraped.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Task outcomes used as the "outcome" label.
const (
	OutcomeArchived           = "archived"
	OutcomeGenerated          = "generated"
	OutcomeSkippedComplete    = "skipped_complete"
	OutcomeSkippedNotModified = "skipped_not_modified"
	OutcomeDuplicate          = "duplicate"
	OutcomeFailed             = "failed"
	OutcomeConflict           = "conflict"
)

// Metrics holds all collectors of one run. Each instance has its own
// registry so several runs in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal      *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	BytesDownloaded prometheus.Counter
	Demoted         prometheus.Counter
	Candidates      *prometheus.GaugeVec
	RunDuration     prometheus.Gauge
	LastSuccess     prometheus.Gauge
}

// New creates a Metrics instance under the given namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wallarchive"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Fetch tasks by resolution and outcome",
			},
			[]string{"resolution", "outcome"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Fetch phase duration per task in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"resolution"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Upstream HTTP attempts by host and status",
			},
			[]string{"host", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Upstream HTTP attempt latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"host"},
		),
		BytesDownloaded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloaded_bytes_total",
				Help:      "Bytes of archived images fetched from upstream",
			},
		),
		Demoted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_demoted_total",
				Help:      "Complete manifest entries demoted because their file was missing",
			},
		),
		Candidates: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidates",
				Help:      "Candidates listed in the last run by adapter",
			},
			[]string{"adapter"},
		),
		RunDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of the last run in seconds",
			},
		),
		LastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last run that finished without a fatal error",
			},
		),
	}
}

// Registry returns the registry all collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTask records one task outcome.
func (m *Metrics) ObserveTask(resolution, outcome string) {
	m.TasksTotal.WithLabelValues(resolution, outcome).Inc()
}

// ObserveAttempt records one HTTP attempt. Its signature matches the fetch
// client's attempt hook; status 0 means a transport error.
func (m *Metrics) ObserveAttempt(host string, status int, err error, d time.Duration) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	m.HTTPRequests.WithLabelValues(host, label).Inc()
	m.HTTPDuration.WithLabelValues(host).Observe(d.Seconds())
}

// Push sends all collectors to a Pushgateway under the given job name,
// replacing the previous push of that job.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	if job == "" {
		job = "wallarchive"
	}
	if err := push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
