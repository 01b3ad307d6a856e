// Package observability provides the metrics of the rollout control plane.
// All collectors live in a private Prometheus registry; the atomic request
// counters back the JSON health endpoint.
package observability

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rollout"

// Metrics holds the control-plane collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestCount atomic.Int64
	errorCount   atomic.Int64

	requests           prometheus.Counter
	errors             prometheus.Counter
	requestDuration    *prometheus.HistogramVec
	actionsCreated     *prometheus.CounterVec
	statusReports      *prometheus.CounterVec
	rolloutTransitions *prometheus.CounterVec
	checkDuration      *prometheus.HistogramVec
	checkErrors        *prometheus.CounterVec
}

// NewMetrics returns Metrics registered in a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests.",
		}),
		errors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of API errors.",
		}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		actionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_created_total",
			Help:      "Actions created, by assignment mode.",
		}, []string{"mode"}),
		statusReports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_status_reports_total",
			Help:      "Action status reports, by status.",
		}, []string{"status"}),
		rolloutTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollout_transitions_total",
			Help:      "Rollout status transitions, by new status.",
		}, []string{"status"}),
		checkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "control_loop_duration_seconds",
			Help:      "Duration of a control-loop step over all tenants.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"step"}),
		checkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_loop_errors_total",
			Help:      "Per-rollout errors in control-loop steps.",
		}, []string{"step"}),
	}
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IncRequest() {
	if m == nil {
		return
	}
	m.requestCount.Add(1)
	m.requests.Inc()
}

func (m *Metrics) IncError() {
	if m == nil {
		return
	}
	m.errorCount.Add(1)
	m.errors.Inc()
}

// ObserveRequest records the latency of one request.
func (m *Metrics) ObserveRequest(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ActionsCreated counts n new actions created in mode (online, offline,
// rollout).
func (m *Metrics) ActionsCreated(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.actionsCreated.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) StatusReported(status string) {
	if m == nil {
		return
	}
	m.statusReports.WithLabelValues(status).Inc()
}

func (m *Metrics) RolloutTransition(status string) {
	if m == nil {
		return
	}
	m.rolloutTransitions.WithLabelValues(status).Inc()
}

// ObserveCheck records the duration of a control-loop step.
func (m *Metrics) ObserveCheck(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) CheckError(step string) {
	if m == nil {
		return
	}
	m.checkErrors.WithLabelValues(step).Inc()
}

// GetMetrics returns a snapshot of the request counters.
func (m *Metrics) GetMetrics() map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return map[string]int64{
		"request_count": m.requestCount.Load(),
		"error_count":   m.errorCount.Load(),
	}
}
