// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry           *prometheus.Registry
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	findingsTotal      *prometheus.CounterVec
	tasksCreated       *prometheus.CounterVec
	measurementsTotal  *prometheus.CounterVec
	evaluationsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total workflow runs by workflow and status.",
		}, []string{"workflow", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Histogram of workflow run durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow"}),
		findingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "findings_total",
			Help: "Total findings written by analysis type.",
		}, []string{"analysis_type"}),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_created_total",
			Help: "Total corrective tasks created by issue type.",
		}, []string{"issue_type"}),
		measurementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "measurements_recorded_total",
			Help: "Total task measurements recorded by frequency.",
		}, []string{"frequency"}),
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluations_total",
			Help: "Total task evaluations by decision.",
		}, []string{"action"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total notifications by channel and status.",
		}, []string{"channel", "status"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runsTotal,
		m.runDuration,
		m.findingsTotal,
		m.tasksCreated,
		m.measurementsTotal,
		m.evaluationsTotal,
		m.notificationsTotal,
		m.httpRequestsTotal,
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunFinished(workflow, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(workflow, status).Inc()
	m.runDuration.WithLabelValues(workflow).Observe(d.Seconds())
}

func (m *Metrics) FindingsWritten(analysisType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.findingsTotal.WithLabelValues(analysisType).Add(float64(n))
}

func (m *Metrics) TaskCreated(issueType string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(issueType).Inc()
}

func (m *Metrics) MeasurementRecorded(frequency string) {
	if m == nil {
		return
	}
	m.measurementsTotal.WithLabelValues(frequency).Inc()
}

func (m *Metrics) TaskEvaluated(action string) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) NotificationSent(channel, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware counts requests by route pattern and status.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			if m != nil {
				m.httpRequestsTotal.WithLabelValues(route(r), strconv.Itoa(recorder.status)).Inc()
			}
		})
	}
}
