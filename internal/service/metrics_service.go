package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the automation engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	actionsTotal    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	registeredRules prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	actionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_actions_total",
		Help: "Automation log entries written, by type and status",
	}, []string{"type", "status"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automation_job_duration_seconds",
		Help:    "Duration of scheduled automation jobs",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"job"})

	registeredRules := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_registered_rules",
		Help: "Rules currently registered with the scheduler",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, actionsTotal, jobDuration, registeredRules, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		actionsTotal:    actionsTotal,
		jobDuration:     jobDuration,
		registeredRules: registeredRules,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveAction counts an automation log entry.
func (m *MetricsService) ObserveAction(logType, status string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(logType, status).Inc()
}

// ObserveJob records how long a scheduled job ran.
func (m *MetricsService) ObserveJob(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// SetRegisteredRules publishes the number of rules holding a timer.
func (m *MetricsService) SetRegisteredRules(count int) {
	if m == nil {
		return
	}
	m.registeredRules.Set(float64(count))
}

type automationMetrics interface {
	ObserveAction(logType, status string)
	ObserveJob(job string, duration time.Duration)
	SetRegisteredRules(count int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAction(string, string)     {}
func (noopMetrics) ObserveJob(string, time.Duration) {}
func (noopMetrics) SetRegisteredRules(int)           {}
