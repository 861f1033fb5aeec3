package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface and the assistant pipeline.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	assistantRequests   *prometheus.CounterVec
	assistantDocuments  *prometheus.HistogramVec
	resolverDuration    *prometheus.HistogramVec
	resolverDegraded    *prometheus.CounterVec
	scopeViolations     prometheus.Counter
	auditWriteFailures  *prometheus.CounterVec
	counterStoreFailure prometheus.Counter
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

	assistantRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_requests_total",
		Help: "Assistant requests by role, outcome and flag state",
	}, []string{"role", "status", "flagged"})

	assistantDocuments := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_documents_used",
		Help:    "Number of documents incorporated into a reply",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
	}, []string{"role"})

	resolverDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_resolver_duration_seconds",
		Help:    "Duration of role-scoped document resolution",
		Buckets: prometheus.DefBuckets,
	}, []string{"role"})

	resolverDegraded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_resolver_degraded_total",
		Help: "Resolutions that degraded to an empty document set",
	}, []string{"role"})

	scopeViolations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assistant_scope_violations_total",
		Help: "Documents dropped because they fell outside the caller's school",
	})

	auditWriteFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_audit_write_failures_total",
		Help: "Audit writes that failed, by sink",
	}, []string{"sink"})

	counterStoreFailure := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assistant_rate_limit_store_failures_total",
		Help: "Rate limit counter increments that failed",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, assistantRequests, assistantDocuments, resolverDuration,
		resolverDegraded, scopeViolations, auditWriteFailures, counterStoreFailure, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		assistantRequests:   assistantRequests,
		assistantDocuments:  assistantDocuments,
		resolverDuration:    resolverDuration,
		resolverDegraded:    resolverDegraded,
		scopeViolations:     scopeViolations,
		auditWriteFailures:  auditWriteFailures,
		counterStoreFailure: counterStoreFailure,
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

// Registry returns the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveAssistantRequest counts one assistant outcome.
func (m *MetricsService) ObserveAssistantRequest(role, status string, flagged bool, documentsUsed int) {
	if m == nil {
		return
	}
	if role == "" {
		role = "unknown"
	}
	m.assistantRequests.WithLabelValues(role, status, fmt.Sprintf("%t", flagged)).Inc()
	m.assistantDocuments.WithLabelValues(role).Observe(float64(documentsUsed))
}

// ObserveResolver records resolver timing and degradation.
func (m *MetricsService) ObserveResolver(role string, duration time.Duration, degraded bool) {
	if m == nil {
		return
	}
	m.resolverDuration.WithLabelValues(role).Observe(duration.Seconds())
	if degraded {
		m.resolverDegraded.WithLabelValues(role).Inc()
	}
}

// RecordScopeViolation counts documents dropped by the tenant guard.
func (m *MetricsService) RecordScopeViolation(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.scopeViolations.Add(float64(n))
}

// RecordAuditWriteFailure counts a failed audit write for the given sink.
func (m *MetricsService) RecordAuditWriteFailure(sink string) {
	if m == nil {
		return
	}
	m.auditWriteFailures.WithLabelValues(sink).Inc()
}

// RecordCounterStoreFailure counts a failed rate limit increment.
func (m *MetricsService) RecordCounterStoreFailure() {
	if m == nil {
		return
	}
	m.counterStoreFailure.Inc()
}
