// Package metrics exposes Prometheus counters for the workflow engines.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleet_inoperability"

// Metrics holds the collectors of one registry. A nil *Metrics records
// nothing, so callers never need to check.
type Metrics struct {
	registry *prometheus.Registry

	maintenanceTransitions *prometheus.CounterVec
	phaseTransitions       *prometheus.CounterVec
	danglingCompletions    prometheus.Counter
	notifications          *prometheus.CounterVec
	lockContention         *prometheus.CounterVec
	httpRequests           *prometheus.CounterVec
	httpDuration           *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		maintenanceTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_transitions_total",
				Help:      "Maintenance request status transitions by target status",
			},
			[]string{"to"},
		),
		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Inoperability phase transitions",
			},
			[]string{"from", "to"},
		),
		danglingCompletions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dangling_completions_total",
				Help:      "Terminal phases reached with no maintenance request left to complete",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications dispatched by result",
			},
			[]string{"result"},
		),
		lockContention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_contention_total",
				Help:      "Lease acquisitions refused because the key was held",
			},
			[]string{"scope"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	registry.MustRegister(
		m.maintenanceTransitions,
		m.phaseTransitions,
		m.danglingCompletions,
		m.notifications,
		m.lockContention,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// MaintenanceTransition counts a maintenance request entering status to.
func (m *Metrics) MaintenanceTransition(to string) {
	if m == nil {
		return
	}
	m.maintenanceTransitions.WithLabelValues(to).Inc()
}

// PhaseTransition counts an inoperability record moving between phases.
func (m *Metrics) PhaseTransition(from, to string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(from, to).Inc()
}

// DanglingCompletion counts a terminal phase with no request to complete.
func (m *Metrics) DanglingCompletion() {
	if m == nil {
		return
	}
	m.danglingCompletions.Inc()
}

// Notification counts one notification outcome ("sent" or "failed").
func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// LockContention counts a refused lease in scope.
func (m *Metrics) LockContention(scope string) {
	if m == nil {
		return
	}
	m.lockContention.WithLabelValues(scope).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
