// Package metrics exposes Prometheus instrumentation for the request store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "approvals"

// Metrics groups the collectors recorded by the service and HTTP layers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestsCreated     *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	transitionConflicts prometheus.Counter
	notificationFails   *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_created_total",
			Help:      "Total number of approval requests created, by type.",
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of state transitions applied, by source and target state.",
		}, []string{"from", "to"}),
		transitionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_conflicts_total",
			Help:      "Total number of writes retried after a concurrent modification.",
		}),
		notificationFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Total number of notifications that could not be delivered, by kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP API requests by route and status class.",
		}, []string{"route", "result"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "latency_seconds",
			Help:      "Latency distribution for HTTP API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "result"}),
	}

	reg.MustRegister(
		m.requestsCreated,
		m.transitions,
		m.transitionConflicts,
		m.notificationFails,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

// RequestCreated records a new request of the given type.
func (m *Metrics) RequestCreated(typ string) {
	if m == nil {
		return
	}
	m.requestsCreated.WithLabelValues(typ).Inc()
}

// Transitioned records an applied state change.
func (m *Metrics) Transitioned(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// Conflict records a compare-and-swap retry.
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.transitionConflicts.Inc()
}

// NotificationFailed records an undeliverable notification.
func (m *Metrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.notificationFails.WithLabelValues(kind).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "2xx"
	switch {
	case status >= 500:
		result = "5xx"
	case status >= 400:
		result = "4xx"
	}
	m.httpRequests.WithLabelValues(route, result).Inc()
	m.httpLatency.WithLabelValues(route, result).Observe(elapsed.Seconds())
}
