// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for blobgate.
//
// All helpers are safe to call on a nil *Metrics, so instrumentation stays
// optional for every component.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for blobgate.
type Metrics struct {
	// Connection metrics
	ActiveConnections  *prometheus.GaugeVec
	TotalConnections   *prometheus.CounterVec
	ConnectionErrors   *prometheus.CounterVec
	ConnectionDuration *prometheus.HistogramVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Protocol metrics
	ProtocolViolations  *prometheus.CounterVec
	SuppressedResponses prometheus.Counter
	HandlerRejections   prometheus.Counter
	HandlerDuration     *prometheus.HistogramVec

	// Store metrics
	StoreRequestsTotal *prometheus.CounterVec
	StoreDuration      *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitedConnections *prometheus.CounterVec
	RateLimitedRequests    *prometheus.CounterVec

	// Runtime metrics
	GoroutinesActive prometheus.Gauge
	MemoryAllocated  *prometheus.GaugeVec
}

// New creates a new Metrics instance registered on reg. A nil reg selects
// prometheus.DefaultRegisterer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "blobgate"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	sizeBuckets := []float64{100, 1000, 10000, 100000, 1000000, 10000000, 100000000}

	return &Metrics{
		ActiveConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently active connections",
			},
			[]string{"protocol"},
		),
		TotalConnections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of connections",
			},
			[]string{"protocol", "status"},
		),
		ConnectionErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of connection errors",
			},
			[]string{"protocol", "error_type"},
		),
		ConnectionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"protocol"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests answered",
			},
			[]string{"method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from request assembly to response flush in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_size_bytes",
				Help:      "Request content size in bytes",
				Buckets:   sizeBuckets,
			},
			[]string{"method"},
		),
		ResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Response content size in bytes",
				Buckets:   sizeBuckets,
			},
			[]string{"method"},
		),
		ProtocolViolations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_violations_total",
				Help:      "Total number of rejected out-of-order or malformed wire events",
			},
			[]string{"reason"},
		),
		SuppressedResponses: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "suppressed_responses_total",
				Help:      "Total number of responses or faults dropped because the exchange was already answered",
			},
		),
		HandlerRejections: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_rejections_total",
				Help:      "Total number of requests rejected because every handler worker was busy",
			},
		),
		HandlerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Time from dispatch until the handler answered, in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "outcome"},
		),
		StoreRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_requests_total",
				Help:      "Total number of blob store operations",
			},
			[]string{"backend", "op", "status"},
		),
		StoreDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_duration_seconds",
				Help:      "Blob store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "op"},
		),
		CircuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"backend"},
		),
		CircuitBreakerTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"backend"},
		),
		RateLimitedConnections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_connections_total",
				Help:      "Total number of connections refused by a rate limiter",
			},
			[]string{"limiter"},
		),
		RateLimitedRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of requests answered with 429",
			},
			[]string{"limiter"},
		),
		GoroutinesActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_active",
				Help:      "Number of running goroutines",
			},
		),
		MemoryAllocated: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_allocated_bytes",
				Help:      "Memory allocated by the process",
			},
			[]string{"type"},
		),
	}
}

// ObserveConnection tracks a connection lifecycle.
func (m *Metrics) ObserveConnection(protocol string, f func() error) error {
	if m == nil {
		return f()
	}
	m.ActiveConnections.WithLabelValues(protocol).Inc()
	defer m.ActiveConnections.WithLabelValues(protocol).Dec()

	start := time.Now()
	defer func() {
		m.ConnectionDuration.WithLabelValues(protocol).Observe(time.Since(start).Seconds())
	}()

	err := f()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TotalConnections.WithLabelValues(protocol, status).Inc()

	return err
}

// ConnectionError counts a connection-level failure.
func (m *Metrics) ConnectionError(protocol, errType string) {
	if m == nil {
		return
	}
	m.ConnectionErrors.WithLabelValues(protocol, errType).Inc()
}

// ObserveRequest records an answered request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveContent records the request and response content sizes of an
// exchange.
func (m *Metrics) ObserveContent(method string, in, out int64) {
	if m == nil {
		return
	}
	m.RequestSize.WithLabelValues(method).Observe(float64(in))
	m.ResponseSize.WithLabelValues(method).Observe(float64(out))
}

// ProtocolViolation counts a rejected wire event.
func (m *Metrics) ProtocolViolation(reason string) {
	if m == nil {
		return
	}
	m.ProtocolViolations.WithLabelValues(reason).Inc()
}

// ResponseSuppressed counts a late response or fault.
func (m *Metrics) ResponseSuppressed() {
	if m == nil {
		return
	}
	m.SuppressedResponses.Inc()
}

// HandlerRejected counts a request refused by a full worker pool.
func (m *Metrics) HandlerRejected() {
	if m == nil {
		return
	}
	m.HandlerRejections.Inc()
}

// RateLimited counts a connection refused by the named limiter.
func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitedConnections.WithLabelValues(limiter).Inc()
}

// ObserveStore tracks a blob store operation.
func (m *Metrics) ObserveStore(backend, op string, f func() error) error {
	if m == nil {
		return f()
	}
	start := time.Now()
	err := f()
	m.StoreDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreRequestsTotal.WithLabelValues(backend, op, status).Inc()

	return err
}

// SetBreakerState publishes the state of the named circuit breaker.
func (m *Metrics) SetBreakerState(backend string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(backend).Set(float64(state))
}

// BreakerTripped counts a transition of the named breaker to open.
func (m *Metrics) BreakerTripped(backend string) {
	if m == nil {
		return
	}
	m.CircuitBreakerTrips.WithLabelValues(backend).Inc()
}

// ObserveHandler records how long a handler took to answer and how.
func (m *Metrics) ObserveHandler(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(method, outcome).Observe(elapsed.Seconds())
}

// RequestRateLimited counts a request refused by the named limiter.
func (m *Metrics) RequestRateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitedRequests.WithLabelValues(limiter).Inc()
}
