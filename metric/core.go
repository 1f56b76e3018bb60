package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Neil2813/Nexus/pkg/fallback"
)

const namespace = "nexus"

// Metrics contains the core Nexus metrics. Components record into it
// directly; component-private metrics go through MetricsRegistry.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	FallbackAttempts *prometheus.CounterVec
	FallbackDuration *prometheus.HistogramVec

	CacheTierOps   *prometheus.CounterVec
	GraphOps       *prometheus.CounterVec
	UpstreamCalls  *prometheus.CounterVec
	RecordsDropped *prometheus.CounterVec

	HealthCheckStatus *prometheus.GaugeVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metrics without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests by route, method and status code",
		}, []string{"route", "method", "status"}),

		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		FallbackAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fallback", Name: "attempts_total",
			Help: "Fallback chain attempts by chain, provider and outcome",
		}, []string{"chain", "provider", "outcome"}),

		FallbackDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "fallback", Name: "attempt_duration_seconds",
			Help:    "Duration of individual fallback attempts",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"chain", "provider"}),

		CacheTierOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "tier_operations_total",
			Help: "Cache tier operations by tier, operation and result (hit, miss, ok, error)",
		}, []string{"tier", "op", "result"}),

		GraphOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graph", Name: "operations_total",
			Help: "Graph store operations by serving backend and operation",
		}, []string{"backend", "op", "result"}),

		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "variant_calls_total",
			Help: "Upstream endpoint variant calls by operation, variant index and result",
		}, []string{"operation", "variant", "result"}),

		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "records_dropped_total",
			Help: "Records dropped by the canonical accession filter",
		}, []string{"operation"}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "health", Name: "status",
			Help: "Dependency health (0=unhealthy, 1=degraded, 2=healthy)",
		}, []string{"service"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nats", Name: "connected",
			Help: "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nats", Name: "rtt_milliseconds",
			Help: "NATS round-trip time in milliseconds",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "nats", Name: "reconnects_total",
			Help: "Total number of NATS reconnections",
		}),

		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nats", Name: "circuit_breaker",
			Help: "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.HTTPRequests, c.HTTPDuration,
		c.FallbackAttempts, c.FallbackDuration,
		c.CacheTierOps, c.GraphOps, c.UpstreamCalls, c.RecordsDropped,
		c.HealthCheckStatus,
		c.NATSConnected, c.NATSRTT, c.NATSReconnects, c.NATSCircuitBreaker,
	}
}

// ObserveAttempt implements fallback.Observer.
func (c *Metrics) ObserveAttempt(chain, provider string, outcome fallback.Outcome, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.FallbackAttempts.WithLabelValues(chain, provider, outcome.String()).Inc()
	if outcome != fallback.Exhausted {
		c.FallbackDuration.WithLabelValues(chain, provider).Observe(elapsed.Seconds())
	}
}

// RecordHTTPRequest records one served API request.
func (c *Metrics) RecordHTTPRequest(route, method string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordCacheOp records a single tier operation.
func (c *Metrics) RecordCacheOp(tier, op, result string) {
	if c == nil {
		return
	}
	c.CacheTierOps.WithLabelValues(tier, op, result).Inc()
}

// RecordGraphOp records which backend served a graph operation.
func (c *Metrics) RecordGraphOp(backend, op, result string) {
	if c == nil {
		return
	}
	c.GraphOps.WithLabelValues(backend, op, result).Inc()
}

// RecordUpstreamCall records one endpoint variant call.
func (c *Metrics) RecordUpstreamCall(operation string, variant int, result string) {
	if c == nil {
		return
	}
	c.UpstreamCalls.WithLabelValues(operation, strconv.Itoa(variant), result).Inc()
}

// RecordDropped adds n records rejected by the accession filter.
func (c *Metrics) RecordDropped(operation string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.RecordsDropped.WithLabelValues(operation).Add(float64(n))
}

// RecordHealthStatus stores 0, 1 or 2 for unhealthy, degraded, healthy.
func (c *Metrics) RecordHealthStatus(service string, level int) {
	c.HealthCheckStatus.WithLabelValues(service).Set(float64(level))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
