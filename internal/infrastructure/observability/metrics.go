package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Lifecycle metrics
	LifecycleTransitions *prometheus.CounterVec

	// Payment metrics
	PaymentSessions      *prometheus.CounterVec
	PaymentCompletions   *prometheus.CounterVec
	CommissionCollected  *prometheus.CounterVec
	CompletionDuration   prometheus.Histogram
	ReconciliationResult *prometheus.CounterVec

	// Gateway metrics
	GatewayCalls        *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	// Worker metrics
	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		LifecycleTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_transitions_total",
				Help:      "Service request lifecycle transitions by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		PaymentSessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_sessions_total",
				Help:      "Checkout sessions opened by outcome",
			},
			[]string{"outcome"},
		),
		PaymentCompletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_completions_total",
				Help:      "Completion engine results (completed, replayed, failed, error)",
			},
			[]string{"outcome"},
		),
		CommissionCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commission_collected_total",
				Help:      "Platform commission recorded, in currency units",
			},
			[]string{"currency"},
		),
		CompletionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payment_completion_duration_seconds",
				Help:      "Time spent in the atomic completion step",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		),
		ReconciliationResult: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliation_decisions_total",
				Help:      "Reconciliation policy decisions by policy, evidence shape and decision",
			},
			[]string{"policy", "shape", "decision"},
		),
		GatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Payment gateway calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "HTTP requests currently being served",
			},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of worker items processed",
			},
			[]string{"job", "status"},
		),
		WorkerProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_processing_duration_seconds",
				Help:      "Worker batch duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"job"},
		),
	}

	reg.MustRegister(
		m.LifecycleTransitions,
		m.PaymentSessions,
		m.PaymentCompletions,
		m.CommissionCollected,
		m.CompletionDuration,
		m.ReconciliationResult,
		m.GatewayCalls,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPInFlight,
		m.WorkerMessagesProcessed,
		m.WorkerProcessingDuration,
	)

	return m
}

func (m *Metrics) RecordTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.LifecycleTransitions.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) RecordSession(outcome string) {
	if m == nil {
		return
	}
	m.PaymentSessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCompletion(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.PaymentCompletions.WithLabelValues(outcome).Inc()
	m.CompletionDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) RecordCommission(currency string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.CommissionCollected.WithLabelValues(currency).Add(amount.InexactFloat64())
}

func (m *Metrics) RecordDecision(policy, shape, decision string) {
	if m == nil {
		return
	}
	m.ReconciliationResult.WithLabelValues(policy, shape, decision).Inc()
}

func (m *Metrics) RecordGatewayCall(operation, outcome string) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(operation, outcome).Inc()
}

// RecordBreakerState matches gobreaker's OnStateChange hook.
func (m *Metrics) RecordBreakerState(name string, _, to gobreaker.State) {
	if m == nil {
		return
	}
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

func (m *Metrics) RecordWorker(job, status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.WorkerMessagesProcessed.WithLabelValues(job, status).Add(float64(n))
}

func (m *Metrics) ObserveWorker(job string, started time.Time) {
	if m == nil {
		return
	}
	m.WorkerProcessingDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}
