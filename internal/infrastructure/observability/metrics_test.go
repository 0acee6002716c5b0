package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("market", reg)
	require.NotNil(t, m)

	m.RecordTransition("accept", "ok")
	m.RecordCompletion("completed", time.Now())
	m.RecordCommission("BDT", decimal.RequireFromString("12.50"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LifecycleTransitions.WithLabelValues("accept", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentCompletions.WithLabelValues("completed")))
	assert.InDelta(t, 12.5, testutil.ToFloat64(m.CommissionCollected.WithLabelValues("BDT")), 0.0001)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("accept", "ok")
		m.RecordSession("opened")
		m.RecordCompletion("completed", time.Now())
		m.RecordCommission("BDT", decimal.NewFromInt(1))
		m.RecordDecision("strict", "redirect", "complete")
		m.RecordGatewayCall("session", "ok")
		m.RecordBreakerState("hosted", gobreaker.StateClosed, gobreaker.StateOpen)
		m.RecordWorker("outbox", "published", 3)
		m.ObserveWorker("outbox", time.Now())
	})
}

func TestRecordBreakerState(t *testing.T) {
	m := NewMetrics("market", prometheus.NewRegistry())

	m.RecordBreakerState("hosted-verify", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("hosted-verify")))

	m.RecordBreakerState("hosted-verify", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("hosted-verify")))
}
