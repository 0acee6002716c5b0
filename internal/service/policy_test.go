package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/gateway"
	"github.com/taskerhub/marketplace/internal/infrastructure/config"
	"github.com/taskerhub/marketplace/internal/testutil"
)

func TestPolicies_Decide(t *testing.T) {
	sr := testutil.NewInProgressRequest(testutil.NewRequester().ID, testutil.NewProvider(), "1000")
	charge := testutil.NewPendingCharge(sr, "1000", "BDT")

	verified := func(status string, success bool, amount, currency string) *gateway.Verification {
		v := &gateway.Verification{Success: success, RawStatus: status, Currency: currency}
		if amount != "" {
			v.Amount = decimal.NewNullDecimal(dec(amount))
		}
		return v
	}
	outage := &gateway.Failure{Op: "lookup", Kind: gateway.FailureTimeout}

	tests := []struct {
		name         string
		v            *gateway.Verification
		err          error
		strict       Decision
		bestEffort   Decision
		bestFallback bool
	}{
		{"verified match", verified("VALID", true, "1000", "BDT"), nil, DecisionComplete, DecisionComplete, false},
		{"verified without amount", verified("VALIDATED", true, "", ""), nil, DecisionComplete, DecisionComplete, false},
		{"amount mismatch", verified("VALID", true, "10", "BDT"), nil, DecisionFail, DecisionComplete, true},
		{"currency mismatch", verified("VALID", true, "1000", "USD"), nil, DecisionFail, DecisionComplete, true},
		{"declined", verified("FAILED", false, "1000", "BDT"), nil, DecisionFail, DecisionComplete, true},
		{"cancelled by payer", verified("CANCELLED", false, "", ""), nil, DecisionFail, DecisionComplete, true},
		{"still processing", verified("PENDING", false, "", ""), nil, DecisionDefer, DecisionComplete, true},
		{"gateway outage", nil, outage, DecisionDefer, DecisionComplete, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := Facts{Charge: charge, Verification: tt.v, Err: tt.err}
			strict := StrictPolicy{}.Decide(facts)
			assert.Equal(t, tt.strict, strict.Decision)
			assert.False(t, strict.Fallback)
			assert.NotEmpty(t, strict.Reason)

			best := BestEffortPolicy{}.Decide(facts)
			assert.Equal(t, tt.bestEffort, best.Decision)
			assert.Equal(t, tt.bestFallback, best.Fallback)
		})
	}
}

func TestStrictPolicy_AbandonedCheckout(t *testing.T) {
	sr := testutil.NewInProgressRequest(testutil.NewRequester().ID, testutil.NewProvider(), "1000")
	charge := testutil.NewPendingCharge(sr, "1000", "BDT")
	unknown := &gateway.Verification{RawStatus: gateway.StatusNotFound}
	processing := &gateway.Verification{RawStatus: "PENDING"}
	outage := &gateway.Failure{Op: "lookup", Kind: gateway.FailureTransport}

	tests := []struct {
		name     string
		facts    Facts
		decision Decision
	}{
		{"unknown and young", Facts{Charge: charge, Verification: unknown}, DecisionDefer},
		{"unknown after payer reported failure", Facts{Charge: charge, Verification: unknown, ReportedFailure: true}, DecisionFail},
		{"unknown and expired", Facts{Charge: charge, Verification: unknown, Expired: true}, DecisionFail},
		{"processing never expires", Facts{Charge: charge, Verification: processing, Expired: true, ReportedFailure: true}, DecisionDefer},
		{"outage never expires", Facts{Charge: charge, Err: outage, Expired: true}, DecisionDefer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StrictPolicy{}.Decide(tt.facts)
			assert.Equal(t, tt.decision, got.Decision)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(config.PolicyBestEffort)
	require.NoError(t, err)
	assert.Equal(t, config.PolicyBestEffort, p.Name())

	p, err = NewPolicy("")
	require.NoError(t, err)
	assert.Equal(t, config.PolicyStrict, p.Name())

	_, err = NewPolicy("yolo")
	assert.Error(t, err)
}

func TestGatewayFailure_ClassifiesAsUnavailable(t *testing.T) {
	err := &gateway.Failure{Op: "lookup", Kind: gateway.FailureTimeout}
	assert.Equal(t, domainErrors.KindGatewayUnavailable, domainErrors.KindOf(err))
}
