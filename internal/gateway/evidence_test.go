package gateway

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
)

func TestParseCallback_Shapes(t *testing.T) {
	tests := []struct {
		name  string
		form  url.Values
		shape Shape
	}{
		{
			name:  "redirect with verification id",
			form:  url.Values{"val_id": {"VAL1"}, "tran_id": {"TXN-1"}, "status": {"valid"}, "value_a": {"tok"}},
			shape: ShapeRedirect,
		},
		{
			name:  "ipn carries verify_sign",
			form:  url.Values{"val_id": {"VAL1"}, "tran_id": {"TXN-1"}, "verify_sign": {"abc"}},
			shape: ShapeIPN,
		},
		{
			name:  "ipn hinted by outcome",
			form:  url.Values{"tran_id": {"TXN-1"}, "outcome": {"ipn"}},
			shape: ShapeIPN,
		},
		{
			name:  "transaction id only",
			form:  url.Values{"tran_id": {"TXN-1"}, "status": {"FAILED"}},
			shape: ShapeLookup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseCallback(tt.form)
			require.NoError(t, err)
			assert.Equal(t, tt.shape, ev.Shape)
			assert.Equal(t, "TXN-1", ev.TransactionID)
		})
	}
}

func TestParseCallback_Fields(t *testing.T) {
	ev, err := ParseCallback(url.Values{
		"val_id":       {" VAL9 "},
		"tran_id":      {"TXN-9"},
		"status":       {"valid"},
		"amount":       {"1000.00"},
		"value_a":      {"corr"},
		"value_b":      {"req"},
		"store_passwd": {"secret"},
	})
	require.NoError(t, err)

	assert.Equal(t, "VAL9", ev.VerificationID)
	assert.Equal(t, "VALID", ev.Status)
	assert.Equal(t, "corr", ev.CorrelationToken)
	assert.Equal(t, "req", ev.RequestID)
	require.True(t, ev.Amount.Valid)
	assert.Equal(t, "1000.00", ev.Amount.Decimal.StringFixed(2))
	assert.NotContains(t, ev.Raw, "secret")
	assert.False(t, ev.ReportedFailure())
}

func TestParseCallback_Unparseable(t *testing.T) {
	_, err := ParseCallback(url.Values{"status": {"VALID"}})

	var ve *domainErrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestEvidence_ReportedFailure(t *testing.T) {
	for _, status := range []string{"failed", "CANCELLED", "expired"} {
		ev, err := ParseCallback(url.Values{"tran_id": {"T"}, "status": {status}})
		require.NoError(t, err)
		assert.True(t, ev.ReportedFailure(), status)
	}

	for _, leg := range []string{"fail", "CANCEL"} {
		ev, err := ParseCallback(url.Values{"tran_id": {"T"}, "outcome": {leg}})
		require.NoError(t, err)
		assert.True(t, ev.ReportedFailure(), leg)
	}

	ev, err := ParseCallback(url.Values{"tran_id": {"T"}, "outcome": {"success"}, "status": {"VALID"}})
	require.NoError(t, err)
	assert.False(t, ev.ReportedFailure())
}

func TestFailure_Classification(t *testing.T) {
	timeout := newFailure("validate", FailureTimeout, nil)
	assert.ErrorIs(t, timeout, domainErrors.ErrGatewayTimeout)
	assert.ErrorIs(t, timeout, domainErrors.ErrGatewayUnavailable)
	assert.True(t, timeout.Retryable())

	malformed := newFailure("validate", FailureMalformed, assert.AnError)
	assert.ErrorIs(t, malformed, domainErrors.ErrGatewayMalformed)
	assert.ErrorIs(t, malformed, assert.AnError)
	assert.False(t, malformed.Retryable())

	assert.True(t, (&Failure{Kind: FailureHTTPStatus, StatusCode: 503}).Retryable())
	assert.False(t, (&Failure{Kind: FailureHTTPStatus, StatusCode: 400}).Retryable())
	assert.Equal(t, domainErrors.KindGatewayUnavailable, domainErrors.KindOf(&Failure{Kind: FailureRejected}))
}
