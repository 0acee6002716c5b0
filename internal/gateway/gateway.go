// Package gateway translates payment sessions and verification calls to and from the hosted
// checkout's wire protocol. It never persists state and never decides the final outcome of a
// payment: failures come back as *Failure values for the caller's reconciliation policy.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
)

// Gateway is one external payment processor.
type Gateway interface {
	// Name returns the gateway name.
	Name() string
	// CreateSession opens a hosted checkout session.
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// ValidateByVerificationID confirms a verification id delivered by a redirect or IPN.
	ValidateByVerificationID(ctx context.Context, verificationID string) (*Verification, error)
	// LookupByTransactionID queries the gateway by the merchant transaction id sent at session creation.
	LookupByTransactionID(ctx context.Context, transactionID string) (*Verification, error)
}

// Customer is the payer information some gateways require.
type Customer struct {
	Name     string
	Email    string
	Phone    string
	Address  string
	City     string
	Postcode string
	Country  string
}

// SessionRequest is everything needed to open a checkout session.
type SessionRequest struct {
	TransactionID    string
	CorrelationToken string
	RequestID        string
	Amount           decimal.Decimal
	Currency         string
	Method           string
	ProductName      string
	Customer         Customer
	SuccessURL       string
	FailURL          string
	CancelURL        string
	IPNURL           string
}

// Session is an opened checkout.
type Session struct {
	RedirectURL string
	SessionKey  string
	Raw         string
}

// Verification is the normalized answer of a verification or lookup call.
type Verification struct {
	Success               bool
	GatewayTransactionRef string
	RawStatus             string
	CorrelationToken      string
	TransactionID         string
	Amount                decimal.NullDecimal
	Currency              string
	Raw                   string
}

// StatusNotFound is the lookup status for a transaction id the gateway has no record of.
const StatusNotFound = "NOT_FOUND"

// Unknown reports whether the gateway has no record of the transaction.
func (v *Verification) Unknown() bool {
	return v.RawStatus == StatusNotFound
}

// FailureKind classifies why a gateway call produced no usable answer.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureTransport   FailureKind = "transport"
	FailureHTTPStatus  FailureKind = "http_status"
	FailureMalformed   FailureKind = "malformed"
	FailureRejected    FailureKind = "rejected"
	FailureCircuitOpen FailureKind = "circuit_open"
)

// Failure is the structured error returned by every gateway call that could not complete.
type Failure struct {
	Op         string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("gateway %s: %s", f.Op, f.Kind)
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", f.StatusCode)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap exposes the taxonomy sentinel alongside the cause.
func (f *Failure) Unwrap() []error {
	var sentinel error
	switch f.Kind {
	case FailureTimeout:
		sentinel = domainErrors.ErrGatewayTimeout
	case FailureMalformed:
		sentinel = domainErrors.ErrGatewayMalformed
	default:
		sentinel = domainErrors.ErrGatewayUnavailable
	}
	if f.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, f.Err}
}

// Retryable reports whether repeating the same call could succeed.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case FailureTimeout, FailureTransport:
		return true
	case FailureHTTPStatus:
		return f.StatusCode >= 500 || f.StatusCode == 429
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable *Failure.
func IsRetryable(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Retryable()
}

func newFailure(op string, kind FailureKind, err error) *Failure {
	return &Failure{Op: op, Kind: kind, Err: err}
}
