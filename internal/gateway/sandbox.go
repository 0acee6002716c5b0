package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sandbox is an in-process gateway for development and tests. Every session is approved unless
// failure or timeout rates say otherwise.
type Sandbox struct {
	name        string
	failureRate float64 // 0.0 to 1.0
	timeoutRate float64 // 0.0 to 1.0
	latency     time.Duration
	down        atomic.Bool

	mu       sync.Mutex
	sessions map[string]*sandboxSession // by transaction id
	byValID  map[string]string          // val_id -> transaction id
}

type sandboxSession struct {
	req    SessionRequest
	valID  string
	status string
}

type SandboxOption func(*Sandbox)

func WithFailureRate(rate float64) SandboxOption {
	return func(s *Sandbox) { s.failureRate = rate }
}

func WithLatency(d time.Duration) SandboxOption {
	return func(s *Sandbox) { s.latency = d }
}

func WithTimeoutRate(rate float64) SandboxOption {
	return func(s *Sandbox) { s.timeoutRate = rate }
}

// WithUnavailable makes every call fail as if the gateway were unreachable.
func WithUnavailable() SandboxOption {
	return func(s *Sandbox) { s.down.Store(true) }
}

func NewSandbox(name string, opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		name:     name,
		sessions: make(map[string]*sandboxSession),
		byValID:  make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sandbox) Name() string { return s.name }

func (s *Sandbox) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if err := s.simulate(ctx, "create_session"); err != nil {
		return nil, err
	}

	status := "VALID"
	if rand.Float64() < s.failureRate {
		status = "FAILED"
	}
	valID := "SBX" + strings.ToUpper(uuid.New().String()[:12])

	s.mu.Lock()
	s.sessions[req.TransactionID] = &sandboxSession{req: req, valID: valID, status: status}
	s.byValID[valID] = req.TransactionID
	s.mu.Unlock()

	return &Session{
		RedirectURL: fmt.Sprintf("https://sandbox.invalid/checkout/%s?val_id=%s", req.TransactionID, valID),
		SessionKey:  valID,
	}, nil
}

func (s *Sandbox) ValidateByVerificationID(ctx context.Context, verificationID string) (*Verification, error) {
	if err := s.simulate(ctx, "validate"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tranID, ok := s.byValID[verificationID]
	if !ok {
		return &Verification{RawStatus: "INVALID_TRANSACTION", GatewayTransactionRef: verificationID}, nil
	}
	return s.sessions[tranID].verification(), nil
}

func (s *Sandbox) LookupByTransactionID(ctx context.Context, transactionID string) (*Verification, error) {
	if err := s.simulate(ctx, "lookup"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[transactionID]
	if !ok {
		return &Verification{RawStatus: StatusNotFound, TransactionID: transactionID}, nil
	}
	return sess.verification(), nil
}

// VerificationID returns the val_id issued for transactionID, for driving redirects in tests.
func (s *Sandbox) VerificationID(transactionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[transactionID]
	if !ok {
		return "", false
	}
	return sess.valID, true
}

// Decline marks an opened session as failed at the gateway.
func (s *Sandbox) Decline(transactionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[transactionID]; ok {
		sess.status = "FAILED"
	}
}

// SetUnavailable switches the simulated outage on or off.
func (s *Sandbox) SetUnavailable(down bool) {
	s.down.Store(down)
}

func (s *Sandbox) simulate(ctx context.Context, op string) error {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return newFailure(op, FailureTimeout, ctx.Err())
		}
	}
	if s.down.Load() {
		return newFailure(op, FailureTransport, errors.New("sandbox unavailable"))
	}
	if rand.Float64() < s.timeoutRate {
		return newFailure(op, FailureTimeout, context.DeadlineExceeded)
	}
	return nil
}

func (ss *sandboxSession) verification() *Verification {
	return &Verification{
		Success:               ss.status == "VALID",
		GatewayTransactionRef: ss.valID,
		RawStatus:             ss.status,
		CorrelationToken:      ss.req.CorrelationToken,
		TransactionID:         ss.req.TransactionID,
		Amount:                decimal.NewNullDecimal(ss.req.Amount),
		Currency:              ss.req.Currency,
	}
}
