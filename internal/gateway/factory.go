package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
)

// BreakerSettings tunes the circuit breaker wrapped around each gateway.
type BreakerSettings struct {
	Threshold     uint32
	FailureRatio  float64
	Timeout       time.Duration
	Interval      time.Duration
	OnStateChange func(gateway string, from, to gobreaker.State)
}

// DefaultBreakerSettings trips after 10 requests with at least 60% unavailability.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Threshold:    10,
		FailureRatio: 0.6,
		Timeout:      30 * time.Second,
		Interval:     60 * time.Second,
	}
}

type Factory struct {
	gateways map[string]Gateway
	settings BreakerSettings
}

func NewFactory(settings BreakerSettings, gateways ...Gateway) *Factory {
	f := &Factory{
		gateways: make(map[string]Gateway),
		settings: settings,
	}
	for _, g := range gateways {
		f.Register(g)
	}
	return f
}

// Register wraps g in circuit breakers and makes it available under g.Name().
func (f *Factory) Register(g Gateway) {
	f.gateways[g.Name()] = newResilient(g, f.settings)
}

func (f *Factory) Get(name string) (Gateway, error) {
	g, ok := f.gateways[name]
	if !ok {
		return nil, fmt.Errorf("unknown gateway %q: %w", name, domainErrors.ErrGatewayUnavailable)
	}
	return g, nil
}

// resilient guards a gateway with one breaker per call family. Only unavailability counts as a
// breaker failure; a declined payment is a healthy answer.
type resilient struct {
	inner    Gateway
	sessions *gobreaker.CircuitBreaker[*Session]
	verifies *gobreaker.CircuitBreaker[*Verification]
}

func newResilient(g Gateway, s BreakerSettings) *resilient {
	settings := func(suffix string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        g.Name() + "-" + suffix,
			MaxRequests: s.Threshold,
			Interval:    s.Interval,
			Timeout:     s.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < s.Threshold {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= s.FailureRatio
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, domainErrors.ErrGatewayUnavailable)
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				if s.OnStateChange != nil {
					s.OnStateChange(g.Name(), from, to)
				}
			},
		}
	}
	return &resilient{
		inner:    g,
		sessions: gobreaker.NewCircuitBreaker[*Session](settings("sessions")),
		verifies: gobreaker.NewCircuitBreaker[*Verification](settings("verify")),
	}
}

func (r *resilient) Name() string { return r.inner.Name() }

func (r *resilient) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	s, err := r.sessions.Execute(func() (*Session, error) {
		return r.inner.CreateSession(ctx, req)
	})
	return s, breakerError("create_session", err)
}

func (r *resilient) ValidateByVerificationID(ctx context.Context, verificationID string) (*Verification, error) {
	v, err := r.verifies.Execute(func() (*Verification, error) {
		return r.inner.ValidateByVerificationID(ctx, verificationID)
	})
	return v, breakerError("validate", err)
}

func (r *resilient) LookupByTransactionID(ctx context.Context, transactionID string) (*Verification, error) {
	v, err := r.verifies.Execute(func() (*Verification, error) {
		return r.inner.LookupByTransactionID(ctx, transactionID)
	})
	return v, breakerError("lookup", err)
}

func breakerError(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return newFailure(op, FailureCircuitOpen, err)
	}
	return err
}
