package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/taskerhub/marketplace/internal/domain/commission"
	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/domain/user"
	"github.com/taskerhub/marketplace/internal/gateway"
	"github.com/taskerhub/marketplace/internal/infrastructure/config"
	"github.com/taskerhub/marketplace/internal/infrastructure/observability"
	"github.com/taskerhub/marketplace/internal/testutil"
)

type harnessOptions struct {
	policy        string
	autoComplete  bool
	pendingExpiry time.Duration
	metrics       *observability.Metrics
}

// harness wires the real services over in-memory repositories and the sandbox gateway.
type harness struct {
	requests     *testutil.MockRequestRepository
	transactions *testutil.MockTransactionRepository
	outbox       *testutil.MockOutboxRepository
	users        *testutil.MockUserRepository
	tm           *testutil.MockTransactionManager
	locker       *testutil.MemoryLocker
	sandbox      *gateway.Sandbox

	notifier  *Notifier
	engine    *CompletionEngine
	lifecycle *LifecycleService
	payments  *PaymentService

	requester *user.User
	provider  *user.User
	admin     *user.User

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.policy == "" {
		opts.policy = config.PolicyStrict
	}

	h := &harness{
		requests:     testutil.NewMockRequestRepository(),
		transactions: testutil.NewMockTransactionRepository(),
		outbox:       testutil.NewMockOutboxRepository(),
		locker:       testutil.NewMemoryLocker(),
		sandbox:      gateway.NewSandbox("sandbox"),
		requester:    testutil.NewRequester(),
		provider:     testutil.NewProvider(),
		admin:        testutil.NewAdmin(),
		now:          testutil.Now,
	}
	h.users = testutil.NewMockUserRepository(h.requester, h.provider, h.admin)
	h.tm = testutil.NewMockTransactionManager(h.requests, h.transactions, h.outbox)

	calc, err := commission.NewCalculator(commission.DefaultRate)
	require.NoError(t, err)
	policy, err := NewPolicy(opts.policy)
	require.NoError(t, err)

	logger := zerolog.Nop()
	h.notifier = NewNotifier(h.outbox, h.clock, logger)
	h.engine = NewCompletionEngine(h.requests, h.transactions, h.tm, h.locker, calc, h.notifier, CompletionConfig{
		AutoComplete: opts.autoComplete,
		Clock:        h.clock,
		Metrics:      opts.metrics,
	}, logger)
	h.lifecycle = NewLifecycleService(h.requests, h.transactions, h.users, h.tm, h.notifier, h.clock, logger, opts.metrics)
	h.payments = NewPaymentService(h.requests, h.transactions, h.users, h.tm, h.locker, h.sandbox, h.engine, policy, h.notifier, PaymentConfig{
		Currency:        "BDT",
		CallbackBaseURL: "https://market.example.com/",
		PendingExpiry:   opts.pendingExpiry,
		Clock:           h.clock,
		Metrics:         opts.metrics,
	}, logger)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

// inProgress seeds an in-progress request between the harness requester and provider.
func (h *harness) inProgress(budget string) *servicerequest.ServiceRequest {
	sr := testutil.NewInProgressRequest(h.requester.ID, h.provider, budget)
	h.requests.Put(sr)
	return sr
}

// pendingCharge seeds an in-progress request with a pending charge for its whole budget.
func (h *harness) pendingCharge(budget string) (*servicerequest.ServiceRequest, *payment.Transaction) {
	sr := testutil.NewInProgressRequest(h.requester.ID, h.provider, budget)
	charge := testutil.NewPendingCharge(sr, budget, "BDT")
	h.requests.Put(sr)
	h.transactions.Put(charge)
	return sr, charge
}

// openSession goes through CreateSession so the sandbox knows the charge.
func (h *harness) openSession(t *testing.T, budget string) (*servicerequest.ServiceRequest, *SessionResult) {
	t.Helper()
	sr := h.inProgress(budget)
	res, err := h.payments.CreateSession(context.Background(), h.requester.ID, CreateSessionInput{
		RequestID: sr.ID,
		Method:    "card",
	})
	require.NoError(t, err)
	return sr, res
}

// redirect builds the evidence a browser brings back from checkout.
func (h *harness) redirect(t *testing.T, res *SessionResult) *gateway.Evidence {
	t.Helper()
	valID, ok := h.sandbox.VerificationID(res.ExternalID)
	require.True(t, ok)
	return &gateway.Evidence{
		Shape:            gateway.ShapeRedirect,
		VerificationID:   valID,
		TransactionID:    res.ExternalID,
		CorrelationToken: res.TransactionID.String(),
		Status:           "VALID",
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
