package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/taskerhub/marketplace/internal/domain/commission"
	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/domain/user"
	"github.com/taskerhub/marketplace/internal/gateway"
	"github.com/taskerhub/marketplace/internal/infrastructure/observability"
)

// MessagePendingVerification is shown when a payment could be neither confirmed nor rejected.
const MessagePendingVerification = "payment pending verification"

// PaymentConfig holds the settings the payment flow needs at runtime.
type PaymentConfig struct {
	Currency string
	// CallbackBaseURL is the public base the gateway redirects browsers and posts IPNs to.
	CallbackBaseURL string
	// PendingExpiry is how long a charge the gateway has no record of may stay pending.
	// Zero keeps such charges pending until the payer reports back.
	PendingExpiry time.Duration
	Clock         Clock
	Metrics       *observability.Metrics
}

// PaymentService opens checkout sessions, reconciles gateway evidence and issues refunds.
type PaymentService struct {
	requests     servicerequest.Repository
	transactions payment.Repository
	users        user.Directory
	tm           TransactionManager
	locker       Locker
	gateway      gateway.Gateway
	engine       *CompletionEngine
	policy       ReconciliationPolicy
	notifier     *Notifier
	cfg          PaymentConfig
	clock        Clock
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewPaymentService(
	requests servicerequest.Repository,
	transactions payment.Repository,
	users user.Directory,
	tm TransactionManager,
	locker Locker,
	gw gateway.Gateway,
	engine *CompletionEngine,
	policy ReconciliationPolicy,
	notifier *Notifier,
	cfg PaymentConfig,
	logger zerolog.Logger,
) *PaymentService {
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock
	}
	return &PaymentService{
		requests:     requests,
		transactions: transactions,
		users:        users,
		tm:           tm,
		locker:       locker,
		gateway:      gw,
		engine:       engine,
		policy:       policy,
		notifier:     notifier,
		cfg:          cfg,
		clock:        clock,
		logger:       logger.With().Str("component", "payments").Str("policy", policy.Name()).Logger(),
		metrics:      cfg.Metrics,
	}
}

// Policy returns the active reconciliation policy.
func (s *PaymentService) Policy() ReconciliationPolicy { return s.policy }

// CreateSessionInput is a checkout request from the requester.
type CreateSessionInput struct {
	RequestID uuid.UUID
	// Amount, when set, must equal the payable amount of the request.
	Amount   decimal.NullDecimal
	Method   string
	Customer gateway.Customer
}

// SessionResult is an opened checkout.
type SessionResult struct {
	TransactionID uuid.UUID
	ExternalID    string
	RedirectURL   string
	Amount        decimal.Decimal
	Currency      string
}

// CreateSession records a pending charge, then opens the gateway session. When the gateway fails
// the pending charge stays behind as an audit trail and the caller is told to retry. A request
// has at most one pending charge: opening a new checkout fails the previous pending one as
// superseded in the same transaction.
func (s *PaymentService) CreateSession(ctx context.Context, actorID uuid.UUID, in CreateSessionInput) (*SessionResult, error) {
	ctx, span := observability.StartSpan(ctx, "payment.create_session",
		attribute.String("request_id", in.RequestID.String()))
	defer span.End()

	previous, release, err := s.lockPendingCharge(ctx, in.RequestID)
	if err != nil {
		s.metrics.RecordSession(string(domainErrors.KindOf(err)))
		return nil, err
	}
	defer release()

	var charge *payment.Transaction
	var title string
	err = s.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		sr, err := s.requests.GetForUpdate(txCtx, in.RequestID)
		if err != nil {
			return err
		}
		if sr.PartyOf(actorID) != servicerequest.PartyRequester {
			return domainErrors.NewDomainError("unauthorized", "only the requester can pay for this request", domainErrors.ErrUnauthorized)
		}
		if sr.Assignment == nil {
			return domainErrors.NewDomainError("invalid_transition", "request has not been accepted yet", domainErrors.ErrInvalidTransition)
		}
		if sr.PaymentStatus == servicerequest.PaymentPending && sr.PaymentTransactionID != nil &&
			*sr.PaymentTransactionID != previous {
			return domainErrors.NewDomainError("conflict",
				"another checkout was opened for this request, please try again", domainErrors.ErrConflict)
		}
		payable := sr.PayableAmount()
		if !payable.Valid {
			return domainErrors.NewValidationError("amount", "request has no agreed price or budget")
		}
		if in.Amount.Valid && !in.Amount.Decimal.Equal(payable.Decimal) {
			return domainErrors.NewValidationError("amount", "must equal the payable amount "+payable.Decimal.StringFixed(commission.Places))
		}

		now := s.clock()
		charge, err = payment.NewCharge(sr.ID, actorID, payable.Decimal, s.cfg.Currency, in.Method, now)
		if err != nil {
			return err
		}
		if err := sr.MarkPaymentPending(charge.ID, now); err != nil {
			return err
		}
		if err := s.transactions.Create(txCtx, charge); err != nil {
			return err
		}
		if previous != uuid.Nil {
			if err := s.supersede(txCtx, previous, charge.ID, now); err != nil {
				return err
			}
		}
		title = sr.Title
		return s.requests.Update(txCtx, sr)
	})
	if err != nil {
		s.metrics.RecordSession(string(domainErrors.KindOf(err)))
		return nil, err
	}

	session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		TransactionID:    charge.ExternalID,
		CorrelationToken: charge.CorrelationToken(),
		RequestID:        charge.RequestID.String(),
		Amount:           charge.Amount,
		Currency:         charge.Currency,
		Method:           charge.Method,
		ProductName:      title,
		Customer:         in.Customer,
		SuccessURL:       s.callbackURL("success"),
		FailURL:          s.callbackURL("fail"),
		CancelURL:        s.callbackURL("cancel"),
		IPNURL:           s.callbackURL("ipn"),
	})
	if err != nil {
		s.metrics.RecordGatewayCall("create_session", "error")
		s.metrics.RecordSession("gateway_error")
		s.audit(ctx, charge.ID, payment.EventSessionFailed, map[string]any{"error": err.Error()})
		s.logger.Warn().Err(err).
			Str("transaction_id", charge.ID.String()).
			Msg("gateway session failed; pending charge kept for audit")
		return nil, domainErrors.NewDomainError("gateway_unavailable",
			"payment gateway is unavailable, please try again", err)
	}

	s.metrics.RecordGatewayCall("create_session", "ok")
	s.metrics.RecordSession("opened")
	s.audit(ctx, charge.ID, payment.EventSessionOpened, map[string]any{
		"external_id": charge.ExternalID,
		"session_key": session.SessionKey,
		"gateway":     s.gateway.Name(),
	})
	return &SessionResult{
		TransactionID: charge.ID,
		ExternalID:    charge.ExternalID,
		RedirectURL:   session.RedirectURL,
		Amount:        charge.Amount,
		Currency:      charge.Currency,
	}, nil
}

// VerifyOutcome is the business result of one piece of evidence.
type VerifyOutcome string

const (
	OutcomeCompleted VerifyOutcome = "completed"
	OutcomeReplayed  VerifyOutcome = "replayed"
	OutcomeFailed    VerifyOutcome = "failed"
	OutcomePending   VerifyOutcome = "pending"
	// OutcomeDuplicate is money taken for a request another charge already settled. The
	// charge is flagged for refund.
	OutcomeDuplicate VerifyOutcome = "duplicate"
)

// VerifyResult is returned to callback handlers and the sweeper.
type VerifyResult struct {
	TransactionID uuid.UUID
	RequestID     uuid.UUID
	Outcome       VerifyOutcome
	Message       string
	Completion    *CompletionResult
	Fallback      bool
}

// Verify reconciles gateway evidence with the matching local charge. Redirect and IPN evidence
// is validated by its verification id; anything unconfirmed is re-checked by direct lookup of the
// merchant transaction id before the policy decides.
func (s *PaymentService) Verify(ctx context.Context, ev *gateway.Evidence) (*VerifyResult, error) {
	ctx, span := observability.StartSpan(ctx, "payment.verify", attribute.String("shape", string(ev.Shape)))
	defer span.End()

	t, err := s.resolve(ctx, ev)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, t.ID, payment.EventEvidence, map[string]any{
		"shape":           string(ev.Shape),
		"verification_id": ev.VerificationID,
		"status":          ev.Status,
	})

	result := &VerifyResult{TransactionID: t.ID, RequestID: t.RequestID}
	switch t.Status {
	case payment.StatusCompleted:
		completion, err := s.engine.CompletePayment(ctx, t.ID, VerifierEvidence{Source: string(ev.Shape)})
		if errors.Is(err, domainErrors.ErrDuplicatePayment) {
			return s.duplicate(result, err), nil
		}
		if err != nil {
			return nil, err
		}
		result.Outcome, result.Completion, result.Message = OutcomeReplayed, completion, "payment already processed"
		return result, nil
	case payment.StatusFailed:
		if t.Superseded() {
			return s.verifySuperseded(ctx, t, ev, result), nil
		}
		result.Outcome, result.Message = OutcomeFailed, "payment failed; please start a new payment"
		return result, nil
	case payment.StatusRefunded:
		result.Outcome, result.Message = OutcomeFailed, "payment failed; please start a new payment"
		return result, nil
	}

	verification, verifyErr := s.verification(ctx, t, ev)
	outcome := s.policy.Decide(Facts{
		Charge:          t,
		Verification:    verification,
		Err:             verifyErr,
		ReportedFailure: ev.ReportedFailure(),
		Expired:         s.expired(t),
	})
	s.metrics.RecordDecision(s.policy.Name(), string(ev.Shape), string(outcome.Decision))
	result.Fallback = outcome.Fallback

	log := s.logger.With().
		Str("transaction_id", t.ID.String()).
		Str("shape", string(ev.Shape)).
		Str("decision", string(outcome.Decision)).
		Str("reason", outcome.Reason).
		Logger()

	switch outcome.Decision {
	case DecisionComplete:
		if outcome.Fallback {
			log.Warn().Msg("completing unconfirmed payment under best-effort policy")
		}
		completion, err := s.engine.CompletePayment(ctx, t.ID, completionEvidence(ev, verification, outcome))
		if errors.Is(err, domainErrors.ErrDuplicatePayment) {
			return s.duplicate(result, err), nil
		}
		if err != nil {
			return nil, err
		}
		result.Completion = completion
		result.Outcome = OutcomeCompleted
		result.Message = "payment completed"
		if completion.Replayed {
			result.Outcome, result.Message = OutcomeReplayed, "payment already processed"
		}
		return result, nil

	case DecisionFail:
		log.Info().Msg("payment rejected")
		if err := s.fail(ctx, t.ID, outcome.Reason, rawOf(ev, verification)); err != nil {
			return nil, err
		}
		result.Outcome, result.Message = OutcomeFailed, "payment failed; please start a new payment"
		return result, nil

	default:
		log.Warn().Msg("payment left pending")
		s.audit(ctx, t.ID, payment.EventVerifyDeferred, map[string]any{"reason": outcome.Reason})
		result.Outcome, result.Message = OutcomePending, MessagePendingVerification
		return result, nil
	}
}

// ReconcileTransaction resolves one pending charge by direct lookup.
func (s *PaymentService) ReconcileTransaction(ctx context.Context, id uuid.UUID) (*VerifyResult, error) {
	t, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Verify(ctx, &gateway.Evidence{
		Shape:            gateway.ShapeLookup,
		TransactionID:    t.ExternalID,
		CorrelationToken: t.CorrelationToken(),
	})
}

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	Checked    int
	Completed  int
	Failed     int
	Pending    int
	Duplicates int
	Errors     int
}

// ReconcilePending sweeps charges that stayed pending longer than maxAge, least recently
// checked first. Every charge looked at is stamped so the ones still pending go to the back
// of the queue.
func (s *PaymentService) ReconcilePending(ctx context.Context, maxAge time.Duration, limit int) (ReconcileReport, error) {
	var report ReconcileReport
	stale, err := s.transactions.ListStalePending(ctx, s.clock().Add(-maxAge), limit)
	if err != nil {
		return report, err
	}
	for _, t := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		res, err := s.ReconcileTransaction(ctx, t.ID)
		if markErr := s.transactions.MarkChecked(ctx, t.ID, s.clock()); markErr != nil {
			s.logger.Warn().Err(markErr).Str("transaction_id", t.ID.String()).Msg("failed to stamp reconcile check")
		}
		if err != nil {
			report.Errors++
			s.logger.Warn().Err(err).Str("transaction_id", t.ID.String()).Msg("reconcile failed")
			continue
		}
		switch res.Outcome {
		case OutcomeCompleted, OutcomeReplayed:
			report.Completed++
		case OutcomeFailed:
			report.Failed++
		case OutcomeDuplicate:
			report.Duplicates++
		default:
			report.Pending++
		}
	}
	return report, nil
}

// Refund appends a refund entry for a completed charge of a cancelled request. Only
// administrators may refund, and a charge can be refunded once. A duplicate charge, one that
// settled after another charge already paid the request, is refunded whatever the request's
// status and leaves the request untouched.
func (s *PaymentService) Refund(ctx context.Context, actorID, chargeID uuid.UUID, reason string) (*payment.Transaction, error) {
	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil && !errors.Is(err, domainErrors.ErrUserNotFound) {
		return nil, err
	}
	if actor == nil || !actor.IsAdmin() {
		return nil, domainErrors.NewDomainError("unauthorized", "only administrators can issue refunds", domainErrors.ErrUnauthorized)
	}

	var refund *payment.Transaction
	var requesterID uuid.UUID
	err = s.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		charge, err := s.transactions.GetByID(txCtx, chargeID)
		if err != nil {
			return err
		}
		sr, err := s.requests.GetForUpdate(txCtx, charge.RequestID)
		if err != nil {
			return err
		}
		duplicate := sr.PaidByOther(charge.ID)
		if !duplicate && sr.PaymentStatus == servicerequest.PaymentRefunded {
			return domainErrors.NewDomainError("conflict", "this payment has already been refunded", domainErrors.ErrAlreadyRefunded)
		}

		now := s.clock()
		refund, err = payment.NewRefund(charge, reason, now)
		if err != nil {
			return err
		}
		if !duplicate {
			if err := sr.MarkRefunded(now); err != nil {
				return err
			}
		}
		if err := s.transactions.Create(txCtx, refund); err != nil {
			return err
		}
		if !duplicate {
			if err := s.requests.Update(txCtx, sr); err != nil {
				return err
			}
		}
		requesterID = sr.RequesterID
		return s.transactions.AddEvent(txCtx, payment.NewEvent(charge.ID, payment.EventRefunded, map[string]any{
			"refund_id": refund.ID.String(),
			"amount":    refund.Amount.StringFixed(commission.Places),
			"reason":    reason,
			"actor_id":  actorID.String(),
		}, now))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transaction_id", chargeID.String()).
		Str("refund_id", refund.ID.String()).
		Msg("payment refunded")
	s.notifier.Notify(ctx, requesterID, "Payment refunded",
		"Your payment of "+refund.Amount.Neg().StringFixed(commission.Places)+" was refunded.", NotifyPaymentRefunded)
	return refund, nil
}

// resolve finds the local charge the evidence refers to, preferring the correlation token.
func (s *PaymentService) resolve(ctx context.Context, ev *gateway.Evidence) (*payment.Transaction, error) {
	if id, err := uuid.Parse(ev.CorrelationToken); err == nil {
		t, err := s.transactions.GetByID(ctx, id)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, domainErrors.ErrNotFound) {
			return nil, err
		}
	}
	if ev.TransactionID != "" {
		return s.transactions.GetByExternalID(ctx, ev.TransactionID)
	}
	return nil, domainErrors.ErrTransactionNotFound
}

// verification asks the gateway about t. A verification-id answer is trusted only when it is
// a success for this very charge; everything else falls back to the authoritative lookup.
func (s *PaymentService) verification(ctx context.Context, t *payment.Transaction, ev *gateway.Evidence) (*gateway.Verification, error) {
	if ev.VerificationID != "" && ev.Shape != gateway.ShapeLookup {
		v, err := s.gateway.ValidateByVerificationID(ctx, ev.VerificationID)
		switch {
		case err != nil:
			s.metrics.RecordGatewayCall("validate", "error")
			s.logger.Warn().Err(err).Str("transaction_id", t.ID.String()).Msg("validation failed, falling back to lookup")
		case v.Success && belongsTo(v, t):
			s.metrics.RecordGatewayCall("validate", "ok")
			return v, nil
		default:
			s.metrics.RecordGatewayCall("validate", "unconfirmed")
		}
	}

	v, err := s.gateway.LookupByTransactionID(ctx, t.ExternalID)
	if err != nil {
		s.metrics.RecordGatewayCall("lookup", "error")
		return nil, err
	}
	s.metrics.RecordGatewayCall("lookup", "ok")
	if !belongsTo(v, t) {
		return nil, domainErrors.NewDomainError("gateway_unavailable",
			"gateway lookup answered for another transaction", domainErrors.ErrGatewayMalformed)
	}
	return v, nil
}

func (s *PaymentService) fail(ctx context.Context, id uuid.UUID, reason, raw string) error {
	started := time.Now()
	unlock, err := s.locker.Lock(ctx, transactionLockKey(id.String()))
	if err != nil {
		return domainErrors.NewDomainError("conflict", "payment is already being processed", err)
	}
	defer func() { _ = unlock(context.WithoutCancel(ctx)) }()

	var requesterID uuid.UUID
	var failed bool
	err = s.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		t, err := s.transactions.GetForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if !t.IsPending() {
			return nil
		}
		now := s.clock()
		if err := t.Fail(reason, raw, now); err != nil {
			return err
		}
		if err := s.transactions.Transition(txCtx, t, payment.StatusPending); err != nil {
			return err
		}
		sr, err := s.requests.GetForUpdate(txCtx, t.RequestID)
		if err != nil {
			return err
		}
		if sr.PaymentTransactionID == nil || *sr.PaymentTransactionID == t.ID {
			sr.MarkPaymentFailed(t.ID, now)
			if err := s.requests.Update(txCtx, sr); err != nil {
				return err
			}
		}
		requesterID, failed = sr.RequesterID, true
		return s.transactions.AddEvent(txCtx, payment.NewEvent(t.ID, payment.EventFailed, map[string]any{"reason": reason}, now))
	})
	if err != nil {
		if domainErrors.KindOf(err) == domainErrors.KindInternal {
			err = domainErrors.Persistence("fail payment "+id.String(), err)
		}
		return err
	}
	if failed {
		s.metrics.RecordCompletion("failed", started)
		s.notifier.Notify(ctx, requesterID, "Payment failed",
			"Your payment could not be confirmed. Please try again.", NotifyPaymentFailed)
	}
	return nil
}

// lockPendingCharge takes the completion lock of the request's pending charge, if it has one,
// so the charge cannot settle while a new checkout supersedes it.
func (s *PaymentService) lockPendingCharge(ctx context.Context, requestID uuid.UUID) (uuid.UUID, func(), error) {
	sr, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if sr.PaymentStatus != servicerequest.PaymentPending || sr.PaymentTransactionID == nil {
		return uuid.Nil, func() {}, nil
	}
	previous := *sr.PaymentTransactionID
	unlock, err := s.locker.Lock(ctx, transactionLockKey(previous.String()))
	if err != nil {
		return uuid.Nil, nil, domainErrors.NewDomainError("conflict", "payment is already being processed", err)
	}
	return previous, func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("transaction_id", previous.String()).Msg("failed to release payment lock")
		}
	}, nil
}

// supersede fails the pending charge id in favour of by. The caller holds its completion lock.
func (s *PaymentService) supersede(ctx context.Context, id, by uuid.UUID, now time.Time) error {
	old, err := s.transactions.GetForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if !old.IsPending() {
		return nil
	}
	if err := old.Supersede(by, now); err != nil {
		return err
	}
	if err := s.transactions.Transition(ctx, old, payment.StatusPending); err != nil {
		return err
	}
	s.logger.Info().
		Str("transaction_id", id.String()).
		Str("superseded_by", by.String()).
		Msg("pending charge superseded by a new checkout")
	return s.transactions.AddEvent(ctx, payment.NewEvent(id, payment.EventSuperseded,
		map[string]any{"superseded_by": by.String()}, now))
}

// verifySuperseded handles evidence for a charge a newer checkout replaced. If the gateway
// took the money anyway the charge stays failed, the request keeps its own payment and the
// money is flagged for refund.
func (s *PaymentService) verifySuperseded(ctx context.Context, t *payment.Transaction, ev *gateway.Evidence, result *VerifyResult) *VerifyResult {
	v, err := s.verification(ctx, t, ev)
	if err != nil || !v.Success {
		result.Outcome, result.Message = OutcomeFailed, "this checkout was replaced by a newer one; please use the latest payment link"
		return result
	}
	s.audit(ctx, t.ID, payment.EventPaidAfterSupersede, map[string]any{
		"gateway_ref":  v.GatewayTransactionRef,
		"amount":       v.Amount.Decimal.StringFixed(commission.Places),
		"needs_refund": true,
	})
	s.metrics.RecordDecision(s.policy.Name(), string(ev.Shape), string(OutcomeDuplicate))
	s.logger.Error().
		Str("transaction_id", t.ID.String()).
		Str("gateway_ref", v.GatewayTransactionRef).
		Msg("gateway settled a superseded checkout; refund required")
	result.Outcome, result.Message = OutcomeDuplicate, "this checkout was replaced by a newer one; the payment will be refunded"
	return result
}

func (s *PaymentService) duplicate(result *VerifyResult, err error) *VerifyResult {
	result.Outcome, result.Message = OutcomeDuplicate, domainErrors.UserMessage(err, "payment will be refunded")
	return result
}

// expired reports whether t outlived the pending window.
func (s *PaymentService) expired(t *payment.Transaction) bool {
	return s.cfg.PendingExpiry > 0 && s.clock().Sub(t.CreatedAt) >= s.cfg.PendingExpiry
}

// audit records a best-effort event outside any business transaction.
func (s *PaymentService) audit(ctx context.Context, id uuid.UUID, eventType string, data map[string]any) {
	if err := s.transactions.AddEvent(context.WithoutCancel(ctx), payment.NewEvent(id, eventType, data, s.clock())); err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", id.String()).Str("event", eventType).Msg("failed to record payment event")
	}
}

func (s *PaymentService) callbackURL(outcome string) string {
	base := strings.TrimRight(s.cfg.CallbackBaseURL, "/")
	return base + "/api/v1/payments/callback?" + url.Values{"outcome": {outcome}}.Encode()
}

func belongsTo(v *gateway.Verification, t *payment.Transaction) bool {
	if v.TransactionID != "" && v.TransactionID != t.ExternalID {
		return false
	}
	if v.CorrelationToken != "" && v.CorrelationToken != t.CorrelationToken() {
		return false
	}
	return true
}

func completionEvidence(ev *gateway.Evidence, v *gateway.Verification, o Outcome) VerifierEvidence {
	out := VerifierEvidence{GatewayRef: ev.VerificationID, Raw: rawOf(ev, v), Source: string(ev.Shape)}
	if v != nil && v.GatewayTransactionRef != "" {
		out.GatewayRef = v.GatewayTransactionRef
	}
	if o.Fallback {
		out.Source += ":fallback"
	}
	return out
}

func rawOf(ev *gateway.Evidence, v *gateway.Verification) string {
	if v != nil && v.Raw != "" {
		return v.Raw
	}
	return ev.Raw
}
