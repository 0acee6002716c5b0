package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskerhub/marketplace/internal/domain/commission"
	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/infrastructure/observability"
)

// VerifierEvidence is what the gateway gave us as proof of payment.
type VerifierEvidence struct {
	GatewayRef string
	Raw        string
	Source     string
}

// CompletionResult is the settled state of a charge.
type CompletionResult struct {
	TransactionID uuid.UUID
	RequestID     uuid.UUID
	Split         commission.Split
	Currency      string
	Replayed      bool
	AutoCompleted bool
	RequestStatus servicerequest.Status
	PaymentStatus servicerequest.PaymentStatus
}

// CompletionEngine settles pending charges. Completion of one transaction id is a critical
// section: a distributed lock, the row lock and a compare-and-swap on the status all guard it,
// and the transaction and request writes commit together.
type CompletionEngine struct {
	requests     servicerequest.Repository
	transactions payment.Repository
	tm           TransactionManager
	locker       Locker
	calculator   *commission.Calculator
	notifier     *Notifier
	autoComplete bool
	clock        Clock
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

// CompletionConfig carries the engine's tunables.
type CompletionConfig struct {
	// AutoComplete closes the request when its payment settles.
	AutoComplete bool
	Clock        Clock
	Metrics      *observability.Metrics
}

func NewCompletionEngine(
	requests servicerequest.Repository,
	transactions payment.Repository,
	tm TransactionManager,
	locker Locker,
	calculator *commission.Calculator,
	notifier *Notifier,
	cfg CompletionConfig,
	logger zerolog.Logger,
) *CompletionEngine {
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock
	}
	return &CompletionEngine{
		requests:     requests,
		transactions: transactions,
		tm:           tm,
		locker:       locker,
		calculator:   calculator,
		notifier:     notifier,
		autoComplete: cfg.AutoComplete,
		clock:        clock,
		logger:       logger.With().Str("component", "completion_engine").Logger(),
		metrics:      cfg.Metrics,
	}
}

// CompletePayment settles localID. A charge that is already completed returns its stored
// split with Replayed set and nothing is written. A charge completing for a request another
// charge already paid is settled, flagged for refund and reported as ErrDuplicatePayment.
func (e *CompletionEngine) CompletePayment(ctx context.Context, localID uuid.UUID, evidence VerifierEvidence) (*CompletionResult, error) {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "payment.complete")
	defer span.End()

	unlock, err := e.locker.Lock(ctx, transactionLockKey(localID.String()))
	if err != nil {
		e.metrics.RecordCompletion("busy", started)
		return nil, domainErrors.NewDomainError("conflict", "payment is already being processed", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn().Err(err).Str("transaction_id", localID.String()).Msg("failed to release payment lock")
		}
	}()

	var result *CompletionResult
	var requesterID, providerID uuid.UUID
	var duplicate error
	err = e.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		t, err := e.transactions.GetForUpdate(txCtx, localID)
		if err != nil {
			return err
		}

		if t.Status == payment.StatusCompleted {
			result, err = e.replay(txCtx, t)
			return err
		}
		if t.Kind != payment.KindCharge || t.Status != payment.StatusPending {
			return domainErrors.NewDomainError("invalid_transition",
				"payment is "+string(t.Status)+" and cannot be completed; start a new payment",
				domainErrors.ErrInvalidTransition)
		}

		split, err := e.calculator.Split(t.Amount)
		if err != nil {
			return err
		}

		now := e.clock()
		if err := t.Complete(split, evidence.GatewayRef, evidence.Raw, now); err != nil {
			return err
		}
		if err := e.transactions.Transition(txCtx, t, payment.StatusPending); err != nil {
			if errors.Is(err, domainErrors.ErrAlreadyCompleted) {
				stored, getErr := e.transactions.GetByID(txCtx, localID)
				if getErr != nil {
					return getErr
				}
				result, err = e.replay(txCtx, stored)
			}
			return err
		}

		sr, err := e.requests.GetForUpdate(txCtx, t.RequestID)
		if err != nil {
			return err
		}
		closed, err := sr.ApplyPayment(t.ID, split, e.autoComplete, now)
		if errors.Is(err, domainErrors.ErrDuplicatePayment) {
			// The gateway took the money, so the charge settles. The request keeps its first
			// settlement and this charge is flagged for refund.
			duplicate, requesterID = err, sr.RequesterID
			return e.transactions.AddEvent(txCtx, payment.NewEvent(t.ID, payment.EventDuplicate, map[string]any{
				"settled_by":   sr.PaymentTransactionID.String(),
				"gross":        split.Gross.StringFixed(commission.Places),
				"gateway_ref":  evidence.GatewayRef,
				"source":       evidence.Source,
				"needs_refund": true,
			}, now))
		}
		if err != nil {
			return err
		}
		if err := e.requests.Update(txCtx, sr); err != nil {
			return err
		}

		if err := e.transactions.AddEvent(txCtx, payment.NewEvent(t.ID, payment.EventCompleted, map[string]any{
			"gateway_ref":      evidence.GatewayRef,
			"source":           evidence.Source,
			"gross":            split.Gross.StringFixed(commission.Places),
			"admin_commission": split.Commission.StringFixed(commission.Places),
			"provider_amount":  split.ProviderAmount.StringFixed(commission.Places),
			"auto_completed":   closed,
		}, now)); err != nil {
			return err
		}

		requesterID = sr.RequesterID
		if sr.ProviderID != nil {
			providerID = *sr.ProviderID
		}
		result = &CompletionResult{
			TransactionID: t.ID,
			RequestID:     sr.ID,
			Split:         split,
			Currency:      t.Currency,
			AutoCompleted: closed,
			RequestStatus: sr.Status,
			PaymentStatus: sr.PaymentStatus,
		}
		return nil
	})
	if err != nil {
		err = e.classify(localID, err)
		e.metrics.RecordCompletion("error", started)
		return nil, err
	}

	if duplicate != nil {
		e.metrics.RecordCompletion("duplicate", started)
		e.logger.Error().
			Str("transaction_id", localID.String()).
			Msg("charge settled against an already paid request; refund required")
		e.notifier.Notify(ctx, requesterID, "Duplicate payment",
			"We received a second payment for this request. It will be refunded.", NotifyPaymentDuplicate)
		return nil, duplicate
	}
	if result.Replayed {
		e.metrics.RecordCompletion("replayed", started)
		return result, nil
	}

	e.metrics.RecordCompletion("completed", started)
	e.metrics.RecordCommission(result.Currency, result.Split.Commission)
	e.logger.Info().
		Str("transaction_id", localID.String()).
		Str("request_id", result.RequestID.String()).
		Str("gross", result.Split.Gross.StringFixed(commission.Places)).
		Str("admin_commission", result.Split.Commission.StringFixed(commission.Places)).
		Bool("auto_completed", result.AutoCompleted).
		Msg("payment completed")

	e.notifier.Notify(ctx, requesterID, "Payment received",
		"Your payment of "+result.Split.Gross.StringFixed(commission.Places)+" was received.", NotifyPaymentCompleted)
	e.notifier.Notify(ctx, providerID, "Payment received",
		"The requester paid. Your payout is "+result.Split.ProviderAmount.StringFixed(commission.Places)+".", NotifyPaymentCompleted)
	if result.AutoCompleted {
		e.notifier.Notify(ctx, requesterID, "Request completed", "Your service request is now completed.", NotifyRequestCompleted)
		e.notifier.Notify(ctx, providerID, "Request completed", "The service request is now completed.", NotifyRequestCompleted)
	}
	return result, nil
}

func (e *CompletionEngine) replay(ctx context.Context, t *payment.Transaction) (*CompletionResult, error) {
	split, ok := t.StoredSplit()
	if !ok {
		return nil, domainErrors.Persistence("replay completion",
			errors.New("completed transaction "+t.ID.String()+" has no stored split"))
	}
	sr, err := e.requests.GetByID(ctx, t.RequestID)
	if err != nil {
		return nil, err
	}
	if sr.PaidByOther(t.ID) {
		return nil, domainErrors.NewDomainError("conflict",
			"this request has already been paid; the duplicate payment will be refunded", domainErrors.ErrDuplicatePayment)
	}
	return &CompletionResult{
		TransactionID: t.ID,
		RequestID:     t.RequestID,
		Split:         split,
		Currency:      t.Currency,
		Replayed:      true,
		RequestStatus: sr.Status,
		PaymentStatus: sr.PaymentStatus,
	}, nil
}

// classify keeps business errors as they are; anything unclassified happened while writing
// and is reported as a retryable persistence failure.
func (e *CompletionEngine) classify(localID uuid.UUID, err error) error {
	kind := domainErrors.KindOf(err)
	if kind == domainErrors.KindInternal {
		err = domainErrors.Persistence("complete payment "+localID.String(), err)
		kind = domainErrors.KindPersistence
	}
	if kind == domainErrors.KindPersistence {
		e.logger.Error().Err(err).
			Str("transaction_id", localID.String()).
			Msg("payment completion rolled back; transaction left pending")
	}
	return err
}
