package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskerhub/marketplace/internal/domain/commission"
	"github.com/taskerhub/marketplace/internal/domain/errors"
)

// Kind tags a ledger entry as money collected or money returned.
type Kind string

const (
	KindCharge Kind = "charge"
	KindRefund Kind = "refund"
)

// Status represents the transaction status in the state machine
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Valid reports whether s is a declared status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// maxExternalIDLen is the longest merchant transaction id hosted checkouts accept.
const maxExternalIDLen = 30

// Transaction is one attempt to collect money for a request, or one refund of such an attempt.
// Refunds carry a negative Amount and point at the charge through RefundOf.
type Transaction struct {
	ID              uuid.UUID
	ExternalID      string
	RequestID       uuid.UUID
	PayerID         uuid.UUID
	Kind            Kind
	Amount          decimal.Decimal
	Currency        string
	Method          string
	Status          Status
	AdminCommission decimal.NullDecimal
	ProviderAmount  decimal.NullDecimal
	GatewayRef      *string
	GatewayResponse *string
	FailureReason   *string
	RefundReason    *string
	RefundOf        *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	LastCheckedAt   *time.Time // last reconciliation lookup of a pending charge
}

// ReasonSuperseded prefixes the failure reason of a charge replaced by a newer checkout.
const ReasonSuperseded = "superseded"

// NewCharge creates a pending charge. The external id is derived from the local id so it is
// known before any gateway call.
func NewCharge(requestID, payerID uuid.UUID, amount decimal.Decimal, currency, method string, now time.Time) (*Transaction, error) {
	if err := validateAmount(amount, currency); err != nil {
		return nil, err
	}

	id := uuid.New()
	return &Transaction{
		ID:         id,
		ExternalID: externalID("TXN-", id),
		RequestID:  requestID,
		PayerID:    payerID,
		Kind:       KindCharge,
		Amount:     amount.Round(commission.Places),
		Currency:   strings.ToUpper(currency),
		Method:     method,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NewRefund appends a refund entry for a completed charge. The charge itself is not modified.
func NewRefund(charge *Transaction, reason string, now time.Time) (*Transaction, error) {
	if charge.Kind != KindCharge || charge.Status != StatusCompleted {
		return nil, errors.NewDomainError("invalid_transition", "only completed charges can be refunded", errors.ErrInvalidTransition)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.NewValidationError("reason", "is required")
	}

	id := uuid.New()
	chargeID := charge.ID
	return &Transaction{
		ID:           id,
		ExternalID:   externalID("RFD-", id),
		RequestID:    charge.RequestID,
		PayerID:      charge.PayerID,
		Kind:         KindRefund,
		Amount:       charge.Amount.Neg(),
		Currency:     charge.Currency,
		Method:       charge.Method,
		Status:       StatusRefunded,
		RefundReason: &reason,
		RefundOf:     &chargeID,
		CreatedAt:    now,
		UpdatedAt:    now,
		CompletedAt:  &now,
	}, nil
}

// CorrelationToken is the opaque value round-tripped through the gateway's custom field.
func (t *Transaction) CorrelationToken() string {
	return t.ID.String()
}

// CanTransitionTo checks if the transaction can move to the given status
func (t *Transaction) CanTransitionTo(newStatus Status) bool {
	transitions := map[Status][]Status{
		StatusPending: {
			StatusCompleted,
			StatusFailed,
		},
		StatusCompleted: {}, // refunds are separate entries
		StatusFailed:    {},
		StatusRefunded:  {},
	}

	for _, allowed := range transitions[t.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// Complete settles a pending charge with split. Completing an already completed charge
// returns ErrAlreadyCompleted and leaves the stored split untouched.
func (t *Transaction) Complete(split commission.Split, gatewayRef, evidence string, now time.Time) error {
	if t.Status == StatusCompleted {
		return errors.ErrAlreadyCompleted
	}
	if t.Kind != KindCharge {
		return errors.NewDomainError("invalid_transition", "refund entries cannot be completed", errors.ErrInvalidTransition)
	}
	if !split.Gross.Equal(t.Amount) {
		return fmt.Errorf("split gross %s does not match amount %s: %w", split.Gross, t.Amount, errors.ErrInvalidAmount)
	}
	if err := t.transitionTo(StatusCompleted, now); err != nil {
		return err
	}

	t.AdminCommission = decimal.NewNullDecimal(split.Commission)
	t.ProviderAmount = decimal.NewNullDecimal(split.ProviderAmount)
	if gatewayRef != "" {
		t.GatewayRef = &gatewayRef
	}
	if evidence != "" {
		t.GatewayResponse = &evidence
	}
	t.CompletedAt = &now
	return nil
}

// Fail marks a pending charge as definitively failed.
func (t *Transaction) Fail(reason, evidence string, now time.Time) error {
	if err := t.transitionTo(StatusFailed, now); err != nil {
		return err
	}
	t.FailureReason = &reason
	if evidence != "" {
		t.GatewayResponse = &evidence
	}
	return nil
}

// Supersede fails a pending charge that a newer checkout for the same request replaces.
func (t *Transaction) Supersede(by uuid.UUID, now time.Time) error {
	return t.Fail(ReasonSuperseded+" by "+by.String(), "", now)
}

// Superseded reports whether t failed because a newer checkout replaced it.
func (t *Transaction) Superseded() bool {
	return t.Status == StatusFailed && t.FailureReason != nil && strings.HasPrefix(*t.FailureReason, ReasonSuperseded)
}

// StoredSplit returns the split recorded at completion.
func (t *Transaction) StoredSplit() (commission.Split, bool) {
	if t.Status != StatusCompleted || !t.AdminCommission.Valid || !t.ProviderAmount.Valid {
		return commission.Split{}, false
	}
	return commission.Split{
		Gross:          t.Amount,
		Commission:     t.AdminCommission.Decimal,
		ProviderAmount: t.ProviderAmount.Decimal,
	}, true
}

// IsPending reports whether the transaction still awaits a verdict.
func (t *Transaction) IsPending() bool {
	return t.Status == StatusPending
}

func (t *Transaction) transitionTo(newStatus Status, now time.Time) error {
	if !t.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition transaction from "+string(t.Status)+" to "+string(newStatus),
			errors.ErrInvalidTransition,
		)
	}
	t.Status = newStatus
	t.UpdatedAt = now
	return nil
}

func externalID(prefix string, id uuid.UUID) string {
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return (prefix + hex)[:maxExternalIDLen]
}

func validateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if !amount.Equal(amount.Round(commission.Places)) {
		return errors.NewValidationError("amount", "must have at most 2 decimal places")
	}
	if currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	// Simple currency validation (3-letter code)
	if len(currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}
