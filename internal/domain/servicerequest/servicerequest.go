package servicerequest

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskerhub/marketplace/internal/domain/commission"
	"github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/user"
)

// ServiceRequest is the unit of work posted by a requester and fulfilled by one provider.
type ServiceRequest struct {
	ID                        uuid.UUID
	Title                     string
	Description               string
	CategoryID                *uuid.UUID
	RequesterID               uuid.UUID
	ProviderID                *uuid.UUID
	Status                    Status
	Budget                    decimal.NullDecimal
	PaymentStatus             PaymentStatus
	PaymentTransactionID      *uuid.UUID
	PaymentAmount             decimal.NullDecimal
	AdminCommission           decimal.NullDecimal
	ProviderAmount            decimal.NullDecimal
	PaidAt                    *time.Time
	CancellationReason        *string
	CompletionRejectionReason *string
	Version                   int
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
	CompletedAt               *time.Time
	CancelledAt               *time.Time

	Assignment *AcceptedAssignment
}

// AcceptedAssignment binds one provider to one request.
type AcceptedAssignment struct {
	ID          uuid.UUID
	RequestID   uuid.UUID
	ProviderID  uuid.UUID
	Status      AssignmentStatus
	AgreedPrice decimal.NullDecimal
	AcceptedAt  time.Time
	UpdatedAt   time.Time
}

// New creates a pending request owned by requesterID.
func New(requesterID uuid.UUID, title, description string, categoryID *uuid.UUID, budget decimal.NullDecimal, now time.Time) (*ServiceRequest, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.NewValidationError("title", "is required")
	}
	if budget.Valid && !budget.Decimal.IsPositive() {
		return nil, errors.NewValidationError("budget", "must be greater than 0")
	}
	if budget.Valid {
		budget.Decimal = budget.Decimal.Round(commission.Places)
	}

	return &ServiceRequest{
		ID:            uuid.New(),
		Title:         title,
		Description:   description,
		CategoryID:    categoryID,
		RequesterID:   requesterID,
		Status:        StatusPending,
		Budget:        budget,
		PaymentStatus: PaymentUnset,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// PartyOf returns the role userID plays on this request.
func (r *ServiceRequest) PartyOf(userID uuid.UUID) Party {
	switch {
	case userID == r.RequesterID:
		return PartyRequester
	case r.ProviderID != nil && userID == *r.ProviderID:
		return PartyProvider
	default:
		return PartyNone
	}
}

// PayableAmount is the agreed price when one was set at acceptance, otherwise the budget.
func (r *ServiceRequest) PayableAmount() decimal.NullDecimal {
	if r.Assignment != nil && r.Assignment.AgreedPrice.Valid {
		return r.Assignment.AgreedPrice
	}
	return r.Budget
}

// Accept assigns provider to a pending request. agreedPrice, when valid, overrides the budget.
func (r *ServiceRequest) Accept(provider *user.User, agreedPrice decimal.NullDecimal, now time.Time) error {
	if provider == nil || !provider.CanProvide() {
		return unauthorized("only approved providers can accept requests")
	}
	if provider.ID == r.RequesterID {
		return unauthorized("you cannot accept your own request")
	}
	if r.Assignment != nil || r.ProviderID != nil {
		return errors.NewDomainError("conflict", "this request is no longer available", errors.ErrAlreadyAssigned)
	}
	if err := r.checkState(EventAccept); err != nil {
		return err
	}
	if agreedPrice.Valid {
		if !agreedPrice.Decimal.IsPositive() {
			return errors.NewValidationError("agreed_price", "must be greater than 0")
		}
		agreedPrice.Decimal = agreedPrice.Decimal.Round(commission.Places)
	}

	providerID := provider.ID
	r.ProviderID = &providerID
	r.Assignment = &AcceptedAssignment{
		ID:          uuid.New(),
		RequestID:   r.ID,
		ProviderID:  providerID,
		AgreedPrice: agreedPrice,
		AcceptedAt:  now,
	}
	r.setStatus(StatusAccepted, now)
	return nil
}

// MarkInProgress is fired by the assigned provider once work starts.
func (r *ServiceRequest) MarkInProgress(actorID uuid.UUID, now time.Time) error {
	if r.PartyOf(actorID) != PartyProvider {
		return unauthorized("only the assigned provider can start work")
	}
	if err := r.checkState(EventMarkInProgress); err != nil {
		return err
	}
	r.setStatus(StatusInProgress, now)
	return nil
}

// RequestCompletion asks the other party to confirm the work is done.
func (r *ServiceRequest) RequestCompletion(actorID uuid.UUID, now time.Time) error {
	party := r.PartyOf(actorID)
	if party == PartyNone {
		return unauthorized("only the requester or the assigned provider can request completion")
	}
	if err := r.checkState(EventRequestCompletion); err != nil {
		return err
	}
	if err := r.checkPaid(); err != nil {
		return err
	}
	r.setStatus(completionRequestedBy(party), now)
	return nil
}

// ApproveCompletion confirms a completion request raised by the other party.
func (r *ServiceRequest) ApproveCompletion(actorID uuid.UUID, now time.Time) error {
	if err := r.checkConfirmation(actorID, EventApproveCompletion); err != nil {
		return err
	}
	if err := r.checkPaid(); err != nil {
		return err
	}
	r.complete(now)
	return nil
}

// RejectCompletion sends the request back to in-progress with the counterpart's reason.
func (r *ServiceRequest) RejectCompletion(actorID uuid.UUID, reason string, now time.Time) error {
	if err := r.checkConfirmation(actorID, EventRejectCompletion); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.NewValidationError("reason", "is required")
	}
	r.CompletionRejectionReason = &reason
	r.setStatus(StatusInProgress, now)
	return nil
}

// MarkCompleted closes an in-progress request directly, without the confirmation round-trip.
func (r *ServiceRequest) MarkCompleted(actorID uuid.UUID, now time.Time) error {
	if r.PartyOf(actorID) == PartyNone {
		return unauthorized("only the requester or the assigned provider can complete this request")
	}
	if err := r.checkState(EventMarkCompleted); err != nil {
		return err
	}
	if err := r.checkPaid(); err != nil {
		return err
	}
	r.complete(now)
	return nil
}

// Cancel moves any non-terminal request to Cancelled.
func (r *ServiceRequest) Cancel(actorID uuid.UUID, reason string, now time.Time) error {
	if r.PartyOf(actorID) == PartyNone {
		return unauthorized("only the requester or the assigned provider can cancel this request")
	}
	if err := r.checkState(EventCancel); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason != "" {
		r.CancellationReason = &reason
	}
	r.CancelledAt = &now
	r.setStatus(StatusCancelled, now)
	return nil
}

// MarkPaymentPending records that a checkout session was opened for txID.
func (r *ServiceRequest) MarkPaymentPending(txID uuid.UUID, now time.Time) error {
	if r.PaymentStatus == PaymentPaid || r.PaymentStatus == PaymentRefunded {
		return errors.NewDomainError("conflict", "this request has already been paid", errors.ErrConflict)
	}
	if r.Status.IsTerminal() {
		return invalidTransition("payment cannot be started in current status", r.Status)
	}
	r.PaymentStatus = PaymentPending
	r.PaymentTransactionID = &txID
	r.UpdatedAt = now
	return nil
}

// MarkPaymentFailed records a definitive gateway failure for txID.
func (r *ServiceRequest) MarkPaymentFailed(txID uuid.UUID, now time.Time) {
	if r.PaymentStatus == PaymentPaid || r.PaymentStatus == PaymentRefunded {
		return
	}
	r.PaymentStatus = PaymentFailed
	r.PaymentTransactionID = &txID
	r.UpdatedAt = now
}

// PaidByOther reports whether a charge other than txID already settled the request.
func (r *ServiceRequest) PaidByOther(txID uuid.UUID) bool {
	if r.PaymentStatus != PaymentPaid && r.PaymentStatus != PaymentRefunded {
		return false
	}
	return r.PaymentTransactionID != nil && *r.PaymentTransactionID != txID
}

// ApplyPayment stamps a completed settlement onto the request. When autoComplete is set and the
// request is not terminal, payment also closes the request. It reports whether the status changed.
// A request settles once: a second charge gets ErrDuplicatePayment and the request is untouched.
func (r *ServiceRequest) ApplyPayment(txID uuid.UUID, split commission.Split, autoComplete bool, now time.Time) (bool, error) {
	if r.PaidByOther(txID) {
		return false, errors.NewDomainError("conflict",
			"this request has already been paid; the duplicate payment will be refunded", errors.ErrDuplicatePayment)
	}
	r.PaymentStatus = PaymentPaid
	r.PaymentTransactionID = &txID
	r.PaymentAmount = decimal.NewNullDecimal(split.Gross)
	r.AdminCommission = decimal.NewNullDecimal(split.Commission)
	r.ProviderAmount = decimal.NewNullDecimal(split.ProviderAmount)
	r.PaidAt = &now
	r.UpdatedAt = now

	if !autoComplete || r.Status.IsTerminal() {
		return false, nil
	}
	r.complete(now)
	return true, nil
}

// MarkRefunded flips a cancelled, paid request to Refunded.
func (r *ServiceRequest) MarkRefunded(now time.Time) error {
	if r.Status != StatusCancelled {
		return invalidTransition("only cancelled requests can be refunded", r.Status)
	}
	if r.PaymentStatus != PaymentPaid {
		return errors.NewDomainError("invalid_transition", "request has no settled payment to refund", errors.ErrInvalidTransition)
	}
	r.PaymentStatus = PaymentRefunded
	r.UpdatedAt = now
	return nil
}

func (r *ServiceRequest) checkConfirmation(actorID uuid.UUID, event Event) error {
	party := r.PartyOf(actorID)
	if party == PartyNone {
		return unauthorized("only the requester or the assigned provider can respond to a completion request")
	}
	if err := r.checkState(event); err != nil {
		return err
	}
	if requestingParty(r.Status).other() != party {
		return unauthorized("the other party must respond to this completion request")
	}
	return nil
}

func (r *ServiceRequest) checkState(event Event) error {
	if CanFire(r.Status, event) {
		return nil
	}
	return invalidTransition(transitionMessage(event), r.Status)
}

func (r *ServiceRequest) checkPaid() error {
	if r.PaymentStatus != PaymentPaid {
		return errors.NewDomainError("payment_required", "payment required before completion", errors.ErrPaymentRequired)
	}
	return nil
}

func (r *ServiceRequest) complete(now time.Time) {
	r.CompletedAt = &now
	r.setStatus(StatusCompleted, now)
}

// setStatus moves the request and keeps the assignment in lockstep.
func (r *ServiceRequest) setStatus(s Status, now time.Time) {
	r.Status = s
	r.UpdatedAt = now
	if r.Assignment != nil {
		r.Assignment.Status = assignmentStatusFor(s)
		r.Assignment.UpdatedAt = now
	}
}

func transitionMessage(event Event) string {
	switch event {
	case EventAccept:
		return "request cannot be accepted in current status"
	case EventMarkInProgress:
		return "request cannot be started in current status"
	case EventRequestCompletion:
		return "completion cannot be requested in current status"
	case EventApproveCompletion, EventRejectCompletion:
		return "there is no pending completion request"
	case EventMarkCompleted:
		return "request cannot be completed in current status"
	case EventCancel:
		return "request cannot be cancelled in current status"
	default:
		return "transition not allowed in current status"
	}
}

func invalidTransition(message string, from Status) error {
	return errors.NewDomainError("invalid_transition", message+" ("+string(from)+")", errors.ErrInvalidTransition)
}

func unauthorized(message string) error {
	return errors.NewDomainError("unauthorized", message, errors.ErrUnauthorized)
}
