package controller

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskerhub/marketplace/internal/domain/commission"
	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/service"
)

// --- Request DTOs ---
// Money crosses the wire as a decimal string ("1000.00"); numbers are accepted on input too.

// CreateServiceRequestRequest holds the input for posting a service request.
type CreateServiceRequestRequest struct {
	Title       string              `json:"title" validate:"required,max=200"`
	Description string              `json:"description" validate:"max=5000"`
	CategoryID  *string             `json:"category_id,omitempty" validate:"omitempty,uuid"`
	Budget      decimal.NullDecimal `json:"budget"`
}

// AcceptRequest optionally carries a negotiated price.
type AcceptRequest struct {
	AgreedPrice decimal.NullDecimal `json:"agreed_price"`
}

// RejectCompletionRequest explains why the requester is not satisfied.
type RejectCompletionRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// CancelRequest carries an optional cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// CustomerInfo is forwarded to the hosted checkout.
type CustomerInfo struct {
	Name     string `json:"name" validate:"max=100"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"max=30"`
	Address  string `json:"address" validate:"max=255"`
	City     string `json:"city" validate:"max=100"`
	Postcode string `json:"postcode" validate:"max=20"`
	Country  string `json:"country" validate:"max=60"`
}

// CreateSessionRequest opens a checkout for a request.
type CreateSessionRequest struct {
	RequestID string              `json:"request_id" validate:"required,uuid"`
	Amount    decimal.NullDecimal `json:"amount"`
	Method    string              `json:"method" validate:"max=50"`
	Customer  CustomerInfo        `json:"customer"`
}

// RefundRequest holds the admin's refund reason.
type RefundRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// --- Response DTOs ---

// AssignmentResponse is the provider bound to a request.
type AssignmentResponse struct {
	ProviderID  string           `json:"provider_id"`
	AgreedPrice *decimal.Decimal `json:"agreed_price,omitempty"`
	Status      string           `json:"status"`
	AcceptedAt  time.Time        `json:"accepted_at"`
}

// ServiceRequestResponse represents a service request in API responses.
type ServiceRequestResponse struct {
	ID                        string              `json:"id"`
	Title                     string              `json:"title"`
	Description               string              `json:"description"`
	CategoryID                *string             `json:"category_id,omitempty"`
	RequesterID               string              `json:"requester_id"`
	ProviderID                *string             `json:"provider_id,omitempty"`
	Status                    string              `json:"status"`
	PaymentStatus             string              `json:"payment_status"`
	Budget                    *decimal.Decimal    `json:"budget,omitempty"`
	PaymentAmount             *decimal.Decimal    `json:"payment_amount,omitempty"`
	AdminCommission           *decimal.Decimal    `json:"admin_commission,omitempty"`
	ProviderAmount            *decimal.Decimal    `json:"provider_amount,omitempty"`
	PaymentTransactionID      *string             `json:"payment_transaction_id,omitempty"`
	CancellationReason        *string             `json:"cancellation_reason,omitempty"`
	CompletionRejectionReason *string             `json:"completion_rejection_reason,omitempty"`
	Assignment                *AssignmentResponse `json:"assignment,omitempty"`
	Version                   int                 `json:"version"`
	CreatedAt                 time.Time           `json:"created_at"`
	UpdatedAt                 time.Time           `json:"updated_at"`
	PaidAt                    *time.Time          `json:"paid_at,omitempty"`
	CompletedAt               *time.Time          `json:"completed_at,omitempty"`
	CancelledAt               *time.Time          `json:"cancelled_at,omitempty"`
}

// CompletionStatusResponse lists what the caller may do next.
type CompletionStatusResponse struct {
	CurrentStatus        string `json:"current_status"`
	PaymentStatus        string `json:"payment_status"`
	Party                string `json:"party"`
	CanMarkInProgress    bool   `json:"can_mark_in_progress"`
	CanRequestCompletion bool   `json:"can_request_completion"`
	CanApproveCompletion bool   `json:"can_approve_completion"`
	CanRejectCompletion  bool   `json:"can_reject_completion"`
	CanMarkCompleted     bool   `json:"can_mark_completed"`
	CanCancel            bool   `json:"can_cancel"`
}

// TransactionResponse represents a ledger entry.
type TransactionResponse struct {
	ID              string           `json:"id"`
	ExternalID      string           `json:"external_id"`
	RequestID       string           `json:"request_id"`
	Kind            string           `json:"kind"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	Method          string           `json:"method,omitempty"`
	Status          string           `json:"status"`
	AdminCommission *decimal.Decimal `json:"admin_commission,omitempty"`
	ProviderAmount  *decimal.Decimal `json:"provider_amount,omitempty"`
	GatewayRef      *string          `json:"gateway_ref,omitempty"`
	FailureReason   *string          `json:"failure_reason,omitempty"`
	RefundOf        *string          `json:"refund_of,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// SessionResponse is an opened checkout.
type SessionResponse struct {
	TransactionID string          `json:"local_transaction_id"`
	ExternalID    string          `json:"external_transaction_id"`
	RedirectURL   string          `json:"redirect_url"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// CallbackResponse acknowledges gateway evidence.
type CallbackResponse struct {
	Outcome       string           `json:"outcome"`
	Message       string           `json:"message"`
	TransactionID string           `json:"transaction_id,omitempty"`
	RequestID     string           `json:"request_id,omitempty"`
	Commission    *decimal.Decimal `json:"admin_commission,omitempty"`
	Provider      *decimal.Decimal `json:"provider_amount,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromServiceRequest converts a domain request to its API response.
func FromServiceRequest(sr *servicerequest.ServiceRequest) *ServiceRequestResponse {
	resp := &ServiceRequestResponse{
		ID:                        sr.ID.String(),
		Title:                     sr.Title,
		Description:               sr.Description,
		RequesterID:               sr.RequesterID.String(),
		Status:                    string(sr.Status),
		PaymentStatus:             string(sr.PaymentStatus),
		Budget:                    money(sr.Budget),
		PaymentAmount:             money(sr.PaymentAmount),
		AdminCommission:           money(sr.AdminCommission),
		ProviderAmount:            money(sr.ProviderAmount),
		CancellationReason:        sr.CancellationReason,
		CompletionRejectionReason: sr.CompletionRejectionReason,
		Version:                   sr.Version,
		CreatedAt:                 sr.CreatedAt,
		UpdatedAt:                 sr.UpdatedAt,
		PaidAt:                    sr.PaidAt,
		CompletedAt:               sr.CompletedAt,
		CancelledAt:               sr.CancelledAt,
	}
	if sr.CategoryID != nil {
		id := sr.CategoryID.String()
		resp.CategoryID = &id
	}
	if sr.ProviderID != nil {
		id := sr.ProviderID.String()
		resp.ProviderID = &id
	}
	if sr.PaymentTransactionID != nil {
		id := sr.PaymentTransactionID.String()
		resp.PaymentTransactionID = &id
	}
	if a := sr.Assignment; a != nil {
		resp.Assignment = &AssignmentResponse{
			ProviderID:  a.ProviderID.String(),
			AgreedPrice: money(a.AgreedPrice),
			Status:      string(a.Status),
			AcceptedAt:  a.AcceptedAt,
		}
	}
	return resp
}

// FromCompletionStatus converts the guard evaluation to its API response.
func FromCompletionStatus(cs servicerequest.CompletionStatus) *CompletionStatusResponse {
	return &CompletionStatusResponse{
		CurrentStatus:        string(cs.CurrentStatus),
		PaymentStatus:        string(cs.PaymentStatus),
		Party:                cs.Party.String(),
		CanMarkInProgress:    cs.CanMarkInProgress,
		CanRequestCompletion: cs.CanRequestCompletion,
		CanApproveCompletion: cs.CanApproveCompletion,
		CanRejectCompletion:  cs.CanRejectCompletion,
		CanMarkCompleted:     cs.CanMarkCompleted,
		CanCancel:            cs.CanCancel,
	}
}

// FromTransaction converts a ledger entry to its API response.
func FromTransaction(t *payment.Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		ID:              t.ID.String(),
		ExternalID:      t.ExternalID,
		RequestID:       t.RequestID.String(),
		Kind:            string(t.Kind),
		Amount:          t.Amount.Round(commission.Places),
		Currency:        t.Currency,
		Method:          t.Method,
		Status:          string(t.Status),
		AdminCommission: money(t.AdminCommission),
		ProviderAmount:  money(t.ProviderAmount),
		GatewayRef:      t.GatewayRef,
		FailureReason:   t.FailureReason,
		CreatedAt:       t.CreatedAt,
		CompletedAt:     t.CompletedAt,
	}
	if t.RefundOf != nil {
		id := t.RefundOf.String()
		resp.RefundOf = &id
	}
	return resp
}

// FromSession converts an opened checkout to its API response.
func FromSession(s *service.SessionResult) *SessionResponse {
	return &SessionResponse{
		TransactionID: s.TransactionID.String(),
		ExternalID:    s.ExternalID,
		RedirectURL:   s.RedirectURL,
		Amount:        s.Amount.Round(commission.Places),
		Currency:      s.Currency,
	}
}

// FromVerifyResult converts a reconciliation result to the callback acknowledgement.
func FromVerifyResult(v *service.VerifyResult) *CallbackResponse {
	resp := &CallbackResponse{
		Outcome:       string(v.Outcome),
		Message:       v.Message,
		TransactionID: v.TransactionID.String(),
		RequestID:     v.RequestID.String(),
	}
	if c := v.Completion; c != nil {
		commissionAmt := c.Split.Commission
		providerAmt := c.Split.ProviderAmount
		resp.Commission = &commissionAmt
		resp.Provider = &providerAmt
	}
	return resp
}

func money(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.Round(commission.Places)
	return &v
}
