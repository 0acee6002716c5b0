package controller

import (
	"net/http"

	"github.com/rs/zerolog/log"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/gateway"
	"github.com/taskerhub/marketplace/internal/service"
)

// PaymentController handles checkout, gateway callbacks and refunds.
type PaymentController struct {
	payments *service.PaymentService
}

func NewPaymentController(payments *service.PaymentService) *PaymentController {
	return &PaymentController{payments: payments}
}

// CreateSession handles POST /api/v1/payments/sessions
func (h *PaymentController) CreateSession(w http.ResponseWriter, r *http.Request) {
	actorID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	requestID, err := parseUUID("request_id", req.RequestID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.payments.CreateSession(r.Context(), actorID, service.CreateSessionInput{
		RequestID: requestID,
		Amount:    req.Amount,
		Method:    req.Method,
		Customer: gateway.Customer{
			Name:     req.Customer.Name,
			Email:    req.Customer.Email,
			Phone:    req.Customer.Phone,
			Address:  req.Customer.Address,
			City:     req.Customer.City,
			Postcode: req.Customer.Postcode,
			Country:  req.Customer.Country,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromSession(res))
}

// Callback handles GET and POST /api/v1/payments/callback. The gateway retries anything but a
// 200, so every parseable payload is acknowledged with 200 whatever the business outcome.
func (h *PaymentController) Callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, domainErrors.NewValidationError("body", "unreadable callback payload"))
		return
	}
	ev, err := gateway.ParseCallback(r.Form)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.payments.Verify(r.Context(), ev)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).
			Str("shape", string(ev.Shape)).
			Str("transaction_id", ev.TransactionID).
			Msg("callback not applied")
		writeJSON(w, http.StatusOK, CallbackResponse{
			Outcome: "rejected",
			Message: domainErrors.UserMessage(err, callbackMessage(err)),
		})
		return
	}
	writeJSON(w, http.StatusOK, FromVerifyResult(res))
}

// Refund handles POST /api/v1/payments/{id}/refund
func (h *PaymentController) Refund(w http.ResponseWriter, r *http.Request) {
	actorID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	chargeID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RefundRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	refund, err := h.payments.Refund(r.Context(), actorID, chargeID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromTransaction(refund))
}

func callbackMessage(err error) string {
	switch domainErrors.KindOf(err) {
	case domainErrors.KindNotFound:
		return "unknown transaction"
	case domainErrors.KindConflict, domainErrors.KindAlreadyCompleted:
		return "already processed"
	default:
		return service.MessagePendingVerification
	}
}
