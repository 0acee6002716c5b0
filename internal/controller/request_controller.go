package controller

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/service"
)

// RequestController handles service request lifecycle endpoints.
type RequestController struct {
	lifecycle *service.LifecycleService
}

func NewRequestController(lifecycle *service.LifecycleService) *RequestController {
	return &RequestController{lifecycle: lifecycle}
}

// Create handles POST /api/v1/requests
func (h *RequestController) Create(w http.ResponseWriter, r *http.Request) {
	actorID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateServiceRequestRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := service.CreateRequestInput{
		Title:       req.Title,
		Description: req.Description,
		Budget:      req.Budget,
	}
	if req.CategoryID != nil {
		id, err := parseUUID("category_id", *req.CategoryID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.CategoryID = &id
	}

	sr, err := h.lifecycle.CreateRequest(r.Context(), actorID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromServiceRequest(sr))
}

// Get handles GET /api/v1/requests/{id}
func (h *RequestController) Get(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.lifecycle.Get)
}

// CompletionStatus handles GET /api/v1/requests/{id}/completion-status
func (h *RequestController) CompletionStatus(w http.ResponseWriter, r *http.Request) {
	actorID, requestID, ok := h.ids(w, r)
	if !ok {
		return
	}
	cs, err := h.lifecycle.CompletionStatus(r.Context(), actorID, requestID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromCompletionStatus(cs))
}

// Transactions handles GET /api/v1/requests/{id}/transactions
func (h *RequestController) Transactions(w http.ResponseWriter, r *http.Request) {
	actorID, requestID, ok := h.ids(w, r)
	if !ok {
		return
	}
	txs, err := h.lifecycle.ListTransactions(r.Context(), actorID, requestID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]*TransactionResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, FromTransaction(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Accept handles POST /api/v1/requests/{id}/accept
func (h *RequestController) Accept(w http.ResponseWriter, r *http.Request) {
	var req AcceptRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.view(w, r, func(ctx context.Context, actorID, requestID uuid.UUID) (*servicerequest.ServiceRequest, error) {
		return h.lifecycle.Accept(ctx, actorID, requestID, req.AgreedPrice)
	})
}

// MarkInProgress handles POST /api/v1/requests/{id}/mark-in-progress
func (h *RequestController) MarkInProgress(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.lifecycle.MarkInProgress)
}

// RequestCompletion handles POST /api/v1/requests/{id}/request-completion
func (h *RequestController) RequestCompletion(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.lifecycle.RequestCompletion)
}

// ApproveCompletion handles POST /api/v1/requests/{id}/approve-completion
func (h *RequestController) ApproveCompletion(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.lifecycle.ApproveCompletion)
}

// RejectCompletion handles POST /api/v1/requests/{id}/reject-completion
func (h *RequestController) RejectCompletion(w http.ResponseWriter, r *http.Request) {
	var req RejectCompletionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.view(w, r, func(ctx context.Context, actorID, requestID uuid.UUID) (*servicerequest.ServiceRequest, error) {
		return h.lifecycle.RejectCompletion(ctx, actorID, requestID, req.Reason)
	})
}

// MarkCompleted handles POST /api/v1/requests/{id}/mark-completed
func (h *RequestController) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.lifecycle.MarkCompleted)
}

// Cancel handles POST /api/v1/requests/{id}/cancel
func (h *RequestController) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.view(w, r, func(ctx context.Context, actorID, requestID uuid.UUID) (*servicerequest.ServiceRequest, error) {
		return h.lifecycle.Cancel(ctx, actorID, requestID, req.Reason)
	})
}

type requestAction func(ctx context.Context, actorID, requestID uuid.UUID) (*servicerequest.ServiceRequest, error)

func (h *RequestController) view(w http.ResponseWriter, r *http.Request, action requestAction) {
	actorID, requestID, ok := h.ids(w, r)
	if !ok {
		return
	}
	sr, err := action(r.Context(), actorID, requestID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromServiceRequest(sr))
}

func (h *RequestController) ids(w http.ResponseWriter, r *http.Request) (actorID, requestID uuid.UUID, ok bool) {
	actorID, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return uuid.Nil, uuid.Nil, false
	}
	requestID, err = pathID(r)
	if err != nil {
		writeError(w, r, err)
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, requestID, true
}
