package servicerequest

import "github.com/google/uuid"

// CompletionStatus tells a caller which lifecycle actions are currently open to them.
type CompletionStatus struct {
	CurrentStatus        Status
	PaymentStatus        PaymentStatus
	Party                Party
	CanMarkInProgress    bool
	CanRequestCompletion bool
	CanApproveCompletion bool
	CanRejectCompletion  bool
	CanMarkCompleted     bool
	CanCancel            bool
}

// CompletionStatusFor evaluates every guard for viewerID without mutating the request.
func (r *ServiceRequest) CompletionStatusFor(viewerID uuid.UUID) CompletionStatus {
	party := r.PartyOf(viewerID)
	paid := r.PaymentStatus == PaymentPaid
	isParty := party != PartyNone
	awaitingViewer := r.Status.IsCompletionRequested() && requestingParty(r.Status).other() == party

	return CompletionStatus{
		CurrentStatus:        r.Status,
		PaymentStatus:        r.PaymentStatus,
		Party:                party,
		CanMarkInProgress:    party == PartyProvider && CanFire(r.Status, EventMarkInProgress),
		CanRequestCompletion: isParty && paid && CanFire(r.Status, EventRequestCompletion),
		CanApproveCompletion: isParty && paid && awaitingViewer,
		CanRejectCompletion:  isParty && awaitingViewer,
		CanMarkCompleted:     isParty && paid && CanFire(r.Status, EventMarkCompleted),
		CanCancel:            isParty && CanFire(r.Status, EventCancel),
	}
}
