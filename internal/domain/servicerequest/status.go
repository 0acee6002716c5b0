package servicerequest

// Status is the lifecycle state of a service request.
type Status string

const (
	StatusPending                        Status = "pending"
	StatusAccepted                       Status = "accepted"
	StatusInProgress                     Status = "in_progress"
	StatusCompletionRequestedByProvider  Status = "completion_requested_by_provider"
	StatusCompletionRequestedByRequester Status = "completion_requested_by_requester"
	StatusCompleted                      Status = "completed"
	StatusCancelled                      Status = "cancelled"
)

// Valid reports whether s is one of the declared states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress,
		StatusCompletionRequestedByProvider, StatusCompletionRequestedByRequester,
		StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsCompletionRequested reports whether one party is waiting for the other to confirm.
func (s Status) IsCompletionRequested() bool {
	return s == StatusCompletionRequestedByProvider || s == StatusCompletionRequestedByRequester
}

// PaymentStatus tracks settlement of the request, independently of Status.
type PaymentStatus string

const (
	PaymentUnset    PaymentStatus = "unset"
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Valid reports whether p is one of the declared payment states.
func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentUnset, PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// AssignmentStatus mirrors the request status onto its AcceptedAssignment.
type AssignmentStatus string

const (
	AssignmentAccepted   AssignmentStatus = "accepted"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

// assignmentStatusFor maps a request status to the assignment status kept in lockstep with it.
func assignmentStatusFor(s Status) AssignmentStatus {
	switch s {
	case StatusInProgress, StatusCompletionRequestedByProvider, StatusCompletionRequestedByRequester:
		return AssignmentInProgress
	case StatusCompleted:
		return AssignmentCompleted
	case StatusCancelled:
		return AssignmentCancelled
	default:
		return AssignmentAccepted
	}
}

// Event names a lifecycle transition.
type Event string

const (
	EventAccept            Event = "accept"
	EventMarkInProgress    Event = "mark_in_progress"
	EventRequestCompletion Event = "request_completion"
	EventApproveCompletion Event = "approve_completion"
	EventRejectCompletion  Event = "reject_completion"
	EventMarkCompleted     Event = "mark_completed"
	EventCancel            Event = "cancel"
	EventPaymentCompleted  Event = "payment_completed"
)

// transitions lists the states each event may fire from.
var transitions = map[Event][]Status{
	EventAccept:            {StatusPending},
	EventMarkInProgress:    {StatusAccepted},
	EventRequestCompletion: {StatusInProgress},
	EventApproveCompletion: {StatusCompletionRequestedByProvider, StatusCompletionRequestedByRequester},
	EventRejectCompletion:  {StatusCompletionRequestedByProvider, StatusCompletionRequestedByRequester},
	EventMarkCompleted:     {StatusInProgress},
	EventCancel: {
		StatusPending, StatusAccepted, StatusInProgress,
		StatusCompletionRequestedByProvider, StatusCompletionRequestedByRequester,
	},
}

// CanFire reports whether event is allowed from status, ignoring actor and payment guards.
func CanFire(status Status, event Event) bool {
	for _, from := range transitions[event] {
		if from == status {
			return true
		}
	}
	return false
}

// Party is the role a user plays on a specific request.
type Party int

const (
	PartyNone Party = iota
	PartyRequester
	PartyProvider
)

func (p Party) String() string {
	switch p {
	case PartyRequester:
		return "requester"
	case PartyProvider:
		return "provider"
	default:
		return "none"
	}
}

// other returns the counterpart of p.
func (p Party) other() Party {
	switch p {
	case PartyRequester:
		return PartyProvider
	case PartyProvider:
		return PartyRequester
	default:
		return PartyNone
	}
}

func completionRequestedBy(p Party) Status {
	if p == PartyProvider {
		return StatusCompletionRequestedByProvider
	}
	return StatusCompletionRequestedByRequester
}

func requestingParty(s Status) Party {
	switch s {
	case StatusCompletionRequestedByProvider:
		return PartyProvider
	case StatusCompletionRequestedByRequester:
		return PartyRequester
	default:
		return PartyNone
	}
}
