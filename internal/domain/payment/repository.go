package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payment transaction persistence
type Repository interface {
	// Create inserts a transaction. A duplicate external id or a second refund of the same
	// charge is a conflict.
	Create(ctx context.Context, t *Transaction) error

	// GetByID retrieves a transaction by its local id
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetForUpdate retrieves a transaction and locks its row for the surrounding transaction
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetByExternalID retrieves a transaction by the id sent to the gateway
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)

	// ListByRequest lists all ledger entries of a request, oldest first
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Transaction, error)

	// ListStalePending lists pending charges created before olderThan, least recently checked first
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Transaction, error)

	// MarkChecked stamps a still pending charge with the time reconciliation last looked at it
	MarkChecked(ctx context.Context, id uuid.UUID, at time.Time) error

	// Transition persists t only if the stored status still equals from (compare-and-swap).
	Transition(ctx context.Context, t *Transaction, from Status) error

	// AddEvent adds an event for audit trail
	AddEvent(ctx context.Context, event *Event) error

	// GetEvents retrieves events for a transaction
	GetEvents(ctx context.Context, transactionID uuid.UUID) ([]*Event, error)
}

// Event types recorded against a transaction.
const (
	EventSessionOpened  = "session_opened"
	EventSessionFailed  = "session_failed"
	EventEvidence       = "evidence_received"
	EventCompleted      = "completed"
	EventReplayed       = "replayed"
	EventFailed         = "failed"
	EventRefunded       = "refunded"
	EventVerifyDeferred = "verification_deferred"
	EventSuperseded     = "superseded"
	// EventDuplicate marks a completed charge that settled nothing because the request was
	// already paid; it needs a refund.
	EventDuplicate = "duplicate_payment"
	// EventPaidAfterSupersede marks a superseded charge the gateway reports as paid.
	EventPaidAfterSupersede = "paid_after_supersede"
)

// Event is an audit entry in the transaction lifecycle
type Event struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	EventType     string
	EventData     map[string]any
	CreatedAt     time.Time
}

// NewEvent builds an audit event stamped with now.
func NewEvent(transactionID uuid.UUID, eventType string, data map[string]any, now time.Time) *Event {
	return &Event{
		ID:            uuid.New(),
		TransactionID: transactionID,
		EventType:     eventType,
		EventData:     data,
		CreatedAt:     now,
	}
}
