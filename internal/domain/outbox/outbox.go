package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Entry is a user notification queued for relay to the configured sink.
type Entry struct {
	ID          uuid.UUID
	RecipientID uuid.UUID
	Kind        string
	Title       string
	Message     string
	Status      Status
	Attempts    int
	MaxAttempts int
	LastError   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

const DefaultMaxAttempts = 5

// Notification is the message shape consumed by the notification sink.
type Notification struct {
	UserID  uuid.UUID
	Title   string
	Message string
	Kind    string
}

var (
	ErrNoRecipient = errors.New("notification has no recipient")
	ErrNoKind      = errors.New("notification has no kind")
)

// New queues n for delivery.
func New(n Notification, now time.Time) (*Entry, error) {
	if n.UserID == uuid.Nil {
		return nil, ErrNoRecipient
	}
	if n.Kind == "" {
		return nil, ErrNoKind
	}
	return &Entry{
		ID:          uuid.New(),
		RecipientID: n.UserID,
		Kind:        n.Kind,
		Title:       n.Title,
		Message:     n.Message,
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
	}, nil
}

func (e *Entry) Notification() Notification {
	return Notification{UserID: e.RecipientID, Title: e.Title, Message: e.Message, Kind: e.Kind}
}

// Exhausted reports whether the entry has used up its relay attempts.
func (e *Entry) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// RecordFailure counts one failed relay. The entry is parked as failed once exhausted.
func (e *Entry) RecordFailure(reason string) {
	e.Attempts++
	e.LastError = reason
	if e.Exhausted() {
		e.Status = StatusFailed
	}
}

func (e *Entry) MarkPublished(at time.Time) {
	e.Status = StatusPublished
	e.PublishedAt = &at
}
