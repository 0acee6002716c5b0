package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists queued notifications. ClaimPending locks the rows it returns, so it
// must run inside a transaction that also records their outcome.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
	ClaimPending(ctx context.Context, limit int) ([]*Entry, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// RecordFailure counts a failed relay attempt and parks the entry once its attempts run out.
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error
	// PurgePublished deletes entries published before the cutoff and returns how many went.
	PurgePublished(ctx context.Context, before time.Time) (int64, error)
}
