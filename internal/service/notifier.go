package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskerhub/marketplace/internal/domain/outbox"
)

// Notification kinds.
const (
	NotifyRequestAccepted     = "request_accepted"
	NotifyRequestStarted      = "request_in_progress"
	NotifyCompletionRequested = "completion_requested"
	NotifyCompletionRejected  = "completion_rejected"
	NotifyRequestCompleted    = "request_completed"
	NotifyRequestCancelled    = "request_cancelled"
	NotifyPaymentCompleted    = "payment_completed"
	NotifyPaymentFailed       = "payment_failed"
	NotifyPaymentRefunded     = "payment_refunded"
	NotifyPaymentDuplicate    = "payment_duplicate"
)

// Notifier queues user notifications in the outbox. It is fire-and-forget: failures are
// logged and never reach the caller, so a broken sink cannot block a lifecycle transition.
type Notifier struct {
	outbox outbox.Repository
	clock  Clock
	logger zerolog.Logger
}

func NewNotifier(repo outbox.Repository, clock Clock, logger zerolog.Logger) *Notifier {
	if clock == nil {
		clock = systemClock
	}
	return &Notifier{outbox: repo, clock: clock, logger: logger}
}

// Notify queues one message for userID. Call it after the business transaction has committed.
func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, title, message, kind string) {
	if n == nil || userID == uuid.Nil {
		return
	}
	entry, err := outbox.New(outbox.Notification{
		UserID:  userID,
		Title:   title,
		Message: message,
		Kind:    kind,
	}, n.clock())
	if err != nil {
		n.logger.Warn().Err(err).Str("kind", kind).Msg("dropping malformed notification")
		return
	}

	if err := n.outbox.Insert(context.WithoutCancel(ctx), entry); err != nil {
		n.logger.Warn().Err(err).
			Str("user_id", userID.String()).
			Str("kind", kind).
			Msg("failed to queue notification")
	}
}
