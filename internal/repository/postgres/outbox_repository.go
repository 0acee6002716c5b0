package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/outbox"
)

const outboxColumns = `id, recipient_id, kind, title, message, status, attempts, max_attempts,
	COALESCE(last_error, ''), created_at, published_at`

// OutboxRepository is the notification queue drained by the worker's relay.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) Insert(ctx context.Context, e *outbox.Entry) error {
	_, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
		`INSERT INTO notification_outbox (id, recipient_id, kind, title, message, status, attempts, max_attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.RecipientID, e.Kind, e.Title, e.Message, string(e.Status), e.Attempts, e.MaxAttempts, e.CreatedAt,
	)
	if err != nil {
		return domainErrors.Persistence("queue notification", err)
	}
	return nil
}

// ClaimPending locks up to limit pending entries, oldest first. Concurrent relays skip
// each other's rows instead of waiting on them.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := ConnFromCtx(ctx, r.pool).Query(ctx,
		`SELECT `+outboxColumns+`
		 FROM notification_outbox
		 WHERE status = 'pending'
		 ORDER BY created_at
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit,
	)
	if err != nil {
		return nil, domainErrors.Persistence("claim notifications", err)
	}
	defer rows.Close()

	var entries []*outbox.Entry
	for rows.Next() {
		var e outbox.Entry
		var status string
		if err := rows.Scan(&e.ID, &e.RecipientID, &e.Kind, &e.Title, &e.Message, &status,
			&e.Attempts, &e.MaxAttempts, &e.LastError, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		e.Status = outbox.Status(status)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.Persistence("claim notifications", err)
	}
	return entries, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
		`UPDATE notification_outbox SET status = 'published', published_at = $2 WHERE id = $1`, id, at,
	)
	if err != nil {
		return domainErrors.Persistence("mark notification published", err)
	}
	return nil
}

func (r *OutboxRepository) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
		`UPDATE notification_outbox
		 SET attempts = attempts + 1,
		     last_error = $2,
		     status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END
		 WHERE id = $1`, id, reason,
	)
	if err != nil {
		return domainErrors.Persistence("record notification failure", err)
	}
	return nil
}

func (r *OutboxRepository) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
		`DELETE FROM notification_outbox WHERE status = 'published' AND published_at < $1`, before,
	)
	if err != nil {
		return 0, domainErrors.Persistence("purge notifications", err)
	}
	return tag.RowsAffected(), nil
}

var _ outbox.Repository = (*OutboxRepository)(nil)
