package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
)

// IdempotencyEntry is a key reservation and, once the handler finished, its response.
// ResponseStatus is zero while the original request is still in flight.
type IdempotencyEntry struct {
	Key            string
	RequestHash    string
	ResponseBody   string
	ResponseStatus int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

func (e *IdempotencyEntry) InFlight() bool { return e.ResponseStatus == 0 }

type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

// Reserve claims entry.Key. It returns nil when the caller now owns the key, or the entry
// already holding it. Expired keys are reclaimed in place.
func (r *IdempotencyRepository) Reserve(ctx context.Context, entry *IdempotencyEntry) (*IdempotencyEntry, error) {
	tag, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
		`INSERT INTO idempotency_keys (key, request_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		   SET request_hash = EXCLUDED.request_hash, response_body = '', response_status = 0,
		       created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		   WHERE idempotency_keys.expires_at <= NOW()`,
		entry.Key, entry.RequestHash, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return nil, domainErrors.Persistence("reserve idempotency key", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}
	return r.Get(ctx, entry.Key)
}

// Get returns nil, nil when the key is unknown or expired.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*IdempotencyEntry, error) {
	e := &IdempotencyEntry{}
	err := ConnFromCtx(ctx, r.pool).QueryRow(ctx,
		`SELECT key, request_hash, response_body, response_status, created_at, expires_at
		 FROM idempotency_keys WHERE key = $1 AND expires_at > NOW()`, key,
	).Scan(&e.Key, &e.RequestHash, &e.ResponseBody, &e.ResponseStatus, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domainErrors.Persistence("get idempotency key", err)
	}
	return e, nil
}

// Complete stores the response for a reserved key.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, status int, body string) error {
	_, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
		`UPDATE idempotency_keys SET response_status = $2, response_body = $3 WHERE key = $1`,
		key, status, body,
	)
	if err != nil {
		return domainErrors.Persistence("complete idempotency key", err)
	}
	return nil
}

// Release drops an in-flight reservation so the client may retry with the same key.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	_, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND response_status = 0`, key,
	)
	if err != nil {
		return domainErrors.Persistence("release idempotency key", err)
	}
	return nil
}

// Cleanup deletes expired keys and reports how many were removed.
func (r *IdempotencyRepository) Cleanup(ctx context.Context) (int64, error) {
	tag, err := ConnFromCtx(ctx, r.pool).Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < NOW()`)
	if err != nil {
		return 0, domainErrors.Persistence("cleanup idempotency keys", err)
	}
	return tag.RowsAffected(), nil
}
