package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskerhub/marketplace/pkg/retry"
)

type txKey struct{}

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TxManager runs units of work in one database transaction. Repositories pick the
// transaction up from the context, so services never see pgx types.
type TxManager struct {
	pool  *pgxpool.Pool
	iso   pgx.TxIsoLevel
	retry retry.Config
}

type TxOption func(*TxManager)

// WithIsolation sets the isolation level of every transaction the manager starts.
func WithIsolation(level pgx.TxIsoLevel) TxOption {
	return func(m *TxManager) { m.iso = level }
}

// WithConflictRetries reruns a unit of work that lost a serialization race or deadlock.
func WithConflictRetries(attempts uint) TxOption {
	return func(m *TxManager) { m.retry.MaxAttempts = attempts }
}

func NewTxManager(pool *pgxpool.Pool, opts ...TxOption) *TxManager {
	m := &TxManager{
		pool: pool,
		iso:  pgx.ReadCommitted,
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Jitter:       10 * time.Millisecond,
			RetryIf:      isTxConflict,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTransaction commits when fn returns nil and rolls back otherwise. Nested calls join
// the outer transaction; only the outermost call retries on conflicts, so fn must not
// have side effects outside the database.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return retry.Do(ctx, m.retry, func() error {
		return m.run(ctx, fn)
	})
}

func (m *TxManager) run(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: m.iso})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed (%v) after error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ConnFromCtx returns the transaction carried by ctx, or the pool outside one.
func ConnFromCtx(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}
