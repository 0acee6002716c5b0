package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/payment"
)

const transactionColumns = `id, external_id, request_id, payer_id, kind, amount::text, currency, method, status,
		admin_commission::text, provider_amount::text, gateway_ref, gateway_response,
		failure_reason, refund_reason, refund_of, created_at, updated_at, completed_at, last_checked_at`

// TransactionRepository implements payment.Repository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts a transaction.
func (r *TransactionRepository) Create(ctx context.Context, t *payment.Transaction) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_transactions
		 (id, external_id, request_id, payer_id, kind, amount, currency, method, status,
		  admin_commission, provider_amount, gateway_ref, gateway_response,
		  failure_reason, refund_reason, refund_of, created_at, updated_at, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10::numeric,$11::numeric,$12,$13,$14,$15,$16,$17,$18,$19)`,
		t.ID, t.ExternalID, t.RequestID, t.PayerID, string(t.Kind), decimalToNumeric(t.Amount),
		t.Currency, t.Method, string(t.Status),
		nullDecimalToNumeric(t.AdminCommission), nullDecimalToNumeric(t.ProviderAmount),
		t.GatewayRef, t.GatewayResponse, t.FailureReason, t.RefundReason, t.RefundOf,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "uq_payment_transactions_refund_of"):
			return domainErrors.NewDomainError("conflict", "this payment has already been refunded", domainErrors.ErrAlreadyRefunded)
		case isUniqueViolation(err, ""):
			return domainErrors.NewDomainError("conflict", "duplicate transaction", domainErrors.ErrConflict)
		}
		return domainErrors.Persistence("insert transaction", err)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id))
}

func (r *TransactionRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1 FOR UPDATE`, id))
}

func (r *TransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*payment.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE external_id = $1`, externalID))
}

func (r *TransactionRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*payment.Transaction, error) {
	return r.list(ctx, "list transactions",
		`SELECT `+transactionColumns+` FROM payment_transactions
		 WHERE request_id = $1 ORDER BY created_at ASC, id ASC`, requestID)
}

// ListStalePending returns pending charges never checked first, then the least recently checked,
// so charges the gateway keeps deferring rotate behind fresher ones.
func (r *TransactionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, "list stale pending transactions",
		`SELECT `+transactionColumns+` FROM payment_transactions
		 WHERE status = 'pending' AND kind = 'charge' AND created_at < $1
		 ORDER BY last_checked_at ASC NULLS FIRST, created_at ASC LIMIT $2`, olderThan, limit)
}

// MarkChecked records a reconciliation attempt. Settled rows are left alone.
func (r *TransactionRepository) MarkChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_transactions SET last_checked_at = $2 WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return domainErrors.Persistence("mark transaction checked", err)
	}
	return nil
}

// Transition writes t only while the stored status still equals from.
func (r *TransactionRepository) Transition(ctx context.Context, t *payment.Transaction, from payment.Status) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_transactions SET
		  status=$1, admin_commission=$2::numeric, provider_amount=$3::numeric,
		  gateway_ref=$4, gateway_response=$5, failure_reason=$6, updated_at=$7, completed_at=$8
		 WHERE id=$9 AND status=$10`,
		string(t.Status), nullDecimalToNumeric(t.AdminCommission), nullDecimalToNumeric(t.ProviderAmount),
		t.GatewayRef, t.GatewayResponse, t.FailureReason, t.UpdatedAt, t.CompletedAt,
		t.ID, string(from),
	)
	if err != nil {
		return domainErrors.Persistence("transition transaction", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.db(ctx).QueryRow(ctx, `SELECT status FROM payment_transactions WHERE id=$1`, t.ID).Scan(&current)
	if err != nil {
		return storageErr("check transaction status", err, domainErrors.ErrTransactionNotFound)
	}
	if payment.Status(current) == payment.StatusCompleted {
		return domainErrors.ErrAlreadyCompleted
	}
	return domainErrors.NewDomainError("conflict",
		fmt.Sprintf("transaction is %s, expected %s", current, from), domainErrors.ErrConflict)
}

func (r *TransactionRepository) AddEvent(ctx context.Context, event *payment.Event) error {
	data, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payment_events (id, transaction_id, event_type, event_data, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.TransactionID, event.EventType, data, event.CreatedAt,
	)
	if err != nil {
		return domainErrors.Persistence("insert payment event", err)
	}
	return nil
}

func (r *TransactionRepository) GetEvents(ctx context.Context, transactionID uuid.UUID) ([]*payment.Event, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, transaction_id, event_type, event_data, created_at
		 FROM payment_events WHERE transaction_id = $1 ORDER BY created_at ASC`, transactionID,
	)
	if err != nil {
		return nil, domainErrors.Persistence("list payment events", err)
	}
	defer rows.Close()

	var events []*payment.Event
	for rows.Next() {
		e := &payment.Event{}
		var data []byte
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(data, &e.EventData); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *TransactionRepository) list(ctx context.Context, op, query string, args ...any) ([]*payment.Transaction, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, domainErrors.Persistence(op, err)
	}
	defer rows.Close()

	var out []*payment.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.Persistence(op, err)
	}
	return out, nil
}

func (r *TransactionRepository) scanTransaction(s scanner) (*payment.Transaction, error) {
	t := &payment.Transaction{}
	var (
		kind, status               string
		amount                     string
		commission, providerAmount *string
	)
	err := s.Scan(
		&t.ID, &t.ExternalID, &t.RequestID, &t.PayerID, &kind, &amount, &t.Currency, &t.Method, &status,
		&commission, &providerAmount, &t.GatewayRef, &t.GatewayResponse,
		&t.FailureReason, &t.RefundReason, &t.RefundOf, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
		&t.LastCheckedAt,
	)
	if err != nil {
		return nil, storageErr("scan transaction", err, domainErrors.ErrTransactionNotFound)
	}

	t.Kind = payment.Kind(kind)
	t.Status = payment.Status(status)
	if t.Amount, err = numericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", t.ID, err)
	}
	if t.AdminCommission, err = nullableNumericToDecimal(commission); err != nil {
		return nil, fmt.Errorf("transaction %s commission: %w", t.ID, err)
	}
	if t.ProviderAmount, err = nullableNumericToDecimal(providerAmount); err != nil {
		return nil, fmt.Errorf("transaction %s provider amount: %w", t.ID, err)
	}
	return t, nil
}

var _ payment.Repository = (*TransactionRepository)(nil)
