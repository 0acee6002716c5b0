package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
)

const requestColumns = `r.id, r.title, r.description, r.category_id, r.requester_id, r.provider_id,
		r.status, r.budget::text, r.payment_status, r.payment_transaction_id,
		r.payment_amount::text, r.admin_commission::text, r.provider_amount::text, r.paid_at,
		r.cancellation_reason, r.completion_rejection_reason, r.version,
		r.created_at, r.updated_at, r.completed_at, r.cancelled_at,
		a.id, a.provider_id, a.status, a.agreed_price::text, a.accepted_at, a.updated_at`

const requestFrom = ` FROM service_requests r LEFT JOIN accepted_assignments a ON a.request_id = r.id`

// RequestRepository implements servicerequest.Repository using PostgreSQL.
type RequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

func (r *RequestRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *RequestRepository) Create(ctx context.Context, sr *servicerequest.ServiceRequest) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO service_requests
		 (id, title, description, category_id, requester_id, provider_id, status, budget,
		  payment_status, version, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9,$10,$11,$12)`,
		sr.ID, sr.Title, sr.Description, sr.CategoryID, sr.RequesterID, sr.ProviderID,
		string(sr.Status), nullDecimalToNumeric(sr.Budget), paymentStatusColumn(sr.PaymentStatus),
		sr.Version, sr.CreatedAt, sr.UpdatedAt,
	)
	if err != nil {
		return domainErrors.Persistence("insert service request", err)
	}
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*servicerequest.ServiceRequest, error) {
	return r.scanRequest(r.db(ctx).QueryRow(ctx,
		`SELECT `+requestColumns+requestFrom+` WHERE r.id = $1`, id))
}

// GetForUpdate locks the request row; the assignment row is reached through the same lock
// because every assignment write also updates the request.
func (r *RequestRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*servicerequest.ServiceRequest, error) {
	return r.scanRequest(r.db(ctx).QueryRow(ctx,
		`SELECT `+requestColumns+requestFrom+` WHERE r.id = $1 FOR UPDATE OF r`, id))
}

func (r *RequestRepository) Update(ctx context.Context, sr *servicerequest.ServiceRequest) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE service_requests SET
		  provider_id=$1, status=$2, budget=$3::numeric, payment_status=$4, payment_transaction_id=$5,
		  payment_amount=$6::numeric, admin_commission=$7::numeric, provider_amount=$8::numeric, paid_at=$9,
		  cancellation_reason=$10, completion_rejection_reason=$11,
		  updated_at=$12, completed_at=$13, cancelled_at=$14, version = version + 1
		 WHERE id=$15 AND version=$16`,
		sr.ProviderID, string(sr.Status), nullDecimalToNumeric(sr.Budget),
		paymentStatusColumn(sr.PaymentStatus), sr.PaymentTransactionID,
		nullDecimalToNumeric(sr.PaymentAmount), nullDecimalToNumeric(sr.AdminCommission),
		nullDecimalToNumeric(sr.ProviderAmount), sr.PaidAt,
		sr.CancellationReason, sr.CompletionRejectionReason,
		sr.UpdatedAt, sr.CompletedAt, sr.CancelledAt,
		sr.ID, sr.Version,
	)
	if err != nil {
		return domainErrors.Persistence("update service request", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, sr.ID)
	}
	sr.Version++

	if sr.Assignment == nil {
		return nil
	}
	_, err = r.db(ctx).Exec(ctx,
		`UPDATE accepted_assignments SET status=$1, updated_at=$2 WHERE id=$3`,
		string(sr.Assignment.Status), sr.Assignment.UpdatedAt, sr.Assignment.ID,
	)
	if err != nil {
		return domainErrors.Persistence("update assignment", err)
	}
	return nil
}

func (r *RequestRepository) CreateAssignment(ctx context.Context, a *servicerequest.AcceptedAssignment) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO accepted_assignments (id, request_id, provider_id, status, agreed_price, accepted_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5::numeric,$6,$7)`,
		a.ID, a.RequestID, a.ProviderID, string(a.Status), nullDecimalToNumeric(a.AgreedPrice),
		a.AcceptedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "accepted_assignments_request_id_key") {
			return domainErrors.NewDomainError("conflict", "this request is no longer available", domainErrors.ErrAlreadyAssigned)
		}
		return domainErrors.Persistence("insert assignment", err)
	}
	return nil
}

func (r *RequestRepository) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM service_requests WHERE id=$1)`, id).Scan(&exists); err != nil {
		return domainErrors.Persistence("check service request", err)
	}
	if !exists {
		return domainErrors.ErrRequestNotFound
	}
	return domainErrors.NewDomainError("conflict", "request was modified concurrently, please retry", domainErrors.ErrOptimisticLockFailed)
}

func (r *RequestRepository) scanRequest(s scanner) (*servicerequest.ServiceRequest, error) {
	sr := &servicerequest.ServiceRequest{}
	var (
		status, paymentStatus                    *string
		budget, paid, commission, providerAmount *string
		assignmentID, assignmentProvider         *uuid.UUID
		assignmentStatus, agreedPrice            *string
		acceptedAt, assignmentUpdatedAt          *time.Time
	)
	err := s.Scan(
		&sr.ID, &sr.Title, &sr.Description, &sr.CategoryID, &sr.RequesterID, &sr.ProviderID,
		&status, &budget, &paymentStatus, &sr.PaymentTransactionID,
		&paid, &commission, &providerAmount, &sr.PaidAt,
		&sr.CancellationReason, &sr.CompletionRejectionReason, &sr.Version,
		&sr.CreatedAt, &sr.UpdatedAt, &sr.CompletedAt, &sr.CancelledAt,
		&assignmentID, &assignmentProvider, &assignmentStatus, &agreedPrice, &acceptedAt, &assignmentUpdatedAt,
	)
	if err != nil {
		return nil, storageErr("scan service request", err, domainErrors.ErrRequestNotFound)
	}

	if status != nil {
		sr.Status = servicerequest.Status(*status)
	}
	sr.PaymentStatus = servicerequest.PaymentUnset
	if paymentStatus != nil {
		sr.PaymentStatus = servicerequest.PaymentStatus(*paymentStatus)
	}

	if sr.Budget, err = nullableNumericToDecimal(budget); err != nil {
		return nil, fmt.Errorf("service request %s budget: %w", sr.ID, err)
	}
	if sr.PaymentAmount, err = nullableNumericToDecimal(paid); err != nil {
		return nil, fmt.Errorf("service request %s payment amount: %w", sr.ID, err)
	}
	if sr.AdminCommission, err = nullableNumericToDecimal(commission); err != nil {
		return nil, fmt.Errorf("service request %s commission: %w", sr.ID, err)
	}
	if sr.ProviderAmount, err = nullableNumericToDecimal(providerAmount); err != nil {
		return nil, fmt.Errorf("service request %s provider amount: %w", sr.ID, err)
	}

	if assignmentID != nil {
		price, err := nullableNumericToDecimal(agreedPrice)
		if err != nil {
			return nil, fmt.Errorf("assignment of %s: %w", sr.ID, err)
		}
		a := &servicerequest.AcceptedAssignment{
			ID:          *assignmentID,
			RequestID:   sr.ID,
			AgreedPrice: price,
		}
		if assignmentProvider != nil {
			a.ProviderID = *assignmentProvider
		}
		if assignmentStatus != nil {
			a.Status = servicerequest.AssignmentStatus(*assignmentStatus)
		}
		if acceptedAt != nil {
			a.AcceptedAt = *acceptedAt
		}
		if assignmentUpdatedAt != nil {
			a.UpdatedAt = *assignmentUpdatedAt
		}
		sr.Assignment = a
	}
	return sr, nil
}

// paymentStatusColumn stores the unset state as NULL.
func paymentStatusColumn(p servicerequest.PaymentStatus) *string {
	if p == servicerequest.PaymentUnset || p == "" {
		return nil
	}
	s := string(p)
	return &s
}

var _ servicerequest.Repository = (*RequestRepository)(nil)
