package servicerequest

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists service requests together with their accepted assignment.
type Repository interface {
	Create(ctx context.Context, r *ServiceRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	// GetForUpdate loads the request and locks its row for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	// Update writes the request guarded by its Version and bumps it. It also writes the
	// assignment status when an assignment exists.
	Update(ctx context.Context, r *ServiceRequest) error
	// CreateAssignment inserts the single assignment of a request; a second one is a conflict.
	CreateAssignment(ctx context.Context, a *AcceptedAssignment) error
}
