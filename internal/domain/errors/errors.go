package errors

import (
	"errors"
	"fmt"
)

var (
	// Lookup errors
	ErrNotFound            = errors.New("not found")
	ErrRequestNotFound     = fmt.Errorf("service request %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("payment transaction %w", ErrNotFound)
	ErrUserNotFound        = fmt.Errorf("user %w", ErrNotFound)

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Lifecycle errors
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrPaymentRequired   = fmt.Errorf("payment required before completion: %w", ErrInvalidTransition)

	// Concurrency errors
	ErrConflict             = errors.New("conflict")
	ErrOptimisticLockFailed = fmt.Errorf("optimistic lock: %w", ErrConflict)
	ErrAlreadyAssigned      = fmt.Errorf("request already assigned: %w", ErrConflict)
	ErrAlreadyRefunded      = fmt.Errorf("charge already refunded: %w", ErrConflict)
	ErrDuplicatePayment     = fmt.Errorf("request already paid by another charge: %w", ErrConflict)

	// Gateway errors
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayTimeout     = fmt.Errorf("gateway timeout: %w", ErrGatewayUnavailable)
	ErrGatewayMalformed   = fmt.Errorf("malformed gateway response: %w", ErrGatewayUnavailable)

	// Storage errors
	ErrPersistenceFailure = errors.New("persistence failure")

	// Idempotent replay; callers treat it as success.
	ErrAlreadyCompleted = errors.New("already completed")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidAmount    = fmt.Errorf("invalid amount: %w", ErrValidationFailed)
	ErrInvalidInput     = fmt.Errorf("invalid input: %w", ErrValidationFailed)
)

// Kind is the coarse classification of an error used by callers that render results.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindInvalidTransition  Kind = "invalid_transition"
	KindConflict           Kind = "conflict"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindPersistence        Kind = "persistence_failure"
	KindAlreadyCompleted   Kind = "already_completed"
	KindValidation         Kind = "validation"
	KindInternal           Kind = "internal"
)

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve), errors.Is(err, ErrValidationFailed):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrConflict), errors.Is(err, ErrLockAcquisitionFailed):
		return KindConflict
	case errors.Is(err, ErrGatewayUnavailable):
		return KindGatewayUnavailable
	case errors.Is(err, ErrPersistenceFailure):
		return KindPersistence
	case errors.Is(err, ErrAlreadyCompleted):
		return KindAlreadyCompleted
	default:
		return KindInternal
	}
}

// DomainError wraps errors with additional context. Message is safe to show to end users.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// UserMessage returns the human readable message carried by err, or fallback.
func UserMessage(err error, fallback string) string {
	var de *DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return fallback
}

// Persistence wraps a storage failure so it classifies as KindPersistence.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrPersistenceFailure, err))
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
