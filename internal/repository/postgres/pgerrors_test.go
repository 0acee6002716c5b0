package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "uniq_refund_of"}

	assert.True(t, isUniqueViolation(dup, ""))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", dup), "uniq_refund_of"))
	assert.False(t, isUniqueViolation(dup, "payment_transactions_pkey"))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, isUniqueViolation(errors.New("boom"), ""))
}

func TestIsTxConflict(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{domainErrors.Persistence("update service request", &pgconn.PgError{Code: "40001"}), true},
		{&pgconn.PgError{Code: "23505"}, false},
		{pgx.ErrNoRows, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isTxConflict(tt.err), "%v", tt.err)
	}
}

func TestStorageErr(t *testing.T) {
	err := storageErr("get user", pgx.ErrNoRows, domainErrors.ErrUserNotFound)
	assert.ErrorIs(t, err, domainErrors.ErrUserNotFound)

	err = storageErr("get user", errors.New("connection reset"), domainErrors.ErrUserNotFound)
	assert.Equal(t, domainErrors.KindPersistence, domainErrors.KindOf(err))
}
