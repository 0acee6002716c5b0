package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/user"
)

// UserRepository is the database-backed identity lookup.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return scanUser(r.db(ctx).QueryRow(ctx,
		`SELECT id, email, name, role, is_approved, created_at, updated_at FROM users WHERE id = $1`, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return scanUser(r.db(ctx).QueryRow(ctx,
		`SELECT id, email, name, role, is_approved, created_at, updated_at FROM users WHERE email = $1`, email))
}

// Upsert inserts u or updates the row with the same email, keeping its id.
func (r *UserRepository) Upsert(ctx context.Context, u *user.User) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO users (id, email, name, role, is_approved, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (email) DO UPDATE SET
		   name = EXCLUDED.name, role = EXCLUDED.role, is_approved = EXCLUDED.is_approved,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		u.ID, u.Email, u.Name, string(u.Role), u.IsApproved, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return domainErrors.Persistence("upsert user", err)
	}
	return nil
}

func scanUser(s scanner) (*user.User, error) {
	u := &user.User{}
	var role string
	if err := s.Scan(&u.ID, &u.Email, &u.Name, &role, &u.IsApproved, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, storageErr("scan user", err, domainErrors.ErrUserNotFound)
	}
	u.Role = user.Role(role)
	return u, nil
}

var _ user.Repository = (*UserRepository)(nil)
