package user

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is the marketplace role of an account.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// User is the slice of a profile the settlement core needs.
type User struct {
	ID         uuid.UUID
	Email      string
	Name       string
	Role       Role
	IsApproved bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CanProvide reports whether u may accept service requests.
func (u *User) CanProvide() bool {
	return u.Role == RoleProvider && u.IsApproved
}

// IsAdmin reports whether u holds the privileged role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Directory looks users up by id.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
}

// Repository extends Directory with the writes needed to provision accounts.
type Repository interface {
	Directory
	GetByEmail(ctx context.Context, email string) (*User, error)
	Upsert(ctx context.Context, u *User) error
}
