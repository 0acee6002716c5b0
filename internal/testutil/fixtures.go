package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/domain/user"
)

// Now is the fixed instant fixtures are stamped with.
var Now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// FixedClock always returns Now.
func FixedClock() time.Time { return Now }

func NewTestUser(role user.Role) *user.User {
	id := uuid.New()
	return &user.User{
		ID:         id,
		Email:      string(role) + "-" + id.String()[:8] + "@example.com",
		Name:       string(role),
		Role:       role,
		IsApproved: true,
		CreatedAt:  Now,
		UpdatedAt:  Now,
	}
}

func NewRequester() *user.User { return NewTestUser(user.RoleRequester) }
func NewProvider() *user.User  { return NewTestUser(user.RoleProvider) }
func NewAdmin() *user.User     { return NewTestUser(user.RoleAdmin) }

// NewTestRequest returns a pending request with the given budget.
func NewTestRequest(requesterID uuid.UUID, budget string) *servicerequest.ServiceRequest {
	var b decimal.NullDecimal
	if budget != "" {
		b = decimal.NewNullDecimal(decimal.RequireFromString(budget))
	}
	sr, err := servicerequest.New(requesterID, "Fix the kitchen sink", "Leaking under the basin", nil, b, Now)
	if err != nil {
		panic(err)
	}
	return sr
}

// NewAcceptedRequest returns a request already accepted by provider.
func NewAcceptedRequest(requesterID uuid.UUID, provider *user.User, budget string) *servicerequest.ServiceRequest {
	sr := NewTestRequest(requesterID, budget)
	if err := sr.Accept(provider, decimal.NullDecimal{}, Now); err != nil {
		panic(err)
	}
	return sr
}

// NewInProgressRequest returns an accepted request the provider has started.
func NewInProgressRequest(requesterID uuid.UUID, provider *user.User, budget string) *servicerequest.ServiceRequest {
	sr := NewAcceptedRequest(requesterID, provider, budget)
	if err := sr.MarkInProgress(provider.ID, Now); err != nil {
		panic(err)
	}
	return sr
}

// NewPendingCharge returns a pending charge for sr and marks sr as awaiting payment.
func NewPendingCharge(sr *servicerequest.ServiceRequest, amount, currency string) *payment.Transaction {
	t, err := payment.NewCharge(sr.ID, sr.RequesterID, decimal.RequireFromString(amount), currency, "card", Now)
	if err != nil {
		panic(err)
	}
	if err := sr.MarkPaymentPending(t.ID, Now); err != nil {
		panic(err)
	}
	return t
}
