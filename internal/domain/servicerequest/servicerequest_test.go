package servicerequest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskerhub/marketplace/internal/domain/commission"
	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/user"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newProvider(approved bool) *user.User {
	return &user.User{ID: uuid.New(), Role: user.RoleProvider, IsApproved: approved}
}

func newPending(t *testing.T) *ServiceRequest {
	t.Helper()
	r, err := New(uuid.New(), "Fix kitchen sink", "leaking", nil, decimal.NewNullDecimal(decimal.NewFromInt(1000)), now)
	require.NoError(t, err)
	return r
}

// inState builds a request with an assigned provider in the given state.
func inState(t *testing.T, status Status, payment PaymentStatus) (*ServiceRequest, *user.User) {
	t.Helper()
	r := newPending(t)
	p := newProvider(true)
	require.NoError(t, r.Accept(p, decimal.NullDecimal{}, now))
	r.setStatus(status, now)
	r.PaymentStatus = payment
	return r, p
}

func TestNew(t *testing.T) {
	r := newPending(t)

	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, PaymentUnset, r.PaymentStatus)
	assert.Equal(t, 1, r.Version)
	assert.Nil(t, r.Assignment)

	_, err := New(uuid.New(), "  ", "", nil, decimal.NullDecimal{}, now)
	var ve *domainErrors.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = New(uuid.New(), "t", "", nil, decimal.NewNullDecimal(decimal.NewFromInt(-5)), now)
	assert.ErrorAs(t, err, &ve)
}

func TestScenario_AcceptThenStart(t *testing.T) {
	r := newPending(t)
	p := newProvider(true)

	require.NoError(t, r.Accept(p, decimal.NullDecimal{}, now))
	assert.Equal(t, StatusAccepted, r.Status)
	require.NotNil(t, r.Assignment)
	assert.Equal(t, p.ID, r.Assignment.ProviderID)
	assert.Equal(t, AssignmentAccepted, r.Assignment.Status)
	assert.Equal(t, PartyProvider, r.PartyOf(p.ID))

	later := now.Add(time.Hour)
	require.NoError(t, r.MarkInProgress(p.ID, later))
	assert.Equal(t, StatusInProgress, r.Status)
	assert.Equal(t, AssignmentInProgress, r.Assignment.Status)
	assert.Equal(t, later, r.UpdatedAt)
	assert.Equal(t, later, r.Assignment.UpdatedAt)
}

func TestAccept_Guards(t *testing.T) {
	t.Run("unapproved provider", func(t *testing.T) {
		r := newPending(t)
		err := r.Accept(newProvider(false), decimal.NullDecimal{}, now)
		assert.ErrorIs(t, err, domainErrors.ErrUnauthorized)
	})

	t.Run("requester role", func(t *testing.T) {
		r := newPending(t)
		err := r.Accept(&user.User{ID: uuid.New(), Role: user.RoleRequester, IsApproved: true}, decimal.NullDecimal{}, now)
		assert.ErrorIs(t, err, domainErrors.ErrUnauthorized)
	})

	t.Run("own request", func(t *testing.T) {
		r := newPending(t)
		p := newProvider(true)
		p.ID = r.RequesterID
		assert.ErrorIs(t, r.Accept(p, decimal.NullDecimal{}, now), domainErrors.ErrUnauthorized)
	})

	t.Run("second accept conflicts", func(t *testing.T) {
		r := newPending(t)
		require.NoError(t, r.Accept(newProvider(true), decimal.NullDecimal{}, now))
		err := r.Accept(newProvider(true), decimal.NullDecimal{}, now)
		assert.ErrorIs(t, err, domainErrors.ErrConflict)
		assert.Equal(t, "this request is no longer available", domainErrors.UserMessage(err, ""))
	})

	t.Run("cancelled request", func(t *testing.T) {
		r := newPending(t)
		require.NoError(t, r.Cancel(r.RequesterID, "changed my mind", now))
		assert.ErrorIs(t, r.Accept(newProvider(true), decimal.NullDecimal{}, now), domainErrors.ErrInvalidTransition)
	})

	t.Run("agreed price overrides budget", func(t *testing.T) {
		r := newPending(t)
		require.NoError(t, r.Accept(newProvider(true), decimal.NewNullDecimal(decimal.RequireFromString("850.555")), now))
		assert.Equal(t, "850.56", r.PayableAmount().Decimal.StringFixed(2))
	})

	t.Run("non-positive agreed price", func(t *testing.T) {
		r := newPending(t)
		err := r.Accept(newProvider(true), decimal.NewNullDecimal(decimal.Zero), now)
		var ve *domainErrors.ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, StatusPending, r.Status)
	})
}

func TestRequestCompletion_RequiresPayment(t *testing.T) {
	r, p := inState(t, StatusInProgress, PaymentPending)

	err := r.RequestCompletion(p.ID, now)
	require.ErrorIs(t, err, domainErrors.ErrInvalidTransition)
	assert.Contains(t, domainErrors.UserMessage(err, ""), "payment required")
	assert.Equal(t, StatusInProgress, r.Status)
}

func TestGuardedCompletion_AllPathsRejectUnpaid(t *testing.T) {
	unpaid := []PaymentStatus{PaymentUnset, PaymentPending, PaymentFailed, PaymentRefunded}

	for _, ps := range unpaid {
		t.Run(string(ps), func(t *testing.T) {
			r, p := inState(t, StatusInProgress, ps)
			assert.ErrorIs(t, r.RequestCompletion(r.RequesterID, now), domainErrors.ErrInvalidTransition)
			assert.ErrorIs(t, r.MarkCompleted(p.ID, now), domainErrors.ErrInvalidTransition)

			r, _ = inState(t, StatusCompletionRequestedByProvider, ps)
			assert.ErrorIs(t, r.ApproveCompletion(r.RequesterID, now), domainErrors.ErrInvalidTransition)
			assert.NotEqual(t, StatusCompleted, r.Status)
		})
	}
}

func TestCompletionHandshake(t *testing.T) {
	t.Run("provider requests, requester approves", func(t *testing.T) {
		r, p := inState(t, StatusInProgress, PaymentPaid)
		require.NoError(t, r.RequestCompletion(p.ID, now))
		assert.Equal(t, StatusCompletionRequestedByProvider, r.Status)

		err := r.ApproveCompletion(p.ID, now)
		assert.ErrorIs(t, err, domainErrors.ErrUnauthorized, "requesting party cannot approve itself")

		require.NoError(t, r.ApproveCompletion(r.RequesterID, now))
		assert.Equal(t, StatusCompleted, r.Status)
		assert.Equal(t, AssignmentCompleted, r.Assignment.Status)
		require.NotNil(t, r.CompletedAt)
	})

	t.Run("requester requests, provider rejects", func(t *testing.T) {
		r, p := inState(t, StatusInProgress, PaymentPaid)
		require.NoError(t, r.RequestCompletion(r.RequesterID, now))
		assert.Equal(t, StatusCompletionRequestedByRequester, r.Status)

		var ve *domainErrors.ValidationError
		assert.ErrorAs(t, r.RejectCompletion(p.ID, " ", now), &ve)

		require.NoError(t, r.RejectCompletion(p.ID, "tiles not grouted", now))
		assert.Equal(t, StatusInProgress, r.Status)
		require.NotNil(t, r.CompletionRejectionReason)
		assert.Equal(t, "tiles not grouted", *r.CompletionRejectionReason)
		assert.Equal(t, AssignmentInProgress, r.Assignment.Status)
	})

	t.Run("approve without pending request", func(t *testing.T) {
		r, _ := inState(t, StatusInProgress, PaymentPaid)
		assert.ErrorIs(t, r.ApproveCompletion(r.RequesterID, now), domainErrors.ErrInvalidTransition)
	})

	t.Run("direct mark completed", func(t *testing.T) {
		r, _ := inState(t, StatusInProgress, PaymentPaid)
		require.NoError(t, r.MarkCompleted(r.RequesterID, now))
		assert.Equal(t, StatusCompleted, r.Status)
	})
}

func TestAuthorization_Stranger(t *testing.T) {
	stranger := uuid.New()

	r, _ := inState(t, StatusInProgress, PaymentPaid)
	assert.ErrorIs(t, r.RequestCompletion(stranger, now), domainErrors.ErrUnauthorized)
	assert.ErrorIs(t, r.MarkCompleted(stranger, now), domainErrors.ErrUnauthorized)
	assert.ErrorIs(t, r.Cancel(stranger, "", now), domainErrors.ErrUnauthorized)
	assert.ErrorIs(t, r.MarkInProgress(stranger, now), domainErrors.ErrUnauthorized)

	r, _ = inState(t, StatusCompletionRequestedByProvider, PaymentPaid)
	assert.ErrorIs(t, r.ApproveCompletion(stranger, now), domainErrors.ErrUnauthorized)
	assert.ErrorIs(t, r.RejectCompletion(stranger, "no", now), domainErrors.ErrUnauthorized)

	r, _ = inState(t, StatusAccepted, PaymentUnset)
	assert.ErrorIs(t, r.MarkInProgress(r.RequesterID, now), domainErrors.ErrUnauthorized, "requester cannot start work")
}

func TestCancel(t *testing.T) {
	t.Run("completed request cannot be cancelled", func(t *testing.T) {
		r, _ := inState(t, StatusCompleted, PaymentPaid)
		err := r.Cancel(r.RequesterID, "too late", now)
		require.ErrorIs(t, err, domainErrors.ErrInvalidTransition)
		assert.Contains(t, domainErrors.UserMessage(err, ""), "cannot be cancelled in current status")
	})

	t.Run("cancel twice", func(t *testing.T) {
		r := newPending(t)
		require.NoError(t, r.Cancel(r.RequesterID, "", now))
		assert.ErrorIs(t, r.Cancel(r.RequesterID, "", now), domainErrors.ErrInvalidTransition)
	})

	t.Run("provider cancels in progress", func(t *testing.T) {
		r, p := inState(t, StatusInProgress, PaymentUnset)
		require.NoError(t, r.Cancel(p.ID, "sick", now))
		assert.Equal(t, StatusCancelled, r.Status)
		assert.Equal(t, AssignmentCancelled, r.Assignment.Status)
		require.NotNil(t, r.CancelledAt)
		assert.Equal(t, "sick", *r.CancellationReason)
	})
}

func TestApplyPayment(t *testing.T) {
	split, err := commission.SplitAmount(decimal.NewFromInt(1000), commission.DefaultRate)
	require.NoError(t, err)
	txID := uuid.New()

	t.Run("auto-complete closes the request", func(t *testing.T) {
		r, _ := inState(t, StatusInProgress, PaymentPending)
		changed, err := r.ApplyPayment(txID, split, true, now)

		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StatusCompleted, r.Status)
		assert.Equal(t, PaymentPaid, r.PaymentStatus)
		assert.Equal(t, "50.00", r.AdminCommission.Decimal.StringFixed(2))
		assert.Equal(t, "950.00", r.ProviderAmount.Decimal.StringFixed(2))
		assert.True(t, r.PaymentAmount.Decimal.Equal(r.AdminCommission.Decimal.Add(r.ProviderAmount.Decimal)))
		assert.Equal(t, AssignmentCompleted, r.Assignment.Status)
	})

	t.Run("without auto-complete the lifecycle is untouched", func(t *testing.T) {
		r, _ := inState(t, StatusInProgress, PaymentPending)
		changed, err := r.ApplyPayment(txID, split, false, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, StatusInProgress, r.Status)
		assert.Equal(t, PaymentPaid, r.PaymentStatus)
	})

	t.Run("cancelled request stays cancelled", func(t *testing.T) {
		r, _ := inState(t, StatusCancelled, PaymentPending)
		changed, err := r.ApplyPayment(txID, split, true, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, StatusCancelled, r.Status)
		assert.Equal(t, PaymentPaid, r.PaymentStatus)
	})

	t.Run("a second charge never overwrites the settlement", func(t *testing.T) {
		r, _ := inState(t, StatusInProgress, PaymentPending)
		_, err := r.ApplyPayment(txID, split, false, now)
		require.NoError(t, err)

		other, err := commission.SplitAmount(decimal.NewFromInt(400), commission.DefaultRate)
		require.NoError(t, err)
		otherID := uuid.New()
		assert.True(t, r.PaidByOther(otherID))
		assert.False(t, r.PaidByOther(txID))

		changed, err := r.ApplyPayment(otherID, other, true, now)
		assert.ErrorIs(t, err, domainErrors.ErrDuplicatePayment)
		assert.False(t, changed)
		assert.Equal(t, txID, *r.PaymentTransactionID)
		assert.Equal(t, "50.00", r.AdminCommission.Decimal.StringFixed(2))
		assert.Equal(t, StatusInProgress, r.Status)
	})
}

func TestMarkPaymentPending(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.MarkPaymentPending(uuid.New(), now))
	assert.Equal(t, PaymentPending, r.PaymentStatus)

	r.PaymentStatus = PaymentPaid
	assert.ErrorIs(t, r.MarkPaymentPending(uuid.New(), now), domainErrors.ErrConflict)

	c, _ := inState(t, StatusCancelled, PaymentUnset)
	assert.ErrorIs(t, c.MarkPaymentPending(uuid.New(), now), domainErrors.ErrInvalidTransition)
}

func TestMarkRefunded(t *testing.T) {
	r, _ := inState(t, StatusCancelled, PaymentPaid)
	require.NoError(t, r.MarkRefunded(now))
	assert.Equal(t, PaymentRefunded, r.PaymentStatus)

	r, _ = inState(t, StatusCompleted, PaymentPaid)
	assert.ErrorIs(t, r.MarkRefunded(now), domainErrors.ErrInvalidTransition)
}

func TestCompletionStatusFor(t *testing.T) {
	r, p := inState(t, StatusCompletionRequestedByProvider, PaymentPaid)

	requesterView := r.CompletionStatusFor(r.RequesterID)
	assert.Equal(t, PartyRequester, requesterView.Party)
	assert.True(t, requesterView.CanApproveCompletion)
	assert.True(t, requesterView.CanRejectCompletion)
	assert.True(t, requesterView.CanCancel)
	assert.False(t, requesterView.CanMarkInProgress)

	providerView := r.CompletionStatusFor(p.ID)
	assert.False(t, providerView.CanApproveCompletion)
	assert.False(t, providerView.CanRejectCompletion)

	strangerView := r.CompletionStatusFor(uuid.New())
	assert.Equal(t, PartyNone, strangerView.Party)
	assert.False(t, strangerView.CanCancel)

	unpaid, _ := inState(t, StatusInProgress, PaymentPending)
	view := unpaid.CompletionStatusFor(unpaid.RequesterID)
	assert.False(t, view.CanRequestCompletion)
	assert.False(t, view.CanMarkCompleted)
	assert.Equal(t, PaymentPending, view.PaymentStatus)
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusCompletionRequestedByRequester.Valid())
	assert.False(t, Status("done").Valid())
	assert.True(t, PaymentRefunded.Valid())
	assert.False(t, PaymentStatus("paid_twice").Valid())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
}
