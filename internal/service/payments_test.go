package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/gateway"
	"github.com/taskerhub/marketplace/internal/infrastructure/config"
	"github.com/taskerhub/marketplace/internal/testutil"
)

func TestCreateSession_OpensPendingCharge(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	sr, res := h.openSession(t, "1000")

	assert.True(t, res.Amount.Equal(dec("1000")))
	assert.Equal(t, "BDT", res.Currency)
	assert.True(t, strings.HasPrefix(res.ExternalID, "TXN-"))
	assert.Contains(t, res.RedirectURL, res.ExternalID)

	charge := h.transactions.Stored(res.TransactionID)
	require.NotNil(t, charge)
	assert.Equal(t, payment.StatusPending, charge.Status)
	assert.Equal(t, payment.KindCharge, charge.Kind)
	assert.Equal(t, h.requester.ID, charge.PayerID)
	assert.Equal(t, []string{payment.EventSessionOpened}, h.transactions.EventTypes(charge.ID))

	req := h.requests.Stored(sr.ID)
	assert.Equal(t, servicerequest.PaymentPending, req.PaymentStatus)
	require.NotNil(t, req.PaymentTransactionID)
	assert.Equal(t, charge.ID, *req.PaymentTransactionID)
}

func TestCreateSession_Rejections(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	accepted := h.inProgress("1000")
	pending := testutil.NewTestRequest(h.requester.ID, "1000")
	h.requests.Put(pending)

	tests := []struct {
		name  string
		actor uuid.UUID
		in    CreateSessionInput
		kind  domainErrors.Kind
	}{
		{"provider cannot pay", h.provider.ID, CreateSessionInput{RequestID: accepted.ID}, domainErrors.KindUnauthorized},
		{"not accepted yet", h.requester.ID, CreateSessionInput{RequestID: pending.ID}, domainErrors.KindInvalidTransition},
		{"amount differs from payable", h.requester.ID, CreateSessionInput{RequestID: accepted.ID, Amount: decimal.NewNullDecimal(dec("999.99"))}, domainErrors.KindValidation},
		{"unknown request", h.requester.ID, CreateSessionInput{RequestID: uuid.New()}, domainErrors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.payments.CreateSession(ctx, tt.actor, tt.in)
			assert.Equal(t, tt.kind, domainErrors.KindOf(err))
		})
	}

	ledger, err := h.transactions.ListByRequest(ctx, accepted.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func TestCreateSession_GatewayDown(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	sr := h.inProgress("1000")
	h.sandbox.SetUnavailable(true)

	_, err := h.payments.CreateSession(ctx, h.requester.ID, CreateSessionInput{RequestID: sr.ID})

	assert.Equal(t, domainErrors.KindGatewayUnavailable, domainErrors.KindOf(err))
	assert.Equal(t, "payment gateway is unavailable, please try again", domainErrors.UserMessage(err, ""))

	ledger, err := h.transactions.ListByRequest(ctx, sr.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1, "the pending charge stays as an audit trail")
	assert.Equal(t, payment.StatusPending, ledger[0].Status)
	assert.Equal(t, []string{payment.EventSessionFailed}, h.transactions.EventTypes(ledger[0].ID))

	h.sandbox.SetUnavailable(false)
	retry, err := h.payments.CreateSession(ctx, h.requester.ID, CreateSessionInput{RequestID: sr.ID})
	require.NoError(t, err)
	assert.True(t, h.transactions.Stored(ledger[0].ID).Superseded(), "the orphaned charge is replaced")
	assert.Equal(t, retry.TransactionID, *h.requests.Stored(sr.ID).PaymentTransactionID)
}

func TestCreateSession_SupersedesPendingCharge(t *testing.T) {
	h := newHarness(t, harnessOptions{autoComplete: true})
	ctx := context.Background()
	sr := h.inProgress("1000")

	first, err := h.payments.CreateSession(ctx, h.requester.ID, CreateSessionInput{RequestID: sr.ID})
	require.NoError(t, err)
	h.advance(time.Minute)
	second, err := h.payments.CreateSession(ctx, h.requester.ID, CreateSessionInput{RequestID: sr.ID})
	require.NoError(t, err)

	old := h.transactions.Stored(first.TransactionID)
	assert.Equal(t, payment.StatusFailed, old.Status)
	assert.True(t, old.Superseded())
	assert.Equal(t, 1, h.transactions.CountEvents(first.TransactionID, payment.EventSuperseded))
	req := h.requests.Stored(sr.ID)
	assert.Equal(t, servicerequest.PaymentPending, req.PaymentStatus)
	assert.Equal(t, second.TransactionID, *req.PaymentTransactionID)

	// The payer finishes both checkouts. Only the newer one settles the request.
	stale, err := h.payments.Verify(ctx, h.redirect(t, first))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, stale.Outcome)
	assert.Nil(t, stale.Completion)
	assert.Equal(t, payment.StatusFailed, h.transactions.Stored(first.TransactionID).Status)
	assert.Equal(t, 1, h.transactions.CountEvents(first.TransactionID, payment.EventPaidAfterSupersede))

	latest, err := h.payments.Verify(ctx, h.redirect(t, second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, latest.Outcome)

	req = h.requests.Stored(sr.ID)
	assert.Equal(t, servicerequest.PaymentPaid, req.PaymentStatus)
	assert.Equal(t, second.TransactionID, *req.PaymentTransactionID)
	assert.True(t, req.PaymentAmount.Decimal.Equal(dec("1000")))
	assert.Equal(t, 0, h.transactions.CountEvents(first.TransactionID, payment.EventCompleted))
	assert.Equal(t, 1, h.transactions.CountEvents(second.TransactionID, payment.EventCompleted))
}

func TestCreateSession_PendingChargeBusy(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	sr, charge := h.pendingCharge("1000")

	unlock, err := h.locker.Lock(ctx, transactionLockKey(charge.ID.String()))
	require.NoError(t, err)
	_, err = h.payments.CreateSession(ctx, h.requester.ID, CreateSessionInput{RequestID: sr.ID})
	assert.Equal(t, domainErrors.KindConflict, domainErrors.KindOf(err))
	assert.Equal(t, payment.StatusPending, h.transactions.Stored(charge.ID).Status, "a charge being settled is not superseded")
	require.NoError(t, unlock(ctx))

	_, err = h.payments.CreateSession(ctx, h.requester.ID, CreateSessionInput{RequestID: sr.ID})
	require.NoError(t, err)
	assert.True(t, h.transactions.Stored(charge.ID).Superseded())
}

func TestVerify_RedirectCompletesThenReplays(t *testing.T) {
	h := newHarness(t, harnessOptions{autoComplete: true})
	ctx := context.Background()
	sr, res := h.openSession(t, "1000")
	ev := h.redirect(t, res)

	first, err := h.payments.Verify(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, first.Outcome)
	assert.False(t, first.Fallback)
	require.NotNil(t, first.Completion)
	assert.True(t, first.Completion.Split.Commission.Equal(dec("50")))
	assert.Equal(t, servicerequest.StatusCompleted, h.requests.Stored(sr.ID).Status)

	second, err := h.payments.Verify(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, second.Outcome)
	assert.Equal(t, first.Completion.Split, second.Completion.Split)
	assert.Equal(t, 1, h.transactions.CountEvents(res.TransactionID, payment.EventCompleted))
}

func TestVerify_IPNResolvedByMerchantID(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	_, res := h.openSession(t, "750")
	valID, _ := h.sandbox.VerificationID(res.ExternalID)

	got, err := h.payments.Verify(context.Background(), &gateway.Evidence{
		Shape:          gateway.ShapeIPN,
		VerificationID: valID,
		TransactionID:  res.ExternalID,
		Status:         "VALID",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, got.Outcome)
	assert.Equal(t, res.TransactionID, got.TransactionID)
}

func TestVerify_UnknownTransaction(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	_, err := h.payments.Verify(context.Background(), &gateway.Evidence{
		Shape:            gateway.ShapeRedirect,
		VerificationID:   "VAL-X",
		TransactionID:    "TXN-NOPE",
		CorrelationToken: uuid.New().String(),
	})

	assert.Equal(t, domainErrors.KindNotFound, domainErrors.KindOf(err))
}

func TestVerify_DeclinedPayment(t *testing.T) {
	tests := []struct {
		policy       string
		outcome      VerifyOutcome
		fallback     bool
		txStatus     payment.Status
		paymentState servicerequest.PaymentStatus
	}{
		{config.PolicyStrict, OutcomeFailed, false, payment.StatusFailed, servicerequest.PaymentFailed},
		{config.PolicyBestEffort, OutcomeCompleted, true, payment.StatusCompleted, servicerequest.PaymentPaid},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			h := newHarness(t, harnessOptions{policy: tt.policy})
			sr, res := h.openSession(t, "1000")
			ev := h.redirect(t, res)
			h.sandbox.Decline(res.ExternalID)

			got, err := h.payments.Verify(context.Background(), ev)
			require.NoError(t, err)

			assert.Equal(t, tt.outcome, got.Outcome)
			assert.Equal(t, tt.fallback, got.Fallback)
			assert.Equal(t, tt.txStatus, h.transactions.Stored(res.TransactionID).Status)
			assert.Equal(t, tt.paymentState, h.requests.Stored(sr.ID).PaymentStatus)
		})
	}
}

func TestVerify_StrictFailureNotifiesAndAllowsRetry(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	sr, res := h.openSession(t, "1000")
	h.sandbox.Decline(res.ExternalID)

	got, err := h.payments.ReconcileTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, got.Outcome)

	stored := h.transactions.Stored(res.TransactionID)
	require.NotNil(t, stored.FailureReason)
	assert.Contains(t, *stored.FailureReason, "FAILED")
	notes := h.outbox.Notifications(h.requester.ID)
	require.NotEmpty(t, notes)
	assert.Equal(t, NotifyPaymentFailed, notes[len(notes)-1].Kind)

	again, err := h.payments.Verify(ctx, h.redirect(t, res))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, again.Outcome)

	retry, err := h.payments.CreateSession(ctx, h.requester.ID, CreateSessionInput{RequestID: sr.ID})
	require.NoError(t, err)
	assert.NotEqual(t, res.TransactionID, retry.TransactionID)
}

func TestVerify_GatewayOutage(t *testing.T) {
	t.Run("strict defers and the sweeper recovers", func(t *testing.T) {
		h := newHarness(t, harnessOptions{autoComplete: true})
		ctx := context.Background()
		_, res := h.openSession(t, "1000")
		ev := h.redirect(t, res)
		h.sandbox.SetUnavailable(true)

		got, err := h.payments.Verify(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, got.Outcome)
		assert.Equal(t, MessagePendingVerification, got.Message)
		assert.Equal(t, payment.StatusPending, h.transactions.Stored(res.TransactionID).Status)
		assert.Equal(t, 1, h.transactions.CountEvents(res.TransactionID, payment.EventVerifyDeferred))

		h.sandbox.SetUnavailable(false)
		h.advance(20 * time.Minute)
		report, err := h.payments.ReconcilePending(ctx, 15*time.Minute, 10)
		require.NoError(t, err)
		assert.Equal(t, ReconcileReport{Checked: 1, Completed: 1}, report)
		assert.Equal(t, payment.StatusCompleted, h.transactions.Stored(res.TransactionID).Status)
	})

	t.Run("best effort completes as fallback", func(t *testing.T) {
		h := newHarness(t, harnessOptions{policy: config.PolicyBestEffort})
		_, res := h.openSession(t, "1000")
		ev := h.redirect(t, res)
		h.sandbox.SetUnavailable(true)

		got, err := h.payments.Verify(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, got.Outcome)
		assert.True(t, got.Fallback)
		assert.Equal(t, payment.StatusCompleted, h.transactions.Stored(res.TransactionID).Status)
	})
}

func TestVerify_ForeignVerificationIDDoesNotCrossSettle(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	_, a := h.openSession(t, "1000")
	_, b := h.openSession(t, "300")
	h.sandbox.Decline(a.ExternalID)
	bVal, _ := h.sandbox.VerificationID(b.ExternalID)

	got, err := h.payments.Verify(context.Background(), &gateway.Evidence{
		Shape:            gateway.ShapeRedirect,
		VerificationID:   bVal,
		TransactionID:    a.ExternalID,
		CorrelationToken: a.TransactionID.String(),
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, got.Outcome, "a's own lookup decides")
	assert.Equal(t, payment.StatusFailed, h.transactions.Stored(a.TransactionID).Status)
	assert.Equal(t, payment.StatusPending, h.transactions.Stored(b.TransactionID).Status)
}

func TestRefund(t *testing.T) {
	h := newHarness(t, harnessOptions{autoComplete: false})
	ctx := context.Background()
	sr, res := h.openSession(t, "1000")
	_, err := h.payments.Verify(ctx, h.redirect(t, res))
	require.NoError(t, err)

	_, err = h.payments.Refund(ctx, h.admin.ID, res.TransactionID, "work never started")
	assert.Equal(t, domainErrors.KindInvalidTransition, domainErrors.KindOf(err), "only cancelled requests are refunded")

	_, err = h.lifecycle.Cancel(ctx, h.requester.ID, sr.ID, "provider no-show")
	require.NoError(t, err)

	_, err = h.payments.Refund(ctx, h.requester.ID, res.TransactionID, "please")
	assert.Equal(t, domainErrors.KindUnauthorized, domainErrors.KindOf(err))

	h.advance(time.Minute)
	refund, err := h.payments.Refund(ctx, h.admin.ID, res.TransactionID, "provider no-show")
	require.NoError(t, err)
	assert.Equal(t, payment.KindRefund, refund.Kind)
	assert.Equal(t, payment.StatusRefunded, refund.Status)
	assert.True(t, refund.Amount.Equal(dec("-1000")))
	require.NotNil(t, refund.RefundOf)
	assert.Equal(t, res.TransactionID, *refund.RefundOf)

	assert.Equal(t, payment.StatusCompleted, h.transactions.Stored(res.TransactionID).Status, "the charge is never rewritten")
	assert.Equal(t, servicerequest.PaymentRefunded, h.requests.Stored(sr.ID).PaymentStatus)

	ledger, err := h.transactions.ListByRequest(ctx, sr.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, payment.KindCharge, ledger[0].Kind)
	assert.Equal(t, payment.KindRefund, ledger[1].Kind)

	_, err = h.payments.Refund(ctx, h.admin.ID, res.TransactionID, "again")
	assert.Equal(t, domainErrors.KindConflict, domainErrors.KindOf(err))
	assert.ErrorIs(t, err, domainErrors.ErrAlreadyRefunded)

	notes := h.outbox.Notifications(h.requester.ID)
	assert.Equal(t, NotifyPaymentRefunded, notes[len(notes)-1].Kind)
}

func TestVerify_DuplicateSettlementIsFlaggedForRefund(t *testing.T) {
	h := newHarness(t, harnessOptions{autoComplete: false})
	ctx := context.Background()
	sr, first := h.pendingCharge("1000")
	second := testutil.NewPendingCharge(sr, "1000", "BDT")
	h.transactions.Put(second)
	h.requests.Put(sr)

	_, err := h.engine.CompletePayment(ctx, first.ID, VerifierEvidence{GatewayRef: "BANK-1", Source: "redirect"})
	require.NoError(t, err)

	_, err = h.engine.CompletePayment(ctx, second.ID, VerifierEvidence{GatewayRef: "BANK-2", Source: "ipn"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrDuplicatePayment)
	assert.Equal(t, domainErrors.KindConflict, domainErrors.KindOf(err))

	assert.Equal(t, payment.StatusCompleted, h.transactions.Stored(second.ID).Status, "the money was taken")
	assert.Equal(t, 1, h.transactions.CountEvents(second.ID, payment.EventDuplicate))
	assert.Equal(t, 0, h.transactions.CountEvents(second.ID, payment.EventCompleted))
	req := h.requests.Stored(sr.ID)
	assert.Equal(t, servicerequest.PaymentPaid, req.PaymentStatus)
	assert.Equal(t, first.ID, *req.PaymentTransactionID)
	notes := h.outbox.Notifications(h.requester.ID)
	require.NotEmpty(t, notes)
	assert.Equal(t, NotifyPaymentDuplicate, notes[len(notes)-1].Kind)

	again, err := h.payments.ReconcileTransaction(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, again.Outcome, "a replay of the duplicate keeps reporting it")

	refund, err := h.payments.Refund(ctx, h.admin.ID, second.ID, "duplicate payment")
	require.NoError(t, err, "duplicates are refunded whatever the request status")
	assert.Equal(t, second.ID, *refund.RefundOf)
	req = h.requests.Stored(sr.ID)
	assert.Equal(t, servicerequest.PaymentPaid, req.PaymentStatus, "the request keeps its settlement")
	assert.Equal(t, servicerequest.StatusInProgress, req.Status)

	_, err = h.payments.Refund(ctx, h.admin.ID, second.ID, "again")
	assert.ErrorIs(t, err, domainErrors.ErrAlreadyRefunded)
}

func TestVerify_AbandonedCheckout(t *testing.T) {
	t.Run("payer reported failure and the gateway never saw the charge", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		sr, charge := h.pendingCharge("1000")

		got, err := h.payments.Verify(context.Background(), &gateway.Evidence{
			Shape:            gateway.ShapeRedirect,
			TransactionID:    charge.ExternalID,
			CorrelationToken: charge.ID.String(),
			Outcome:          "cancel",
		})

		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, got.Outcome)
		assert.Equal(t, payment.StatusFailed, h.transactions.Stored(charge.ID).Status)
		assert.Equal(t, servicerequest.PaymentFailed, h.requests.Stored(sr.ID).PaymentStatus)
	})

	t.Run("a success leg for an unknown charge waits", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		_, charge := h.pendingCharge("1000")

		got, err := h.payments.Verify(context.Background(), &gateway.Evidence{
			Shape:            gateway.ShapeRedirect,
			TransactionID:    charge.ExternalID,
			CorrelationToken: charge.ID.String(),
			Outcome:          "success",
		})

		require.NoError(t, err)
		assert.Equal(t, OutcomePending, got.Outcome)
		assert.Equal(t, payment.StatusPending, h.transactions.Stored(charge.ID).Status)
	})
}
