//go:build integration

package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/taskerhub/marketplace/internal/domain/commission"
	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/outbox"
	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/domain/user"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("market"),
		tcpostgres.WithUsername("market"),
		tcpostgres.WithPassword("market"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, Migrate(dsn, "up", 0))
	v, err := CurrentSchema(dsn)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion{Version: 2}, v)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedUser(t *testing.T, repo *UserRepository, role user.Role) *user.User {
	t.Helper()
	now := time.Now().UTC()
	u := &user.User{
		ID:         uuid.New(),
		Email:      uuid.NewString() + "@example.com",
		Name:       string(role),
		Role:       role,
		IsApproved: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, repo.Upsert(context.Background(), u))
	return u
}

func TestRepositories_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	pool := startPostgres(t)
	ctx := context.Background()

	users := NewUserRepository(pool)
	requests := NewRequestRepository(pool)
	txns := NewTransactionRepository(pool)
	tm := NewTxManager(pool)

	requester := seedUser(t, users, user.RoleRequester)
	provider := seedUser(t, users, user.RoleProvider)
	rival := seedUser(t, users, user.RoleProvider)
	now := time.Now().UTC().Truncate(time.Microsecond)

	sr, err := servicerequest.New(requester.ID, "Fix sink", "", nil, decimal.NewNullDecimal(decimal.NewFromInt(500)), now)
	require.NoError(t, err)
	require.NoError(t, requests.Create(ctx, sr))

	t.Run("user lookup", func(t *testing.T) {
		got, err := users.GetUser(ctx, provider.ID)
		require.NoError(t, err)
		assert.True(t, got.CanProvide())

		_, err = users.GetUser(ctx, uuid.New())
		assert.ErrorIs(t, err, domainErrors.ErrUserNotFound)
	})

	t.Run("accept persists a single assignment", func(t *testing.T) {
		err := tm.WithTransaction(ctx, func(ctx context.Context) error {
			locked, err := requests.GetForUpdate(ctx, sr.ID)
			if err != nil {
				return err
			}
			if err := locked.Accept(provider, decimal.NewNullDecimal(decimal.RequireFromString("450.00")), now); err != nil {
				return err
			}
			if err := requests.CreateAssignment(ctx, locked.Assignment); err != nil {
				return err
			}
			return requests.Update(ctx, locked)
		})
		require.NoError(t, err)

		got, err := requests.GetByID(ctx, sr.ID)
		require.NoError(t, err)
		assert.Equal(t, servicerequest.StatusAccepted, got.Status)
		require.NotNil(t, got.Assignment)
		assert.Equal(t, provider.ID, got.Assignment.ProviderID)
		assert.Equal(t, "450", got.PayableAmount().Decimal.String())
		assert.Equal(t, 2, got.Version)

		dup := &servicerequest.AcceptedAssignment{
			ID: uuid.New(), RequestID: sr.ID, ProviderID: rival.ID,
			Status: servicerequest.AssignmentAccepted, AcceptedAt: now, UpdatedAt: now,
		}
		err = requests.CreateAssignment(ctx, dup)
		assert.ErrorIs(t, err, domainErrors.ErrAlreadyAssigned)
		assert.Equal(t, domainErrors.KindConflict, domainErrors.KindOf(err))
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		stale, err := requests.GetByID(ctx, sr.ID)
		require.NoError(t, err)
		fresh, err := requests.GetByID(ctx, sr.ID)
		require.NoError(t, err)

		require.NoError(t, fresh.MarkInProgress(provider.ID, now))
		require.NoError(t, requests.Update(ctx, fresh))

		require.NoError(t, stale.MarkInProgress(provider.ID, now))
		err = requests.Update(ctx, stale)
		assert.ErrorIs(t, err, domainErrors.ErrOptimisticLockFailed)
	})

	t.Run("transaction compare-and-swap", func(t *testing.T) {
		charge, err := payment.NewCharge(sr.ID, requester.ID, decimal.RequireFromString("450.00"), "BDT", "card", now)
		require.NoError(t, err)
		require.NoError(t, txns.Create(ctx, charge))

		byExt, err := txns.GetByExternalID(ctx, charge.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, charge.ID, byExt.ID)

		split, err := commission.SplitAmount(charge.Amount, commission.DefaultRate)
		require.NoError(t, err)
		require.NoError(t, charge.Complete(split, "BANK-1", `{"status":"VALID"}`, now))
		require.NoError(t, txns.Transition(ctx, charge, payment.StatusPending))

		again := *charge
		err = txns.Transition(ctx, &again, payment.StatusPending)
		assert.ErrorIs(t, err, domainErrors.ErrAlreadyCompleted)

		stored, err := txns.GetByID(ctx, charge.ID)
		require.NoError(t, err)
		got, ok := stored.StoredSplit()
		require.True(t, ok)
		assert.True(t, got.Commission.Equal(decimal.RequireFromString("22.50")))
		assert.True(t, got.ProviderAmount.Equal(decimal.RequireFromString("427.50")))

		require.NoError(t, txns.AddEvent(ctx, payment.NewEvent(charge.ID, payment.EventCompleted, map[string]any{"gateway_ref": "BANK-1"}, now)))
		events, err := txns.GetEvents(ctx, charge.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "BANK-1", events[0].EventData["gateway_ref"])

		refund, err := payment.NewRefund(stored, "cancelled by requester", now)
		require.NoError(t, err)
		require.NoError(t, txns.Create(ctx, refund))

		second, err := payment.NewRefund(stored, "again", now)
		require.NoError(t, err)
		assert.ErrorIs(t, txns.Create(ctx, second), domainErrors.ErrAlreadyRefunded)

		all, err := txns.ListByRequest(ctx, sr.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.True(t, all[1].Amount.IsNegative())
	})

	t.Run("stale pending sweep", func(t *testing.T) {
		old, err := payment.NewCharge(sr.ID, requester.ID, decimal.RequireFromString("10.00"), "BDT", "card", now.Add(-time.Hour))
		require.NoError(t, err)
		require.NoError(t, txns.Create(ctx, old))

		stale, err := txns.ListStalePending(ctx, now.Add(-30*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, old.ID, stale[0].ID)
		assert.Nil(t, stale[0].LastCheckedAt)

		newer, err := payment.NewCharge(sr.ID, requester.ID, decimal.RequireFromString("12.00"), "BDT", "card", now.Add(-45*time.Minute))
		require.NoError(t, err)
		require.NoError(t, txns.Create(ctx, newer))
		require.NoError(t, txns.MarkChecked(ctx, old.ID, now))

		stale, err = txns.ListStalePending(ctx, now.Add(-30*time.Minute), 1)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, newer.ID, stale[0].ID, "checked charges rotate behind unchecked ones")

		stored, err := txns.GetByID(ctx, old.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastCheckedAt)
		assert.WithinDuration(t, now, *stored.LastCheckedAt, time.Second)
	})

	t.Run("notification queue", func(t *testing.T) {
		repo := NewOutboxRepository(pool)
		entry, err := outbox.New(outbox.Notification{
			UserID: requester.ID, Title: "Payment received", Message: "ok", Kind: "payment_completed",
		}, now)
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, entry))

		err = tm.WithTransaction(ctx, func(ctx context.Context) error {
			claimed, err := repo.ClaimPending(ctx, 10)
			if err != nil {
				return err
			}
			require.Len(t, claimed, 1)
			assert.Equal(t, requester.ID, claimed[0].RecipientID)
			if err := repo.RecordFailure(ctx, claimed[0].ID, "broker down"); err != nil {
				return err
			}
			return repo.MarkPublished(ctx, claimed[0].ID, now)
		})
		require.NoError(t, err)

		purged, err := repo.PurgePublished(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)
	})

	t.Run("idempotency keys", func(t *testing.T) {
		repo := NewIdempotencyRepository(pool)
		got, err := repo.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)

		reservation := &IdempotencyEntry{
			Key: "k1", RequestHash: strings.Repeat("a", 64),
			CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
		}
		held, err := repo.Reserve(ctx, reservation)
		require.NoError(t, err)
		assert.Nil(t, held)

		held, err = repo.Reserve(ctx, reservation)
		require.NoError(t, err)
		require.NotNil(t, held)
		assert.True(t, held.InFlight())

		require.NoError(t, repo.Complete(ctx, "k1", 201, `{"ok":true}`))
		got, err = repo.Get(ctx, "k1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 201, got.ResponseStatus)

		require.NoError(t, repo.Release(ctx, "k1"))
		got, err = repo.Get(ctx, "k1")
		require.NoError(t, err)
		assert.NotNil(t, got, "completed keys survive release")
	})
}
