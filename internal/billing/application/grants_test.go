package application_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/creditd/internal/billing/application"
	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/outbox"
	sharedpersistence "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
)

func newBonusService(t *testing.T, f *fixture, amount int64) *application.BonusService {
	t.Helper()
	return application.NewBonusService(
		sharedpersistence.NewSQLiteUnitOfWork(f.db),
		persistence.NewSQLiteUserRepository(f.db),
		persistence.NewSQLiteLedgerRepository(f.db),
		outbox.NewRecorder(outbox.NewSQLiteRepository(f.db)),
		amount,
		slog.New(slog.DiscardHandler),
	)
}

func TestRegistrationBonus(t *testing.T) {
	f := newFixture(t)
	svc := newBonusService(t, f, 25)
	ctx := context.Background()

	t.Run("grants once", func(t *testing.T) {
		entry, err := svc.GrantRegistrationBonus(ctx, f.userID)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, int64(25), entry.Delta)
		assert.Equal(t, domain.ReasonRegistrationBonus, entry.Reason)
		assert.Equal(t, int64(25), f.credits(t))
	})

	t.Run("second grant returns the original entry", func(t *testing.T) {
		first, err := f.ledger.FindBySourceEventID(ctx, application.RegistrationBonusKey(f.userID))
		require.NoError(t, err)
		require.NotNil(t, first)

		entry, err := svc.GrantRegistrationBonus(ctx, f.userID)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, first.ID, entry.ID)
		assert.Equal(t, int64(25), f.credits(t), "balance unchanged")
	})
}

func TestRegistrationBonusUnknownUser(t *testing.T) {
	f := newFixture(t)
	svc := newBonusService(t, f, 25)

	_, err := svc.GrantRegistrationBonus(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrReferenceNotFound)
}

func TestRegistrationBonusDisabled(t *testing.T) {
	f := newFixture(t)
	svc := newBonusService(t, f, 0)

	entry, err := svc.GrantRegistrationBonus(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Zero(t, f.credits(t))
}
