package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/migrations"
	shared "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), db))
	return db
}

func createTestUser(t *testing.T, db *sql.DB, credits int64) *domain.User {
	t.Helper()
	user := &domain.User{
		ID:      uuid.New(),
		Email:   uuid.New().String() + "@example.com",
		Credits: credits,
	}
	require.NoError(t, NewSQLiteUserRepository(db).Create(context.Background(), user))
	return user
}

func TestSQLiteUserRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteUserRepository(db)
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		user := createTestUser(t, db, 100)

		found, err := repo.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)
		assert.Equal(t, user.Email, found.Email)
		assert.Equal(t, int64(100), found.Credits)
	})

	t.Run("find missing returns ErrNoRows", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		require.ErrorIs(t, err, database.ErrNoRows)
	})

	t.Run("set credits", func(t *testing.T) {
		user := createTestUser(t, db, 0)
		require.NoError(t, repo.SetCredits(ctx, user.ID, 750))

		found, err := repo.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(750), found.Credits)
	})

	t.Run("set credits on missing user", func(t *testing.T) {
		err := repo.SetCredits(ctx, uuid.New(), 10)
		require.ErrorIs(t, err, database.ErrNoRows)
	})

	t.Run("GetForUpdate outside transaction fails", func(t *testing.T) {
		user := createTestUser(t, db, 0)
		_, err := repo.GetForUpdate(ctx, user.ID)
		require.Error(t, err)
	})

	t.Run("GetForUpdate inside transaction", func(t *testing.T) {
		user := createTestUser(t, db, 42)
		uow := shared.NewSQLiteUnitOfWork(db)
		txCtx, err := uow.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = uow.Rollback(txCtx) }()

		found, err := repo.GetForUpdate(txCtx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(42), found.Credits)
	})
}

func TestSQLiteCustomerRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteCustomerRepository(db)
	ctx := context.Background()

	user := createTestUser(t, db, 0)
	customer := &domain.Customer{ID: "cus_123", UserID: user.ID}
	require.NoError(t, repo.Create(ctx, customer))

	t.Run("find by gateway id", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "cus_123")
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.UserID)
	})

	t.Run("find by user id", func(t *testing.T) {
		found, err := repo.FindByUserID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "cus_123", found.ID)
	})

	t.Run("missing customer returns ErrNoRows", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "cus_unknown")
		require.ErrorIs(t, err, database.ErrNoRows)
	})

	t.Run("duplicate mapping rejected", func(t *testing.T) {
		err := repo.Create(ctx, &domain.Customer{ID: "cus_123", UserID: user.ID})
		require.Error(t, err)
		assert.True(t, database.IsUniqueViolation(err))
	})
}

func TestSQLiteSubscriptionRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db)
	ctx := context.Background()

	user := createTestUser(t, db, 0)
	require.NoError(t, NewSQLiteCustomerRepository(db).Create(ctx, &domain.Customer{ID: "cus_1", UserID: user.ID}))

	periodStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	sub := &domain.Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		PriceID:            "price_starter_month",
		Status:             domain.SubscriptionActive,
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
		Metadata:           map[string]string{"plan": "starter"},
	}

	t.Run("insert and find", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, sub))

		found, err := repo.FindByID(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionActive, found.Status)
		assert.Equal(t, "price_starter_month", found.PriceID)
		require.NotNil(t, found.CurrentPeriodEnd)
		assert.True(t, periodEnd.Equal(*found.CurrentPeriodEnd))
		assert.Equal(t, "starter", found.Metadata["plan"])
	})

	t.Run("upsert replaces fields", func(t *testing.T) {
		updated := *sub
		updated.PriceID = "price_pro_month"
		updated.Status = domain.SubscriptionPastDue
		require.NoError(t, repo.Upsert(ctx, &updated))

		found, err := repo.FindByID(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, "price_pro_month", found.PriceID)
		assert.Equal(t, domain.SubscriptionPastDue, found.Status)
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		found1, err := repo.FindByID(ctx, "sub_1")
		require.NoError(t, err)
		require.NoError(t, repo.Upsert(ctx, found1))

		found2, err := repo.FindByID(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, found1.PriceID, found2.PriceID)
		assert.Equal(t, found1.Status, found2.Status)
	})

	t.Run("list by status", func(t *testing.T) {
		canceledAt := time.Now().UTC()
		require.NoError(t, repo.Upsert(ctx, &domain.Subscription{
			ID:         "sub_2",
			CustomerID: "cus_1",
			PriceID:    "price_starter_month",
			Status:     domain.SubscriptionCanceled,
			CanceledAt: &canceledAt,
		}))

		canceled, err := repo.ListByStatus(ctx, domain.SubscriptionCanceled)
		require.NoError(t, err)
		require.Len(t, canceled, 1)
		assert.Equal(t, "sub_2", canceled[0].ID)
		require.NotNil(t, canceled[0].CanceledAt)
	})

	t.Run("missing subscription returns ErrNoRows", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "sub_unknown")
		require.ErrorIs(t, err, database.ErrNoRows)
	})
}

func TestSQLiteLedgerRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteLedgerRepository(db)
	ctx := context.Background()

	user := createTestUser(t, db, 0)

	t.Run("append and find by source event", func(t *testing.T) {
		entry := domain.NewLedgerEntry(user.ID, 0, 500,
			domain.ReasonSubscriptionCreate, "price_starter_month", "evt_1")
		require.NoError(t, repo.Append(ctx, entry))

		found, err := repo.FindBySourceEventID(ctx, "evt_1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, entry.ID, found.ID)
		assert.Equal(t, int64(500), found.Delta)
		assert.Equal(t, int64(500), found.NewCredits)
		assert.Equal(t, domain.ReasonSubscriptionCreate, found.Reason)
	})

	t.Run("missing source event returns nil", func(t *testing.T) {
		found, err := repo.FindBySourceEventID(ctx, "evt_unknown")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("duplicate source event rejected", func(t *testing.T) {
		dup := domain.NewLedgerEntry(user.ID, 500, 100,
			domain.ReasonPurchase, "", "evt_1")
		err := repo.Append(ctx, dup)
		require.Error(t, err)
		assert.True(t, database.IsUniqueViolation(err))
	})

	t.Run("list and sum", func(t *testing.T) {
		require.NoError(t, repo.Append(ctx, domain.NewLedgerEntry(user.ID, 500, -200,
			domain.ReasonSubscriptionRenewal, "price_starter_month", "evt_2")))

		entries, err := repo.ListByUser(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		sum, err := repo.SumDeltas(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(300), sum)
		assert.Equal(t, entries[len(entries)-1].NewCredits, sum)
	})

	t.Run("entry without source event", func(t *testing.T) {
		other := createTestUser(t, db, 0)
		entry := domain.NewLedgerEntry(other.ID, 0, 25, domain.ReasonRegistrationBonus, "welcome credits", "")
		require.NoError(t, repo.Append(ctx, entry))

		entries, err := repo.ListByUser(ctx, other.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Nil(t, entries[0].SourceEventID)
	})
}
