package app

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/creditd/pkg/config"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:            "test",
		DatabaseDriver:    "sqlite",
		SQLitePath:        filepath.Join(t.TempDir(), "creditd.db"),
		RegistrationBonus: 25,
	}
}

func TestNewContainerSQLite(t *testing.T) {
	cfg := localConfig(t)
	c, err := NewContainer(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.SQLiteDB)
	assert.Nil(t, c.DB, "local mode never touches postgres")
	assert.Nil(t, c.RedisClient, "local mode never touches redis")

	assert.NotNil(t, c.UserRepo)
	assert.NotNil(t, c.CustomerRepo)
	assert.NotNil(t, c.SubscriptionRepo)
	assert.NotNil(t, c.LedgerRepo)
	assert.NotNil(t, c.OutboxRepo)
	assert.NotNil(t, c.UnitOfWork)

	assert.NotNil(t, c.Verifier)
	assert.NotNil(t, c.Reconciler)
	assert.NotNil(t, c.BonusService)
	assert.NotNil(t, c.MonthlyReset)
	assert.NotNil(t, c.OutboxProcessor)
	assert.False(t, c.OutboxProcessor.IsRunning())
}

func TestNewContainerSQLiteRunsMigrations(t *testing.T) {
	cfg := localConfig(t)
	c, err := NewContainer(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer c.Close()

	for _, table := range []string{"users", "customers", "subscriptions", "ledger_entries", "outbox"} {
		var name string
		err := c.SQLiteDB.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestNewContainerSQLiteHealth(t *testing.T) {
	cfg := localConfig(t)
	c, err := NewContainer(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer c.Close()

	rec := httptest.NewRecorder()
	c.Health.HealthHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "sqlite")
}

func TestNewContainerUnknownDriver(t *testing.T) {
	cfg := localConfig(t)
	cfg.DatabaseDriver = "oracle"

	_, err := NewContainer(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
