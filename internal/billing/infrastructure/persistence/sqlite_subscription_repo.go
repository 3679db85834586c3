package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
	shared "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
)

// SQLiteSubscriptionRepository implements domain.SubscriptionRepository on
// SQLite.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

// NewSQLiteSubscriptionRepository creates a SQLite subscription repository.
func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

// Upsert inserts or replaces the projection keyed by subscription id.
func (r *SQLiteSubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	exec := shared.SQLiteExecutor(ctx, r.db)
	metadata, err := json.Marshal(orEmpty(sub.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := time.Now().UTC()
	_, err = exec.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, customer_id, price_id, status,
			current_period_start, current_period_end, canceled_at,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = excluded.customer_id,
			price_id = excluded.price_id,
			status = excluded.status,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			canceled_at = excluded.canceled_at,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		sub.ID, sub.CustomerID, sub.PriceID, string(sub.Status),
		formatTimePtr(sub.CurrentPeriodStart), formatTimePtr(sub.CurrentPeriodEnd),
		formatTimePtr(sub.CanceledAt),
		string(metadata), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	sub.UpdatedAt = now
	return nil
}

func (r *SQLiteSubscriptionRepository) FindByID(ctx context.Context, id string) (*domain.Subscription, error) {
	exec := shared.SQLiteExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, sqliteSubscriptionColumns+` WHERE id = ?`, id)
	sub, err := scanSQLiteSubscription(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNoRows
		}
		return nil, err
	}
	return sub, nil
}

func (r *SQLiteSubscriptionRepository) ListByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	exec := shared.SQLiteExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, sqliteSubscriptionColumns+` WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSQLiteSubscription(rows.Scan)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

const sqliteSubscriptionColumns = `
	SELECT id, customer_id, price_id, status,
	       current_period_start, current_period_end, canceled_at,
	       metadata, created_at, updated_at
	FROM subscriptions`

func scanSQLiteSubscription(scan func(dest ...any) error) (*domain.Subscription, error) {
	var (
		sub                domain.Subscription
		status             string
		start, end, cancel sql.NullString
		metadata           string
		createdAt, updated string
	)
	err := scan(&sub.ID, &sub.CustomerID, &sub.PriceID, &status,
		&start, &end, &cancel, &metadata, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	sub.Status = domain.SubscriptionStatus(status)
	if sub.CurrentPeriodStart, err = parseTimePtr(start); err != nil {
		return nil, err
	}
	if sub.CurrentPeriodEnd, err = parseTimePtr(end); err != nil {
		return nil, err
	}
	if sub.CanceledAt, err = parseTimePtr(cancel); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &sub.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &sub, nil
}
