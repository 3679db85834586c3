package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
	shared "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
)

// PostgresSubscriptionRepository implements domain.SubscriptionRepository on
// PostgreSQL.
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSubscriptionRepository creates a PostgreSQL subscription repository.
func NewPostgresSubscriptionRepository(pool *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool}
}

// Upsert inserts or replaces the projection keyed by subscription id.
func (r *PostgresSubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	exec := shared.Executor(ctx, r.pool)
	metadata, err := json.Marshal(orEmpty(sub.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := time.Now().UTC()
	_, err = exec.Exec(ctx, `
		INSERT INTO subscriptions (
			id, customer_id, price_id, status,
			current_period_start, current_period_end, canceled_at,
			metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			price_id = EXCLUDED.price_id,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			canceled_at = EXCLUDED.canceled_at,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.CustomerID, sub.PriceID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CanceledAt,
		metadata, now)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	sub.UpdatedAt = now
	return nil
}

func (r *PostgresSubscriptionRepository) FindByID(ctx context.Context, id string) (*domain.Subscription, error) {
	exec := shared.Executor(ctx, r.pool)
	row := exec.QueryRow(ctx, subscriptionColumns+` WHERE id = $1`, id)
	return scanSubscription(row)
}

func (r *PostgresSubscriptionRepository) ListByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	exec := shared.Executor(ctx, r.pool)
	rows, err := exec.Query(ctx, subscriptionColumns+` WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

const subscriptionColumns = `
	SELECT id, customer_id, price_id, status,
	       current_period_start, current_period_end, canceled_at,
	       metadata, created_at, updated_at
	FROM subscriptions`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub      domain.Subscription
		metadata []byte
	)
	err := row.Scan(&sub.ID, &sub.CustomerID, &sub.PriceID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CanceledAt,
		&metadata, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNoRows
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &sub, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
