package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
	shared "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
)

// PostgresCustomerRepository implements domain.CustomerRepository on PostgreSQL.
type PostgresCustomerRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCustomerRepository creates a PostgreSQL customer repository.
func NewPostgresCustomerRepository(pool *pgxpool.Pool) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{pool: pool}
}

func (r *PostgresCustomerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	exec := shared.Executor(ctx, r.pool)
	now := time.Now().UTC()
	_, err := exec.Exec(ctx, `
		INSERT INTO customers (id, user_id, created_at)
		VALUES ($1, $2, $3)`,
		customer.ID, customer.UserID, now)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	customer.CreatedAt = now
	return nil
}

func (r *PostgresCustomerRepository) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	exec := shared.Executor(ctx, r.pool)
	row := exec.QueryRow(ctx, `
		SELECT id, user_id, created_at FROM customers WHERE id = $1`, id)
	return scanCustomer(row)
}

func (r *PostgresCustomerRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Customer, error) {
	exec := shared.Executor(ctx, r.pool)
	row := exec.QueryRow(ctx, `
		SELECT id, user_id, created_at FROM customers WHERE user_id = $1`, userID)
	return scanCustomer(row)
}

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var customer domain.Customer
	err := row.Scan(&customer.ID, &customer.UserID, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNoRows
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	return &customer, nil
}
