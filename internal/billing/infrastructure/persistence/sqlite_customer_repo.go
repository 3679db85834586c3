package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
	shared "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
)

// SQLiteCustomerRepository implements domain.CustomerRepository on SQLite.
type SQLiteCustomerRepository struct {
	db *sql.DB
}

// NewSQLiteCustomerRepository creates a SQLite customer repository.
func NewSQLiteCustomerRepository(db *sql.DB) *SQLiteCustomerRepository {
	return &SQLiteCustomerRepository{db: db}
}

func (r *SQLiteCustomerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	exec := shared.SQLiteExecutor(ctx, r.db)
	now := time.Now().UTC()
	_, err := exec.ExecContext(ctx, `
		INSERT INTO customers (id, user_id, created_at)
		VALUES (?, ?, ?)`,
		customer.ID, customer.UserID.String(), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	customer.CreatedAt = now
	return nil
}

func (r *SQLiteCustomerRepository) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	exec := shared.SQLiteExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `
		SELECT id, user_id, created_at FROM customers WHERE id = ?`, id)
	return scanSQLiteCustomer(row)
}

func (r *SQLiteCustomerRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Customer, error) {
	exec := shared.SQLiteExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `
		SELECT id, user_id, created_at FROM customers WHERE user_id = ?`, userID.String())
	return scanSQLiteCustomer(row)
}

func scanSQLiteCustomer(row *sql.Row) (*domain.Customer, error) {
	var (
		customer  domain.Customer
		userID    string
		createdAt string
	)
	err := row.Scan(&customer.ID, &userID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNoRows
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	customer.UserID, err = uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	if customer.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &customer, nil
}
