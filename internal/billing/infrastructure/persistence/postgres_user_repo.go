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

// PostgresUserRepository implements domain.UserRepository on PostgreSQL.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository creates a PostgreSQL user repository.
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	exec := shared.Executor(ctx, r.pool)
	now := time.Now().UTC()
	_, err := exec.Exec(ctx, `
		INSERT INTO users (id, email, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		user.ID, user.Email, user.Credits, now)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *PostgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	exec := shared.Executor(ctx, r.pool)
	row := exec.QueryRow(ctx, `
		SELECT id, email, credits, created_at, updated_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetForUpdate locks the user's row until the ambient transaction ends.
func (r *PostgresUserRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if _, ok := shared.TxInfoFromContext(ctx); !ok {
		return nil, errors.New("GetForUpdate requires a transaction")
	}
	exec := shared.Executor(ctx, r.pool)
	row := exec.QueryRow(ctx, `
		SELECT id, email, credits, created_at, updated_at
		FROM users WHERE id = $1
		FOR UPDATE`, id)
	return scanUser(row)
}

func (r *PostgresUserRepository) SetCredits(ctx context.Context, id uuid.UUID, credits int64) error {
	exec := shared.Executor(ctx, r.pool)
	tag, err := exec.Exec(ctx, `
		UPDATE users SET credits = $2, updated_at = $3 WHERE id = $1`,
		id, credits, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNoRows
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.Credits, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNoRows
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}
