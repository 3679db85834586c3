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

// SQLiteUserRepository implements domain.UserRepository on SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository creates a SQLite user repository.
func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

func (r *SQLiteUserRepository) Create(ctx context.Context, user *domain.User) error {
	exec := shared.SQLiteExecutor(ctx, r.db)
	now := time.Now().UTC()
	_, err := exec.ExecContext(ctx, `
		INSERT INTO users (id, email, credits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		user.ID.String(), user.Email, user.Credits,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *SQLiteUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	exec := shared.SQLiteExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `
		SELECT id, email, credits, created_at, updated_at
		FROM users WHERE id = ?`, id.String())
	return scanSQLiteUser(row)
}

// GetForUpdate reads the user inside the ambient transaction. SQLite has no
// row locks; the single-writer transaction model provides the serialization.
func (r *SQLiteUserRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if _, ok := shared.SQLiteTxInfoFromContext(ctx); !ok {
		return nil, errors.New("GetForUpdate requires a transaction")
	}
	return r.FindByID(ctx, id)
}

func (r *SQLiteUserRepository) SetCredits(ctx context.Context, id uuid.UUID, credits int64) error {
	exec := shared.SQLiteExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE users SET credits = ?, updated_at = ? WHERE id = ?`,
		credits, time.Now().UTC().Format(time.RFC3339Nano), id.String())
	if err != nil {
		return fmt.Errorf("update credits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return database.ErrNoRows
	}
	return nil
}

func scanSQLiteUser(row *sql.Row) (*domain.User, error) {
	var (
		user               domain.User
		id                 string
		createdAt, updated string
	)
	err := row.Scan(&id, &user.Email, &user.Credits, &createdAt, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNoRows
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if user.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &user, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
