package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	shared "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
)

// SQLiteLedgerRepository implements domain.LedgerRepository on SQLite.
// Entries are append-only; there is no update or delete path.
type SQLiteLedgerRepository struct {
	db *sql.DB
}

// NewSQLiteLedgerRepository creates a SQLite ledger repository.
func NewSQLiteLedgerRepository(db *sql.DB) *SQLiteLedgerRepository {
	return &SQLiteLedgerRepository{db: db}
}

// Append inserts the entry. A unique violation on source_event_id means the
// event was already applied concurrently; the error is returned unwrapped so
// callers can detect it.
func (r *SQLiteLedgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	exec := shared.SQLiteExecutor(ctx, r.db)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var sourceEventID any
	if entry.SourceEventID != nil {
		sourceEventID = *entry.SourceEventID
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, user_id, delta, previous_credits, new_credits,
			reason, reason_detail, source_event_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.UserID.String(), entry.Delta,
		entry.PreviousCredits, entry.NewCredits,
		string(entry.Reason), entry.ReasonDetail, sourceEventID,
		entry.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// FindBySourceEventID returns nil, nil when no entry exists for the event.
func (r *SQLiteLedgerRepository) FindBySourceEventID(ctx context.Context, sourceEventID string) (*domain.LedgerEntry, error) {
	exec := shared.SQLiteExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, sqliteLedgerColumns+` WHERE source_event_id = ?`, sourceEventID)
	entry, err := scanSQLiteLedgerEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

func (r *SQLiteLedgerRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.LedgerEntry, error) {
	exec := shared.SQLiteExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, sqliteLedgerColumns+` WHERE user_id = ? ORDER BY created_at, id`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		entry, err := scanSQLiteLedgerEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SumDeltas returns the running sum of the user's ledger, which must equal
// the user's stored balance.
func (r *SQLiteLedgerRepository) SumDeltas(ctx context.Context, userID uuid.UUID) (int64, error) {
	exec := shared.SQLiteExecutor(ctx, r.db)
	var sum int64
	err := exec.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = ?`,
		userID.String()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger deltas: %w", err)
	}
	return sum, nil
}

const sqliteLedgerColumns = `
	SELECT id, user_id, delta, previous_credits, new_credits,
	       reason, reason_detail, source_event_id, created_at
	FROM ledger_entries`

func scanSQLiteLedgerEntry(scan func(dest ...any) error) (*domain.LedgerEntry, error) {
	var (
		entry         domain.LedgerEntry
		id, userID    string
		reason        string
		sourceEventID sql.NullString
		createdAt     string
	)
	err := scan(&id, &userID, &entry.Delta,
		&entry.PreviousCredits, &entry.NewCredits,
		&reason, &entry.ReasonDetail, &sourceEventID, &createdAt)
	if err != nil {
		return nil, err
	}
	if entry.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	if entry.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	entry.Reason = domain.Reason(reason)
	if sourceEventID.Valid {
		s := sourceEventID.String
		entry.SourceEventID = &s
	}
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &entry, nil
}
