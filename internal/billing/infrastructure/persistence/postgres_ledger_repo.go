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
	shared "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
)

// PostgresLedgerRepository implements domain.LedgerRepository on PostgreSQL.
// Entries are append-only; there is no update or delete path.
type PostgresLedgerRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresLedgerRepository creates a PostgreSQL ledger repository.
func NewPostgresLedgerRepository(pool *pgxpool.Pool) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{pool: pool}
}

// Append inserts the entry. A unique violation on source_event_id means the
// event was already applied concurrently; the error is returned unwrapped so
// callers can detect it.
func (r *PostgresLedgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	exec := shared.Executor(ctx, r.pool)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := exec.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, user_id, delta, previous_credits, new_credits,
			reason, reason_detail, source_event_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, entry.Delta, entry.PreviousCredits, entry.NewCredits,
		entry.Reason, entry.ReasonDetail, entry.SourceEventID, entry.CreatedAt)
	return err
}

// FindBySourceEventID returns nil, nil when no entry exists for the event.
func (r *PostgresLedgerRepository) FindBySourceEventID(ctx context.Context, sourceEventID string) (*domain.LedgerEntry, error) {
	exec := shared.Executor(ctx, r.pool)
	row := exec.QueryRow(ctx, ledgerColumns+` WHERE source_event_id = $1`, sourceEventID)
	entry, err := scanLedgerEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

func (r *PostgresLedgerRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.LedgerEntry, error) {
	exec := shared.Executor(ctx, r.pool)
	rows, err := exec.Query(ctx, ledgerColumns+` WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SumDeltas returns the running sum of the user's ledger, which must equal
// the user's stored balance.
func (r *PostgresLedgerRepository) SumDeltas(ctx context.Context, userID uuid.UUID) (int64, error) {
	exec := shared.Executor(ctx, r.pool)
	var sum int64
	err := exec.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1`,
		userID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger deltas: %w", err)
	}
	return sum, nil
}

const ledgerColumns = `
	SELECT id, user_id, delta, previous_credits, new_credits,
	       reason, reason_detail, source_event_id, created_at
	FROM ledger_entries`

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := row.Scan(&entry.ID, &entry.UserID, &entry.Delta,
		&entry.PreviousCredits, &entry.NewCredits,
		&entry.Reason, &entry.ReasonDetail, &entry.SourceEventID, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
