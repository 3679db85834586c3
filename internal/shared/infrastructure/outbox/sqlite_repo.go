package outbox

import (
	"context"
	"database/sql"
	"time"

	sharedPersistence "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
)

// SQLiteRepository implements Repository using SQLite.
// Timestamps are stored as RFC 3339 strings, matching the SQLite schema.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite outbox repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save stores a new outbox message.
func (r *SQLiteRepository) Save(ctx context.Context, msg *Message) error {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		INSERT INTO outbox (
			event_id, aggregate_type, aggregate_id, event_type, routing_key,
			payload, metadata, created_at, next_retry_at, dead_lettered_at, dead_letter_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.EventID.String(),
		msg.AggregateType,
		msg.AggregateID,
		msg.EventType,
		msg.RoutingKey,
		string(msg.Payload),
		string(msg.Metadata),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		formatNullableTime(msg.NextRetryAt),
		formatNullableTime(msg.DeadLetteredAt),
		msg.DeadLetterReason,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

// SaveBatch stores multiple outbox messages atomically.
func (r *SQLiteRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	if _, ok := sharedPersistence.SQLiteTxInfoFromContext(ctx); ok {
		for _, msg := range msgs {
			if err := r.Save(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	txCtx := sharedPersistence.WithSQLiteTx(ctx, tx, true)
	for _, msg := range msgs {
		if err := r.Save(txCtx, msg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetUnpublished retrieves unpublished, non-dead messages ready for delivery.
func (r *SQLiteRepository) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := q.QueryContext(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, routing_key,
		       payload, metadata, created_at, published_at, next_retry_at,
		       retry_count, last_error, dead_lettered_at, dead_letter_reason
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// MarkPublished marks a message as successfully published.
func (r *SQLiteRepository) MarkPublished(ctx context.Context, id int64) error {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)
	_, err := q.ExecContext(ctx,
		`UPDATE outbox SET published_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// MarkFailed records a publish failure with error message.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)
	_, err := q.ExecContext(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ?
		WHERE id = ?
	`, errMsg, nextRetryAt.UTC().Format(time.RFC3339Nano), id)
	return err
}

// MarkDead marks a message as dead-lettered.
func (r *SQLiteRepository) MarkDead(ctx context.Context, id int64, reason string) error {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)
	_, err := q.ExecContext(ctx, `
		UPDATE outbox
		SET dead_lettered_at = ?, dead_letter_reason = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), reason, id)
	return err
}

// DeleteOld removes successfully published messages older than the retention period.
func (r *SQLiteRepository) DeleteOld(ctx context.Context, olderThanDays int) (int64, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(time.RFC3339Nano)
	res, err := q.ExecContext(ctx, `
		DELETE FROM outbox
		WHERE published_at IS NOT NULL AND published_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (*Message, error) {
	msg := &Message{}
	var (
		eventID        string
		payload        string
		metadata       string
		createdAt      string
		publishedAt    sql.NullString
		nextRetryAt    sql.NullString
		deadLetteredAt sql.NullString
	)

	if err := row.Scan(
		&msg.ID,
		&eventID,
		&msg.AggregateType,
		&msg.AggregateID,
		&msg.EventType,
		&msg.RoutingKey,
		&payload,
		&metadata,
		&createdAt,
		&publishedAt,
		&nextRetryAt,
		&msg.RetryCount,
		&msg.LastError,
		&deadLetteredAt,
		&msg.DeadLetterReason,
	); err != nil {
		return nil, err
	}

	var err error
	if msg.EventID, err = uuid.Parse(eventID); err != nil {
		return nil, err
	}
	msg.Payload = []byte(payload)
	msg.Metadata = []byte(metadata)
	if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if msg.PublishedAt, err = parseNullableTime(publishedAt); err != nil {
		return nil, err
	}
	if msg.NextRetryAt, err = parseNullableTime(nextRetryAt); err != nil {
		return nil, err
	}
	if msg.DeadLetteredAt, err = parseNullableTime(deadLetteredAt); err != nil {
		return nil, err
	}

	return msg, nil
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
