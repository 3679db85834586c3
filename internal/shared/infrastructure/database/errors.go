package database

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoRows is returned when a query expected to return a row returns none.
var ErrNoRows = errors.New("no rows in result set")

// IsNoRows returns true if the error indicates no rows were found.
// This handles both pgx.ErrNoRows and sql.ErrNoRows.
func IsNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrNoRows)
}

// IsUniqueViolation returns true if the error is a unique constraint
// violation. The ledger relies on this to detect concurrent duplicate
// applies of the same source event.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// modernc.org/sqlite reports constraint violations as generic errors;
	// match on the SQLite error message.
	return containsConstraint(err.Error())
}

func containsConstraint(msg string) bool {
	for i := 0; i+6 <= len(msg); i++ {
		if msg[i:i+6] == "UNIQUE" || msg[i:i+6] == "unique" {
			return true
		}
	}
	return false
}
