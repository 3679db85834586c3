package domain

import (
	"time"

	"github.com/google/uuid"
)

// User holds the credit balance projection for one account.
// Credits must always equal the running sum of the user's ledger entries;
// only the reconciler mutates it, inside a per-user transaction.
type User struct {
	ID        uuid.UUID
	Email     string
	Credits   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
