package domain

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository defines access for the credit balance projection.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetForUpdate locks the user's row for the duration of the ambient
	// transaction. This is the per-user serialization point: concurrent
	// reconciliations for the same user queue behind this lock.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*User, error)
	SetCredits(ctx context.Context, id uuid.UUID, credits int64) error
}

// CustomerRepository defines access for the user-to-gateway mapping.
type CustomerRepository interface {
	Create(ctx context.Context, customer *Customer) error
	FindByID(ctx context.Context, id string) (*Customer, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Customer, error)
}

// SubscriptionRepository defines access for subscription projections.
type SubscriptionRepository interface {
	// Upsert is keyed by subscription id and idempotent: applying the
	// same upsert twice yields the same stored state.
	Upsert(ctx context.Context, subscription *Subscription) error
	FindByID(ctx context.Context, id string) (*Subscription, error)
	ListByStatus(ctx context.Context, status SubscriptionStatus) ([]*Subscription, error)
}

// LedgerRepository defines access for the append-only credit ledger.
type LedgerRepository interface {
	Append(ctx context.Context, entry *LedgerEntry) error
	// FindBySourceEventID returns nil, nil when no entry exists for the
	// event. This lookup is the idempotency guard and must be served by
	// an index.
	FindBySourceEventID(ctx context.Context, sourceEventID string) (*LedgerEntry, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*LedgerEntry, error)
	SumDeltas(ctx context.Context, userID uuid.UUID) (int64, error)
}
