package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reason classifies why a ledger entry changed the balance.
type Reason string

const (
	ReasonRegistrationBonus   Reason = "REGISTRATION_BONUS"
	ReasonPurchase            Reason = "PURCHASE"
	ReasonSubscriptionCreate  Reason = "SUBSCRIPTION_CREATE"
	ReasonSubscriptionRenewal Reason = "SUBSCRIPTION_RENEWAL"
	ReasonSubscriptionUpdate  Reason = "SUBSCRIPTION_UPDATE"
	ReasonMonthlyReset        Reason = "MONTHLY_RESET"
)

// LedgerEntry is one immutable, append-only balance change.
// SourceEventID is the idempotency key: at most one entry may exist per
// gateway event.
type LedgerEntry struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Delta           int64
	PreviousCredits int64
	NewCredits      int64
	Reason          Reason
	ReasonDetail    string
	SourceEventID   *string
	CreatedAt       time.Time
}

// NewLedgerEntry builds a balance change from the previous balance and a
// signed delta.
func NewLedgerEntry(userID uuid.UUID, previous, delta int64, reason Reason, detail string, sourceEventID string) *LedgerEntry {
	entry := &LedgerEntry{
		ID:              uuid.New(),
		UserID:          userID,
		Delta:           delta,
		PreviousCredits: previous,
		NewCredits:      previous + delta,
		Reason:          reason,
		ReasonDetail:    detail,
		CreatedAt:       time.Now().UTC(),
	}
	if sourceEventID != "" {
		entry.SourceEventID = &sourceEventID
	}
	return entry
}

// Validate checks the entry invariants: the before/after arithmetic must
// hold and the resulting balance may never be negative.
func (e *LedgerEntry) Validate() error {
	if e.NewCredits != e.PreviousCredits+e.Delta {
		return fmt.Errorf("%w: entry arithmetic broken (%d != %d%+d)",
			ErrPolicyViolation, e.NewCredits, e.PreviousCredits, e.Delta)
	}
	if e.NewCredits < 0 {
		return fmt.Errorf("%w: balance would go negative (%d%+d)",
			ErrPolicyViolation, e.PreviousCredits, e.Delta)
	}
	return nil
}
