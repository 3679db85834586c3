package domain

import (
	"time"
)

// SubscriptionStatus represents the current billing state.
type SubscriptionStatus string

const (
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
)

// MetadataEndedReason is the metadata key recording why a subscription ended.
const MetadataEndedReason = "ended_reason"

// Subscription is the projection of one recurring subscription at the
// gateway. Rows are never deleted; cancellation is a status transition.
type Subscription struct {
	ID                 string // gateway subscription id
	CustomerID         string
	PriceID            string
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
	Metadata           map[string]string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsTerminal reports whether no further status transitions are allowed.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionCanceled
}

// CanTransitionTo reports whether the status machine permits moving to next.
// incomplete|trialing -> active -> {past_due <-> active} -> canceled.
// canceled is terminal. Same-status "transitions" are always allowed so that
// idempotent upserts stay valid.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	switch s {
	case SubscriptionIncomplete, SubscriptionTrialing:
		return next == SubscriptionActive || next == SubscriptionCanceled ||
			next == SubscriptionPastDue
	case SubscriptionActive:
		return next == SubscriptionPastDue || next == SubscriptionCanceled
	case SubscriptionPastDue:
		return next == SubscriptionActive || next == SubscriptionCanceled
	default:
		return false
	}
}
