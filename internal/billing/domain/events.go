package domain

import (
	shared "github.com/felixgeelhaar/creditd/internal/shared/domain"
)

// Routing keys for billing domain events.
const (
	RoutingKeyCreditsGranted      = "billing.credits.granted"
	RoutingKeySubscriptionChanged = "billing.subscription.changed"
)

// CreditsGranted is published after a ledger entry has been committed.
type CreditsGranted struct {
	shared.BaseEvent
	UserID     string `json:"user_id"`
	Delta      int64  `json:"delta"`
	NewCredits int64  `json:"new_credits"`
	Reason     Reason `json:"reason"`
	Detail     string `json:"detail,omitempty"`
}

// NewCreditsGranted creates the event for a committed ledger entry.
func NewCreditsGranted(entry *LedgerEntry) *CreditsGranted {
	return &CreditsGranted{
		BaseEvent:  shared.NewBaseEvent(entry.UserID.String(), "user", RoutingKeyCreditsGranted),
		UserID:     entry.UserID.String(),
		Delta:      entry.Delta,
		NewCredits: entry.NewCredits,
		Reason:     entry.Reason,
		Detail:     entry.ReasonDetail,
	}
}

// SubscriptionChanged is published after a subscription projection changed.
type SubscriptionChanged struct {
	shared.BaseEvent
	SubscriptionID string             `json:"subscription_id"`
	CustomerID     string             `json:"customer_id"`
	Status         SubscriptionStatus `json:"status"`
	PriceID        string             `json:"price_id"`
}

// NewSubscriptionChanged creates the event for a committed upsert.
func NewSubscriptionChanged(sub *Subscription) *SubscriptionChanged {
	return &SubscriptionChanged{
		BaseEvent:      shared.NewBaseEvent(sub.ID, "subscription", RoutingKeySubscriptionChanged),
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Status:         sub.Status,
		PriceID:        sub.PriceID,
	}
}
