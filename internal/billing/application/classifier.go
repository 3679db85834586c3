package application

import "strings"

// Action is the normalized form of an incoming gateway event type.
type Action string

const (
	// ActionIgnore is returned for event types the engine does not react to.
	ActionIgnore Action = "ignore"

	ActionCheckoutCompleted    Action = "checkout_completed"
	ActionInvoicePaid          Action = "invoice_paid"
	ActionSubscriptionCreated  Action = "subscription_created"
	ActionSubscriptionUpdated  Action = "subscription_updated"
	ActionSubscriptionCanceled Action = "subscription_canceled"
)

// Classify maps a raw gateway event type to an Action. Unrecognized types
// classify as ActionIgnore so the caller can acknowledge them without
// processing.
func Classify(eventType string) Action {
	switch strings.TrimSpace(eventType) {
	case "checkout.session.completed":
		return ActionCheckoutCompleted
	case "invoice.payment_succeeded":
		return ActionInvoicePaid
	case "customer.subscription.created":
		return ActionSubscriptionCreated
	case "customer.subscription.updated":
		return ActionSubscriptionUpdated
	case "customer.subscription.deleted":
		return ActionSubscriptionCanceled
	default:
		return ActionIgnore
	}
}
