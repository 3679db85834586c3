package domain

import "time"

// ChangeKind tags what a subscription-updated notification changed.
type ChangeKind int

const (
	// ChangeOther covers updates that affect neither price nor period.
	ChangeOther ChangeKind = iota
	// ChangePrice means the subscription moved to a different price
	// (upgrade or downgrade).
	ChangePrice
	// ChangePeriod means the period bounds advanced with the price
	// unchanged (a renewal signaled without a distinct invoice).
	ChangePeriod
)

// SubscriptionChange is the structured diff of an update notification,
// computed once at the gateway boundary from the raw previous-attributes
// blob and consumed exhaustively by the policy engine.
type SubscriptionChange struct {
	Kind       ChangeKind
	OldPriceID string
	NewPriceID string
}

// Notification is one verified, parsed gateway event. Exactly one of
// Subscription, Invoice, Checkout is set, depending on the event type;
// all are nil for types this system does not model.
type Notification struct {
	EventID string
	Type    string

	Subscription *SubscriptionNotice
	Invoice      *InvoiceNotice
	Checkout     *CheckoutNotice

	// Change is only meaningful for subscription-updated notifications.
	Change SubscriptionChange
}

// SubscriptionNotice is the subscription object carried by lifecycle events.
type SubscriptionNotice struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
	Metadata           map[string]string
	CancellationReason string
}

// InvoiceLine is one line item of an invoice notification.
type InvoiceLine struct {
	Description string
	PriceID     string
	Proration   bool
}

// InvoiceNotice is the invoice object carried by payment events.
type InvoiceNotice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	BillingReason  string
	// PriceID is the subscription's current price on this invoice.
	PriceID string
	Lines   []InvoiceLine
}

// Invoice billing reasons this system acts on.
const (
	BillingReasonSubscriptionCreate = "subscription_create"
	BillingReasonSubscriptionCycle  = "subscription_cycle"
	BillingReasonSubscriptionUpdate = "subscription_update"
)

// Checkout session modes.
const (
	CheckoutModePayment      = "payment"
	CheckoutModeSubscription = "subscription"
)

// CheckoutNotice is the checkout session object of a completed checkout.
type CheckoutNotice struct {
	ID             string
	Mode           string
	CustomerID     string
	SubscriptionID string
	// UserID is the application user id the checkout was created for,
	// carried in the session metadata.
	UserID string
	// Credits is the one-time purchase amount from session metadata;
	// zero for subscription-mode checkouts.
	Credits int64
}
