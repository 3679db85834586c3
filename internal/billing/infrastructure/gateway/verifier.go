package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
)

// Verifier authenticates and normalizes incoming webhook deliveries.
// Signature verification runs against the raw request bytes before any
// parsing; an unverified payload is never interpreted.
type Verifier struct {
	secret string
}

// NewVerifier creates a verifier with the endpoint signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the delivery signature and parses the event into a
// notification. The signature covers the exact payload bytes as received.
func (v *Verifier) Verify(payload []byte, signature string) (*domain.Notification, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("no signing secret configured: %w", domain.ErrUnauthenticated)
	}

	// Webhook endpoints stay pinned to the API version they were created
	// with, which rarely matches the SDK's pinned version.
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	return parseEvent(&event)
}

func isSignatureError(err error) bool {
	if errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld) ||
		errors.Is(err, webhook.ErrInvalidHeader) {
		return true
	}
	// Older library versions wrap these differently.
	return strings.Contains(err.Error(), "signature")
}

func parseEvent(event *stripe.Event) (*domain.Notification, error) {
	n := &domain.Notification{
		EventID: event.ID,
		Type:    string(event.Type),
	}

	eventType := string(event.Type)
	switch {
	case strings.HasPrefix(eventType, "customer.subscription."):
		sub, err := parseSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		n.Subscription = sub
		n.Change = classifyChange(event.Data.PreviousAttributes, sub.PriceID)

	case strings.HasPrefix(eventType, "invoice."):
		inv, err := parseInvoice(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		n.Invoice = inv

	case strings.HasPrefix(eventType, "checkout.session."):
		co, err := parseCheckout(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		n.Checkout = co
	}

	return n, nil
}
