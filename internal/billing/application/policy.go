package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
)

// GrantMode says how a credit grant is applied to the user's balance.
type GrantMode int

const (
	// GrantIncrement adds the amount to the current balance.
	GrantIncrement GrantMode = iota
	// GrantAbsolute resets the balance to the amount. The delta recorded in
	// the ledger is computed against the balance read inside the transaction.
	GrantAbsolute
)

// CreditGrant is a pending balance change produced by the decision table.
type CreditGrant struct {
	Mode   GrantMode
	Amount int64
	Reason domain.Reason
	Detail string
}

// Decision is the outcome of evaluating one notification. Either field may
// be nil; a decision with both nil means the event carries nothing to apply.
type Decision struct {
	Upsert *domain.Subscription
	Grant  *CreditGrant
}

// Engine evaluates notifications against the billing decision table. It is
// pure with respect to state: it never reads or writes repositories, only the
// price catalog.
type Engine struct {
	catalog domain.Catalog
	logger  *slog.Logger
}

// NewEngine creates a decision engine backed by the given price catalog.
func NewEngine(catalog domain.Catalog, logger *slog.Logger) *Engine {
	return &Engine{catalog: catalog, logger: logger}
}

// Decide maps a classified notification to the state changes it implies.
func (e *Engine) Decide(ctx context.Context, action Action, n *domain.Notification) (Decision, error) {
	switch action {
	case ActionSubscriptionCreated:
		// The creation invoice carries the initial grant; registering the
		// subscription here and granting on invoice.payment_succeeded keeps
		// the grant tied to confirmed payment.
		sub := subscriptionFromNotice(n.Subscription)
		if sub == nil {
			return Decision{}, fmt.Errorf("subscription notice: %w", domain.ErrMalformedPayload)
		}
		return Decision{Upsert: sub}, nil

	case ActionSubscriptionUpdated:
		sub := subscriptionFromNotice(n.Subscription)
		if sub == nil {
			return Decision{}, fmt.Errorf("subscription notice: %w", domain.ErrMalformedPayload)
		}
		return e.decideUpdate(ctx, sub, n.Change)

	case ActionSubscriptionCanceled:
		sub := subscriptionFromNotice(n.Subscription)
		if sub == nil {
			return Decision{}, fmt.Errorf("subscription notice: %w", domain.ErrMalformedPayload)
		}
		sub.Status = domain.SubscriptionCanceled
		if reason := n.Subscription.CancellationReason; reason != "" {
			sub.Metadata[domain.MetadataEndedReason] = reason
		}
		return Decision{Upsert: sub}, nil

	case ActionInvoicePaid:
		return e.decideInvoice(ctx, n.Invoice)

	case ActionCheckoutCompleted:
		return e.decideCheckout(ctx, n.Checkout)

	default:
		return Decision{}, nil
	}
}

// decideUpdate handles the subscription-updated paths that mirror invoice
// grants: a price change grants the positive difference directly, a period
// advance with an unchanged price is a renewal reset. When the corresponding
// invoice event already granted, the source-event dedup makes the second
// attempt a no-op.
func (e *Engine) decideUpdate(ctx context.Context, sub *domain.Subscription, change domain.SubscriptionChange) (Decision, error) {
	switch change.Kind {
	case domain.ChangePrice:
		// Without the outgoing price there is no difference to compute.
		if change.OldPriceID == "" {
			e.logger.WarnContext(ctx, "price change without outgoing price id, skipping grant",
				slog.String("subscription_id", sub.ID))
			return Decision{Upsert: sub}, nil
		}
		newCredits, err := e.creditsFor(ctx, change.NewPriceID)
		if err != nil {
			return Decision{}, err
		}
		oldCredits, err := e.creditsFor(ctx, change.OldPriceID)
		if err != nil {
			return Decision{}, err
		}
		diff := newCredits - oldCredits
		if diff <= 0 {
			return Decision{Upsert: sub}, nil
		}
		return Decision{Upsert: sub, Grant: &CreditGrant{
			Mode:   GrantIncrement,
			Amount: diff,
			Reason: domain.ReasonSubscriptionUpdate,
			Detail: fmt.Sprintf("%s -> %s", change.OldPriceID, change.NewPriceID),
		}}, nil

	case domain.ChangePeriod:
		credits, err := e.creditsFor(ctx, sub.PriceID)
		if err != nil {
			return Decision{}, err
		}
		if credits == 0 {
			return Decision{Upsert: sub}, nil
		}
		return Decision{Upsert: sub, Grant: &CreditGrant{
			Mode:   GrantAbsolute,
			Amount: credits,
			Reason: domain.ReasonSubscriptionRenewal,
			Detail: sub.PriceID,
		}}, nil

	default:
		return Decision{Upsert: sub}, nil
	}
}

func (e *Engine) decideInvoice(ctx context.Context, inv *domain.InvoiceNotice) (Decision, error) {
	if inv == nil {
		return Decision{}, fmt.Errorf("invoice notice: %w", domain.ErrMalformedPayload)
	}

	switch inv.BillingReason {
	case domain.BillingReasonSubscriptionCreate:
		credits, err := e.creditsFor(ctx, inv.PriceID)
		if err != nil {
			return Decision{}, err
		}
		if credits == 0 {
			return Decision{}, nil
		}
		return Decision{Grant: &CreditGrant{
			Mode:   GrantIncrement,
			Amount: credits,
			Reason: domain.ReasonSubscriptionCreate,
			Detail: inv.PriceID,
		}}, nil

	case domain.BillingReasonSubscriptionCycle:
		credits, err := e.creditsFor(ctx, inv.PriceID)
		if err != nil {
			return Decision{}, err
		}
		if credits == 0 {
			return Decision{}, nil
		}
		return Decision{Grant: &CreditGrant{
			Mode:   GrantAbsolute,
			Amount: credits,
			Reason: domain.ReasonSubscriptionRenewal,
			Detail: inv.PriceID,
		}}, nil

	case domain.BillingReasonSubscriptionUpdate:
		return e.decideUpgrade(ctx, inv)

	default:
		return Decision{}, nil
	}
}

// decideUpgrade grants the positive credit difference on a plan change. The
// outgoing price is taken from the invoice's proration line; downgrades grant
// nothing here, the next renewal resets the balance to the cheaper plan.
func (e *Engine) decideUpgrade(ctx context.Context, inv *domain.InvoiceNotice) (Decision, error) {
	newCredits, err := e.creditsFor(ctx, inv.PriceID)
	if err != nil {
		return Decision{}, err
	}

	oldPriceID := previousPriceID(inv)
	if oldPriceID == "" {
		e.logger.WarnContext(ctx, "upgrade invoice has no proration line, skipping grant",
			slog.String("invoice_id", inv.ID))
		return Decision{}, nil
	}

	oldCredits, err := e.creditsFor(ctx, oldPriceID)
	if err != nil {
		return Decision{}, err
	}

	diff := newCredits - oldCredits
	if diff <= 0 {
		return Decision{}, nil
	}
	return Decision{Grant: &CreditGrant{
		Mode:   GrantIncrement,
		Amount: diff,
		Reason: domain.ReasonSubscriptionUpdate,
		Detail: fmt.Sprintf("%s -> %s", oldPriceID, inv.PriceID),
	}}, nil
}

// previousPriceID finds the price the subscriber moved away from. Proration
// metadata is preferred; when the gateway omits it, the "Unused time" credit
// line identifies the outgoing price.
func previousPriceID(inv *domain.InvoiceNotice) string {
	for _, line := range inv.Lines {
		if line.Proration && line.PriceID != "" && line.PriceID != inv.PriceID {
			return line.PriceID
		}
	}
	for _, line := range inv.Lines {
		if strings.HasPrefix(line.Description, "Unused time") && line.PriceID != "" {
			return line.PriceID
		}
	}
	return ""
}

func (e *Engine) decideCheckout(ctx context.Context, co *domain.CheckoutNotice) (Decision, error) {
	if co == nil {
		return Decision{}, fmt.Errorf("checkout notice: %w", domain.ErrMalformedPayload)
	}

	// Subscription checkouts are handled through the subscription and invoice
	// events; only one-time payments grant here.
	if co.Mode != domain.CheckoutModePayment {
		return Decision{}, nil
	}
	if co.Credits <= 0 {
		e.logger.WarnContext(ctx, "payment checkout without credits metadata, skipping grant",
			slog.String("checkout_id", co.ID))
		return Decision{}, nil
	}
	return Decision{Grant: &CreditGrant{
		Mode:   GrantIncrement,
		Amount: co.Credits,
		Reason: domain.ReasonPurchase,
		Detail: co.ID,
	}}, nil
}

// creditsFor resolves a price to its credit amount. Prices the catalog does
// not know grant zero credits rather than failing the event.
func (e *Engine) creditsFor(ctx context.Context, priceID string) (int64, error) {
	if priceID == "" {
		return 0, nil
	}
	info, err := e.catalog.CreditsForPrice(ctx, priceID)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnknown) {
			e.logger.WarnContext(ctx, "price not in catalog, treating as zero credits",
				slog.String("price_id", priceID))
			return 0, nil
		}
		return 0, fmt.Errorf("resolve price %s: %w", priceID, err)
	}
	return info.Credits, nil
}

func subscriptionFromNotice(s *domain.SubscriptionNotice) *domain.Subscription {
	if s == nil {
		return nil
	}
	sub := &domain.Subscription{
		ID:                 s.ID,
		CustomerID:         s.CustomerID,
		PriceID:            s.PriceID,
		Status:             s.Status,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CanceledAt:         s.CanceledAt,
		Metadata:           map[string]string{},
	}
	for k, v := range s.Metadata {
		sub.Metadata[k] = v
	}
	return sub
}
