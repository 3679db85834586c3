package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
)

// Session metadata keys written by the checkout flow.
const (
	metadataUserID  = "userId"
	metadataCredits = "credits"
)

// The gateway's webhook payloads are decoded with narrow local structs
// instead of the SDK's full API models: webhook objects carry plain id
// strings where the API models expect expandable objects, and only a
// handful of fields matter here.

type priceRef struct {
	ID string `json:"id"`
}

type subscriptionItem struct {
	Price priceRef `json:"price"`
}

type itemList struct {
	Data []subscriptionItem `json:"data"`
}

type subscriptionObject struct {
	ID                  string            `json:"id"`
	Customer            string            `json:"customer"`
	Status              string            `json:"status"`
	CurrentPeriodStart  int64             `json:"current_period_start"`
	CurrentPeriodEnd    int64             `json:"current_period_end"`
	CanceledAt          int64             `json:"canceled_at"`
	Items               itemList          `json:"items"`
	Metadata            map[string]string `json:"metadata"`
	CancellationDetails struct {
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
}

func parseSubscription(raw json.RawMessage) (*domain.SubscriptionNotice, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", domain.ErrMalformedPayload)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("subscription without id: %w", domain.ErrMalformedPayload)
	}

	notice := &domain.SubscriptionNotice{
		ID:                 obj.ID,
		CustomerID:         obj.Customer,
		Status:             domain.SubscriptionStatus(obj.Status),
		CurrentPeriodStart: unixPtr(obj.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(obj.CurrentPeriodEnd),
		CanceledAt:         unixPtr(obj.CanceledAt),
		Metadata:           obj.Metadata,
		CancellationReason: obj.CancellationDetails.Reason,
	}
	if len(obj.Items.Data) > 0 {
		notice.PriceID = obj.Items.Data[0].Price.ID
	}
	return notice, nil
}

type invoiceLineObject struct {
	Description string   `json:"description"`
	Proration   bool     `json:"proration"`
	Price       priceRef `json:"price"`
}

type invoiceObject struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	Lines         struct {
		Data []invoiceLineObject `json:"data"`
	} `json:"lines"`
}

func parseInvoice(raw json.RawMessage) (*domain.InvoiceNotice, error) {
	var obj invoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", domain.ErrMalformedPayload)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("invoice without id: %w", domain.ErrMalformedPayload)
	}

	notice := &domain.InvoiceNotice{
		ID:             obj.ID,
		CustomerID:     obj.Customer,
		SubscriptionID: obj.Subscription,
		BillingReason:  obj.BillingReason,
	}
	for _, line := range obj.Lines.Data {
		notice.Lines = append(notice.Lines, domain.InvoiceLine{
			Description: line.Description,
			PriceID:     line.Price.ID,
			Proration:   line.Proration,
		})
	}
	notice.PriceID = currentPrice(notice.Lines)
	return notice, nil
}

// currentPrice picks the price being billed on the invoice: the first
// non-proration line, or the last line of a pure proration invoice, which
// the gateway orders old price first.
func currentPrice(lines []domain.InvoiceLine) string {
	for _, line := range lines {
		if !line.Proration && line.PriceID != "" {
			return line.PriceID
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].PriceID != "" {
			return lines[i].PriceID
		}
	}
	return ""
}

type checkoutObject struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

func parseCheckout(raw json.RawMessage) (*domain.CheckoutNotice, error) {
	var obj checkoutObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", domain.ErrMalformedPayload)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("checkout session without id: %w", domain.ErrMalformedPayload)
	}

	notice := &domain.CheckoutNotice{
		ID:             obj.ID,
		Mode:           obj.Mode,
		CustomerID:     obj.Customer,
		SubscriptionID: obj.Subscription,
		UserID:         obj.Metadata[metadataUserID],
	}
	if raw, ok := obj.Metadata[metadataCredits]; ok {
		credits, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("checkout credits metadata %q: %w", raw, domain.ErrMalformedPayload)
		}
		notice.Credits = credits
	}
	return notice, nil
}

// classifyChange inspects the previous-attributes diff of an update event.
// A price change and a period advance can arrive in the same delivery; the
// price change wins because it is the one that affects grants.
func classifyChange(previous map[string]any, newPriceID string) domain.SubscriptionChange {
	if len(previous) == 0 {
		return domain.SubscriptionChange{Kind: domain.ChangeOther}
	}

	if itemsRaw, ok := previous["items"]; ok {
		change := domain.SubscriptionChange{
			Kind:       domain.ChangePrice,
			NewPriceID: newPriceID,
		}
		if payload, err := json.Marshal(itemsRaw); err == nil {
			var items itemList
			if json.Unmarshal(payload, &items) == nil && len(items.Data) > 0 {
				change.OldPriceID = items.Data[0].Price.ID
			}
		}
		return change
	}

	_, startChanged := previous["current_period_start"]
	_, endChanged := previous["current_period_end"]
	if startChanged || endChanged {
		return domain.SubscriptionChange{Kind: domain.ChangePeriod, NewPriceID: newPriceID}
	}
	return domain.SubscriptionChange{Kind: domain.ChangeOther}
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
