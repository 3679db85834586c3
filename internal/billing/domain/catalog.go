package domain

import "context"

// Interval is the billing period of a price.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// PriceInfo is what the reconciler needs to know about a price: how many
// credits one period is worth, and how long a period is.
type PriceInfo struct {
	Credits  int64    `json:"credits"`
	Interval Interval `json:"interval"`
}

// Plan is one entry of the static product catalog.
type Plan struct {
	ID             string
	Name           string
	Credits        int64
	MonthlyPriceID string
	YearlyPriceID  string
}

// Catalog resolves a gateway price id to its credit allotment.
// Must answer synchronously during reconciliation; a transient failure
// makes the reconciliation retryable.
type Catalog interface {
	CreditsForPrice(ctx context.Context, priceID string) (PriceInfo, error)
}
