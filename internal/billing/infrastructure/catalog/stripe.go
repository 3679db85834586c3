package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
)

// MetadataCreditsPerMonth is the gateway metadata key holding a price's
// monthly credit allotment.
const MetadataCreditsPerMonth = "credits_per_month"

// StripeCatalog resolves prices against the Stripe API. Lookups run behind a
// circuit breaker so a gateway outage fails reconciliations fast instead of
// stacking up blocked webhook deliveries.
type StripeCatalog struct {
	breaker *gobreaker.CircuitBreaker[domain.PriceInfo]
	logger  *slog.Logger
}

// NewStripeCatalog creates a Stripe-backed catalog. apiKey configures the
// global Stripe client.
func NewStripeCatalog(apiKey string, logger *slog.Logger) *StripeCatalog {
	stripe.Key = apiKey
	breaker := gobreaker.NewCircuitBreaker[domain.PriceInfo](gobreaker.Settings{
		Name: "stripe-catalog",
		// An unknown price is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrPriceUnknown)
		},
	})
	return &StripeCatalog{breaker: breaker, logger: logger}
}

// CreditsForPrice looks the price up at the gateway. The credit allotment is
// read from the price's metadata, falling back to its product's metadata.
func (c *StripeCatalog) CreditsForPrice(ctx context.Context, priceID string) (domain.PriceInfo, error) {
	info, err := c.breaker.Execute(func() (domain.PriceInfo, error) {
		return c.lookup(ctx, priceID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.PriceInfo{}, fmt.Errorf("price lookup unavailable: %w", err)
		}
		return domain.PriceInfo{}, err
	}
	return info, nil
}

func (c *StripeCatalog) lookup(ctx context.Context, priceID string) (domain.PriceInfo, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	p, err := price.Get(priceID, params)
	if err != nil {
		if isMissing(err) {
			return domain.PriceInfo{}, fmt.Errorf("price %s: %w", priceID, domain.ErrPriceUnknown)
		}
		return domain.PriceInfo{}, fmt.Errorf("fetch price %s: %w", priceID, err)
	}

	info := domain.PriceInfo{Interval: domain.IntervalMonth}
	if p.Recurring != nil && p.Recurring.Interval == stripe.PriceRecurringIntervalYear {
		info.Interval = domain.IntervalYear
	}

	if raw, ok := p.Metadata[MetadataCreditsPerMonth]; ok {
		credits, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.PriceInfo{}, fmt.Errorf("price %s metadata %q: %w", priceID, raw, domain.ErrPriceUnknown)
		}
		info.Credits = credits
		return info, nil
	}

	if p.Product == nil {
		return domain.PriceInfo{}, fmt.Errorf("price %s has no credits metadata: %w", priceID, domain.ErrPriceUnknown)
	}

	prodParams := &stripe.ProductParams{}
	prodParams.Context = ctx
	prod, err := product.Get(p.Product.ID, prodParams)
	if err != nil {
		if isMissing(err) {
			return domain.PriceInfo{}, fmt.Errorf("product %s: %w", p.Product.ID, domain.ErrPriceUnknown)
		}
		return domain.PriceInfo{}, fmt.Errorf("fetch product %s: %w", p.Product.ID, err)
	}
	raw, ok := prod.Metadata[MetadataCreditsPerMonth]
	if !ok {
		c.logger.WarnContext(ctx, "price and product carry no credits metadata",
			slog.String("price_id", priceID),
			slog.String("product_id", prod.ID))
		return domain.PriceInfo{}, fmt.Errorf("price %s: %w", priceID, domain.ErrPriceUnknown)
	}
	credits, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return domain.PriceInfo{}, fmt.Errorf("product %s metadata %q: %w", prod.ID, raw, domain.ErrPriceUnknown)
	}
	info.Credits = credits
	return info, nil
}

func isMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
