package catalog

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
)

// DefaultPlans is the built-in product catalog. Price ids are overridden
// from the environment in real deployments; these defaults make local and
// test setups work without any gateway configuration.
func DefaultPlans() []domain.Plan {
	return []domain.Plan{
		{
			ID:             "starter",
			Name:           "Starter",
			Credits:        500,
			MonthlyPriceID: "price_starter_month",
			YearlyPriceID:  "price_starter_year",
		},
		{
			ID:             "professional",
			Name:           "Professional",
			Credits:        1500,
			MonthlyPriceID: "price_professional_month",
			YearlyPriceID:  "price_professional_year",
		},
		{
			ID:             "business",
			Name:           "Business",
			Credits:        4000,
			MonthlyPriceID: "price_business_month",
			YearlyPriceID:  "price_business_year",
		},
	}
}

// StaticCatalog resolves prices from an in-memory plan table.
type StaticCatalog struct {
	prices map[string]domain.PriceInfo
}

// NewStaticCatalog builds a catalog from the given plans.
func NewStaticCatalog(plans []domain.Plan) *StaticCatalog {
	prices := make(map[string]domain.PriceInfo, len(plans)*2)
	for _, plan := range plans {
		if plan.MonthlyPriceID != "" {
			prices[plan.MonthlyPriceID] = domain.PriceInfo{
				Credits:  plan.Credits,
				Interval: domain.IntervalMonth,
			}
		}
		if plan.YearlyPriceID != "" {
			prices[plan.YearlyPriceID] = domain.PriceInfo{
				Credits:  plan.Credits,
				Interval: domain.IntervalYear,
			}
		}
	}
	return &StaticCatalog{prices: prices}
}

// CreditsForPrice resolves a price id from the plan table.
func (c *StaticCatalog) CreditsForPrice(_ context.Context, priceID string) (domain.PriceInfo, error) {
	info, ok := c.prices[priceID]
	if !ok {
		return domain.PriceInfo{}, fmt.Errorf("price %s: %w", priceID, domain.ErrPriceUnknown)
	}
	return info, nil
}
