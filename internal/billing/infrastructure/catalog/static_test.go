package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
)

func TestStaticCatalog(t *testing.T) {
	c := NewStaticCatalog(DefaultPlans())
	ctx := context.Background()

	t.Run("monthly price", func(t *testing.T) {
		info, err := c.CreditsForPrice(ctx, "price_professional_month")
		require.NoError(t, err)
		assert.Equal(t, int64(1500), info.Credits)
		assert.Equal(t, domain.IntervalMonth, info.Interval)
	})

	t.Run("yearly price carries the same allotment", func(t *testing.T) {
		info, err := c.CreditsForPrice(ctx, "price_business_year")
		require.NoError(t, err)
		assert.Equal(t, int64(4000), info.Credits)
		assert.Equal(t, domain.IntervalYear, info.Interval)
	})

	t.Run("unknown price", func(t *testing.T) {
		_, err := c.CreditsForPrice(ctx, "price_nope")
		require.ErrorIs(t, err, domain.ErrPriceUnknown)
	})
}

func TestStaticCatalogSkipsEmptyPriceIDs(t *testing.T) {
	c := NewStaticCatalog([]domain.Plan{{ID: "solo", Name: "Solo", Credits: 100, MonthlyPriceID: "price_solo"}})

	info, err := c.CreditsForPrice(context.Background(), "price_solo")
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Credits)

	_, err = c.CreditsForPrice(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrPriceUnknown)
}
