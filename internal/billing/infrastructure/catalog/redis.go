package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
)

const cacheKeyPrefix = "catalog:price:"

// CachedCatalog caches price lookups in Redis in front of another catalog.
// A cache failure never fails the lookup; it falls through to the inner
// catalog.
type CachedCatalog struct {
	inner  domain.Catalog
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedCatalog wraps inner with a Redis cache.
func NewCachedCatalog(inner domain.Catalog, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedCatalog {
	return &CachedCatalog{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *CachedCatalog) CreditsForPrice(ctx context.Context, priceID string) (domain.PriceInfo, error) {
	key := cacheKeyPrefix + priceID

	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var info domain.PriceInfo
		if err := json.Unmarshal([]byte(cached), &info); err == nil {
			return info, nil
		}
		// Unreadable cache entries are dropped and refetched.
		_ = c.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "price cache read failed",
			slog.String("price_id", priceID),
			slog.String("error", err.Error()))
	}

	info, err := c.inner.CreditsForPrice(ctx, priceID)
	if err != nil {
		return domain.PriceInfo{}, err
	}

	if payload, err := json.Marshal(info); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "price cache write failed",
				slog.String("price_id", priceID),
				slog.String("error", err.Error()))
		}
	}
	return info, nil
}
