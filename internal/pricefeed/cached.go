package pricefeed

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"optviz/internal/models"
	"optviz/internal/store"
)

// Cached serves quotes from the store while they are younger than the TTL
// and asks the next provider otherwise. Fresh quotes are written back. When
// the next provider fails, a stale stored quote is served instead.
type Cached struct {
	next   Provider
	store  store.DataStore
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewCached wraps next with a store-backed cache.
func NewCached(next Provider, ds store.DataStore, ttl time.Duration, logger zerolog.Logger) *Cached {
	return &Cached{
		next:   next,
		store:  ds,
		ttl:    ttl,
		logger: logger.With().Str("component", "pricecache").Logger(),
		now:    time.Now,
	}
}

// Name implements Provider.
func (c *Cached) Name() string { return c.next.Name() }

// Quote implements Provider.
func (c *Cached) Quote(ctx context.Context, token string) (models.SpotQuote, error) {
	token = NormalizeToken(token)

	cached, cacheErr := c.store.LatestQuote(ctx, token)
	if cacheErr == nil && c.ttl > 0 && cached.Age(c.now()) < c.ttl {
		return *cached, nil
	}

	q, err := c.next.Quote(ctx, token)
	if err != nil {
		if cacheErr == nil {
			c.logger.Warn().
				Err(err).
				Str("token", token).
				Dur("age", cached.Age(c.now())).
				Msg("Serving stale quote")
			return *cached, nil
		}
		return models.SpotQuote{}, err
	}

	if err := c.store.SaveQuote(ctx, q); err != nil {
		c.logger.Warn().Err(err).Str("token", token).Msg("Failed to cache quote")
	}
	return q, nil
}

// SpotPrice implements Provider.
func (c *Cached) SpotPrice(ctx context.Context, token string) (float64, error) {
	q, err := c.Quote(ctx, token)
	return q.Price, err
}
