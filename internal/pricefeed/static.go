package pricefeed

import (
	"context"
	"sync"
	"time"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
)

// Static serves fixed prices. It backs offline use (--spot) and tests.
type Static struct {
	mu     sync.RWMutex
	prices map[string]float64
	now    func() time.Time
}

// NewStatic creates a provider serving prices keyed by token symbol.
func NewStatic(prices map[string]float64) *Static {
	s := &Static{prices: make(map[string]float64, len(prices)), now: time.Now}
	for token, price := range prices {
		s.prices[NormalizeToken(token)] = price
	}
	return s
}

// Name implements Provider.
func (s *Static) Name() string { return "static" }

// Set replaces the price of token.
func (s *Static) Set(token string, price float64) {
	s.mu.Lock()
	s.prices[NormalizeToken(token)] = price
	s.mu.Unlock()
}

// Quote implements Provider.
func (s *Static) Quote(ctx context.Context, token string) (models.SpotQuote, error) {
	token = NormalizeToken(token)

	s.mu.RLock()
	price, ok := s.prices[token]
	s.mu.RUnlock()

	if !ok {
		return models.SpotQuote{}, apperrors.NewPriceError(token, s.Name(), "no price configured", apperrors.ErrUnknownToken)
	}
	if !validPrice(price) {
		return models.SpotQuote{}, apperrors.NewPriceError(token, s.Name(), "bad price", apperrors.NewInvalidSpotError(price))
	}
	return models.SpotQuote{Token: token, Price: price, Source: s.Name(), FetchedAt: s.now().UTC()}, nil
}

// SpotPrice implements Provider.
func (s *Static) SpotPrice(ctx context.Context, token string) (float64, error) {
	q, err := s.Quote(ctx, token)
	return q.Price, err
}
