// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"optviz/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Spot quotes
	SaveQuote(ctx context.Context, quote models.SpotQuote) error
	LatestQuote(ctx context.Context, token string) (*models.SpotQuote, error)
	QuoteHistory(ctx context.Context, filter QuoteFilter) ([]models.SpotQuote, error)
	PruneQuotes(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// QuoteFilter represents filters for querying quote history.
type QuoteFilter struct {
	Token     string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
