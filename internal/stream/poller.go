package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"optviz/internal/pricefeed"
)

// Poller periodically fetches quotes for every subscribed token and
// publishes them to the hub.
type Poller struct {
	hub           *Hub
	provider      pricefeed.Provider
	interval      time.Duration
	maxConcurrent int
	logger        zerolog.Logger
}

// NewPoller creates a poller. A non-positive interval defaults to 30s.
func NewPoller(hub *Hub, provider pricefeed.Provider, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		hub:           hub,
		provider:      provider,
		interval:      interval,
		maxConcurrent: 4,
		logger:        logger.With().Str("component", "poller").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Msg("Spot poller started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Spot poller stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce fetches and publishes quotes for the currently subscribed
// tokens. It returns how many quotes were published.
func (p *Poller) PollOnce(ctx context.Context) int {
	tokens := p.hub.Tokens()
	if len(tokens) == 0 {
		return 0
	}

	published := 0
	for _, r := range pricefeed.FetchAll(ctx, p.provider, tokens, p.maxConcurrent) {
		if r.Err != nil {
			p.logger.Warn().Err(r.Err).Str("token", r.Token).Msg("Spot poll failed")
			continue
		}
		p.hub.Publish(r.Quote)
		published++
	}
	return published
}
