// Package stream fans live spot quotes out to subscribers.
package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"optviz/internal/models"
)

// HubConfig holds configuration for the Stream Hub.
type HubConfig struct {
	// BufferSize is the size of the internal quote channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
	// SlowConsumerDropThreshold is the number of drops between warnings.
	SlowConsumerDropThreshold int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:                256,
		SubscriberBufferSize:      16,
		SlowConsumerDropThreshold: 10,
	}
}

// Hub distributes quotes published for a token to every subscriber of that
// token. A subscriber whose buffer is full misses the quote; publishers never
// block on slow consumers.
type Hub struct {
	config      HubConfig
	logger      zerolog.Logger
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	quotes      chan models.SpotQuote
	done        chan struct{}
	started     bool

	// Metrics
	metricsMu       sync.Mutex
	quotesReceived  uint64
	quotesBroadcast uint64
	quotesDropped   uint64
}

// Subscriber is one receiving channel for a token.
type Subscriber struct {
	ID           string
	Token        string
	Channel      chan models.SpotQuote
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a new stream hub with default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a new stream hub with custom configuration.
func NewHubWithConfig(config HubConfig, logger zerolog.Logger) *Hub {
	if config.BufferSize < 1 {
		config.BufferSize = 1
	}
	if config.SubscriberBufferSize < 1 {
		config.SubscriberBufferSize = 1
	}
	return &Hub{
		config:      config,
		logger:      logger.With().Str("component", "hub").Logger(),
		subscribers: make(map[string][]*Subscriber),
		quotes:      make(chan models.SpotQuote, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the hub's distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case q := <-h.quotes:
			h.metricsMu.Lock()
			h.quotesReceived++
			h.metricsMu.Unlock()

			h.broadcast(q)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for token, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, token)
	}
}

// Subscribe adds a subscriber for token and returns its receiving channel.
func (h *Hub) Subscribe(token, id string) <-chan models.SpotQuote {
	ch := make(chan models.SpotQuote, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Token:     token,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[token] = append(h.subscribers[token], sub)
	h.mu.Unlock()

	h.logger.Debug().Str("token", token).Str("subscriber", id).Msg("Subscribed")
	return ch
}

// Unsubscribe removes and closes a subscriber channel. Unknown channels are
// ignored.
func (h *Hub) Unsubscribe(token string, ch <-chan models.SpotQuote) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[token]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[token] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[token]) == 0 {
		delete(h.subscribers, token)
	}
}

// Publish queues a quote for distribution. It never blocks; when the queue
// is full the quote is dropped.
func (h *Hub) Publish(q models.SpotQuote) {
	select {
	case h.quotes <- q:
	default:
		h.metricsMu.Lock()
		h.quotesDropped++
		h.metricsMu.Unlock()
	}
}

// broadcast holds the read lock while sending so Stop and Unsubscribe cannot
// close a channel mid-send. Sends are non-blocking.
func (h *Hub) broadcast(q models.SpotQuote) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers[q.Token] {
		select {
		case sub.Channel <- q:
			h.metricsMu.Lock()
			h.quotesBroadcast++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.quotesDropped++
			h.metricsMu.Unlock()
			if t := h.config.SlowConsumerDropThreshold; t > 0 && sub.DroppedCount%t == 0 {
				h.logger.Warn().
					Str("token", q.Token).
					Str("subscriber", sub.ID).
					Int("dropped", sub.DroppedCount).
					Msg("Slow consumer")
			}
		}
	}
}

// SubscriberCount returns the number of subscribers for token.
func (h *Hub) SubscriberCount(token string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[token])
}

// Tokens returns every token with at least one subscriber, sorted.
func (h *Hub) Tokens() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tokens := make([]string, 0, len(h.subscribers))
	for token := range h.subscribers {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	QuotesReceived  uint64 `json:"quotesReceived"`
	QuotesBroadcast uint64 `json:"quotesBroadcast"`
	QuotesDropped   uint64 `json:"quotesDropped"`
	Subscribers     int    `json:"subscribers"`
	Tokens          int    `json:"tokens"`
}

// Metrics returns hub metrics.
func (h *Hub) Metrics() HubMetrics {
	h.mu.RLock()
	subs := 0
	for _, s := range h.subscribers {
		subs += len(s)
	}
	tokens := len(h.subscribers)
	h.mu.RUnlock()

	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubMetrics{
		QuotesReceived:  h.quotesReceived,
		QuotesBroadcast: h.quotesBroadcast,
		QuotesDropped:   h.quotesDropped,
		Subscribers:     subs,
		Tokens:          tokens,
	}
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}
