package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	apperrors "optviz/internal/errors"
	"optviz/internal/logging"
	"optviz/internal/models"
	"optviz/internal/resilience"
	"optviz/internal/security"
	"optviz/pkg/utils"
)

// DefaultCoinGeckoURL is the public CoinGecko API root.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoConfig configures the CoinGecko client.
type CoinGeckoConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	TokenIDs map[string]string
	// RateLimit caps requests per minute; zero disables the limit.
	RateLimit float64
	Retry     utils.RetryConfig
	Breaker   resilience.CircuitBreakerConfig
}

// DefaultCoinGeckoConfig returns the public endpoint with the default token map.
func DefaultCoinGeckoConfig() CoinGeckoConfig {
	return CoinGeckoConfig{
		BaseURL:  DefaultCoinGeckoURL,
		Timeout:  10 * time.Second,
		TokenIDs: DefaultTokenIDs,
		Retry:    utils.DefaultRetryConfig(),
		Breaker:  resilience.DefaultCircuitBreakerConfig(),
	}
}

// CoinGecko fetches USD spot prices from the /simple/price endpoint.
type CoinGecko struct {
	client  *resty.Client
	ids     map[string]string
	retry   utils.RetryConfig
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
	logger  zerolog.Logger
	now     func() time.Time
}

// statusError is a non-2xx reply from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// NewCoinGecko creates a client. Missing config fields fall back to
// DefaultCoinGeckoConfig.
func NewCoinGecko(cfg CoinGeckoConfig, logger zerolog.Logger) *CoinGecko {
	def := DefaultCoinGeckoConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.TokenIDs) == 0 {
		cfg.TokenIDs = def.TokenIDs
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker = def.Breaker
	}
	cfg.Retry.ShouldRetry = isTransient
	cfg.Breaker.IsFailure = isTransient

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("x-cg-demo-api-key", cfg.APIKey)
	}

	ids := make(map[string]string, len(cfg.TokenIDs))
	for token, id := range cfg.TokenIDs {
		ids[NormalizeToken(token)] = id
	}

	logger = logger.With().Str("component", "coingecko").Logger()
	return &CoinGecko{
		client:  client,
		ids:     ids,
		retry:   cfg.Retry,
		breaker: resilience.NewCircuitBreaker("coingecko", cfg.Breaker, logger),
		limiter: resilience.NewRateLimiter(cfg.RateLimit, 5),
		logger:  logger,
		now:     time.Now,
	}
}

// Name implements Provider.
func (c *CoinGecko) Name() string { return "coingecko" }

// Breaker exposes the circuit breaker for health reporting.
func (c *CoinGecko) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Tokens returns the supported token symbols, sorted.
func (c *CoinGecko) Tokens() []string { return Tokens(c.ids) }

// Quote implements Provider.
func (c *CoinGecko) Quote(ctx context.Context, token string) (models.SpotQuote, error) {
	token = NormalizeToken(token)
	id, ok := c.ids[token]
	if !ok {
		return models.SpotQuote{}, apperrors.NewPriceError(token, c.Name(), "no coin id for token", apperrors.ErrUnknownToken)
	}

	price, err := resilience.ExecuteWithResult(ctx, c.breaker, func(ctx context.Context) (float64, error) {
		return utils.RetryWithResult(ctx, c.retry, func() (float64, error) {
			return c.fetch(ctx, id)
		})
	})
	if err != nil {
		var pe *apperrors.PriceError
		if errors.As(err, &pe) {
			return models.SpotQuote{}, err
		}
		return models.SpotQuote{}, apperrors.NewPriceError(token, c.Name(), "fetch failed", err)
	}

	return models.SpotQuote{Token: token, Price: price, Source: c.Name(), FetchedAt: c.now().UTC()}, nil
}

// SpotPrice implements Provider and the session's spot source.
func (c *CoinGecko) SpotPrice(ctx context.Context, token string) (float64, error) {
	q, err := c.Quote(ctx, token)
	return q.Price, err
}

func (c *CoinGecko) fetch(ctx context.Context, id string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"ids": id, "vs_currencies": "usd"}).
		Get("/simple/price")
	logging.LogAPICall(c.logger, http.MethodGet, "/simple/price?ids="+id, time.Since(start), err)
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, &statusError{code: resp.StatusCode(), body: security.MaskSensitive(truncate(resp.String(), 200))}
	}

	var body map[string]map[string]float64
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, fmt.Errorf("%w: malformed response: %v", apperrors.ErrPriceUnavailable, err)
	}
	price, ok := body[id]["usd"]
	if !ok {
		return 0, fmt.Errorf("%w: no usd price for %s", apperrors.ErrPriceUnavailable, id)
	}
	if !validPrice(price) {
		return 0, apperrors.NewInvalidSpotError(price)
	}
	return price, nil
}

// isTransient reports whether err may succeed on a later attempt. Only
// transient errors are retried and counted by the circuit breaker.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, apperrors.ErrUnknownToken) ||
		errors.Is(err, apperrors.ErrPriceUnavailable) ||
		errors.Is(err, apperrors.ErrInvalidSpot) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
