package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
	"optviz/internal/resilience"
	"optviz/internal/store"
	"optviz/pkg/utils"
)

func newTestCoinGecko(t *testing.T, handler http.HandlerFunc) (*CoinGecko, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cg := NewCoinGecko(CoinGeckoConfig{
		BaseURL: srv.URL,
		APIKey:  "demo-key",
		Timeout: time.Second,
		Retry:   utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2},
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour},
	}, zerolog.Nop())
	return cg, &calls
}

func TestCoinGecko_Quote(t *testing.T) {
	cg, calls := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "wrapped-bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "demo-key", r.Header.Get("x-cg-demo-api-key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"wrapped-bitcoin":{"usd":50000.5}}`))
	})

	q, err := cg.Quote(context.Background(), " wbtc ")
	require.NoError(t, err)
	assert.Equal(t, "WBTC", q.Token)
	assert.Equal(t, 50000.5, q.Price)
	assert.Equal(t, "coingecko", q.Source)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	spot, err := cg.SpotPrice(context.Background(), "WBTC")
	require.NoError(t, err)
	assert.Equal(t, 50000.5, spot)
}

func TestCoinGecko_UnknownToken(t *testing.T) {
	cg, calls := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := cg.Quote(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownToken))

	var pe *apperrors.PriceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "NOPE", pe.Token)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestCoinGecko_RetriesServerErrors(t *testing.T) {
	var n int32
	cg, calls := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ethereum":{"usd":3000}}`))
	})

	price, err := cg.SpotPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, price)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	assert.Equal(t, resilience.CircuitClosed, cg.Breaker().State())
}

func TestCoinGecko_ClientErrorsAreNotRetried(t *testing.T) {
	cg, calls := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 3; i++ {
		_, err := cg.Quote(context.Background(), "ETH")
		require.Error(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	assert.Equal(t, resilience.CircuitClosed, cg.Breaker().State())
}

func TestCoinGecko_BreakerOpens(t *testing.T) {
	cg, calls := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 2; i++ {
		_, err := cg.Quote(context.Background(), "SOL")
		require.Error(t, err)
	}
	assert.Equal(t, int32(6), atomic.LoadInt32(calls))
	assert.Equal(t, resilience.CircuitOpen, cg.Breaker().State())

	_, err := cg.Quote(context.Background(), "SOL")
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(6), atomic.LoadInt32(calls))
}

func TestCoinGecko_BadPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"missing coin", `{}`, apperrors.ErrPriceUnavailable},
		{"zero price", `{"ethereum":{"usd":0}}`, apperrors.ErrInvalidSpot},
		{"negative price", `{"ethereum":{"usd":-3}}`, apperrors.ErrInvalidSpot},
		{"garbage", `not json`, apperrors.ErrPriceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cg, calls := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			})
			_, err := cg.Quote(context.Background(), "ETH")
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls))
		})
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic(map[string]float64{"eth": 3000, "BAD": 0})

	q, err := s.Quote(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, q.Price)
	assert.Equal(t, "static", q.Source)

	_, err = s.Quote(context.Background(), "BAD")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSpot))

	_, err = s.Quote(context.Background(), "DOGE")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownToken))

	s.Set("doge", 0.1)
	p, err := s.SpotPrice(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.Equal(t, 0.1, p)
}

type countingProvider struct {
	*Static
	calls int32
	fail  bool
}

func (c *countingProvider) Quote(ctx context.Context, token string) (models.SpotQuote, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.fail {
		return models.SpotQuote{}, apperrors.NewPriceError(token, "test", "down", apperrors.ErrPriceUnavailable)
	}
	return c.Static.Quote(ctx, token)
}

func (c *countingProvider) SpotPrice(ctx context.Context, token string) (float64, error) {
	q, err := c.Quote(ctx, token)
	return q.Price, err
}

func TestCached(t *testing.T) {
	ds, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	next := &countingProvider{Static: NewStatic(map[string]float64{"ETH": 3000})}
	c := NewCached(next, ds, time.Minute, zerolog.Nop())
	now := time.Now()
	c.now = func() time.Time { return now }
	next.Static.now = func() time.Time { return now }

	ctx := context.Background()
	q, err := c.Quote(ctx, "eth")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, q.Price)

	_, err = c.Quote(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&next.calls))

	now = now.Add(2 * time.Minute)
	next.Set("ETH", 3100)
	p, err := c.SpotPrice(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, 3100.0, p)
	assert.Equal(t, int32(2), atomic.LoadInt32(&next.calls))

	now = now.Add(2 * time.Minute)
	next.fail = true
	p, err = c.SpotPrice(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, 3100.0, p)

	_, err = c.Quote(ctx, "SOL")
	assert.True(t, errors.Is(err, apperrors.ErrPriceUnavailable))

	history, err := ds.QuoteHistory(ctx, store.QuoteFilter{Token: "ETH"})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestFetchAll(t *testing.T) {
	s := NewStatic(map[string]float64{"ETH": 3000, "SOL": 150, "WBTC": 50000})

	results := FetchAll(context.Background(), s, []string{"wbtc", "sol", "nope", "eth"}, 2)
	require.Len(t, results, 4)

	tokens := make([]string, len(results))
	for i, r := range results {
		tokens[i] = r.Token
	}
	assert.Equal(t, []string{"ETH", "NOPE", "SOL", "WBTC"}, tokens)
	assert.NoError(t, results[0].Err)
	assert.True(t, errors.Is(results[1].Err, apperrors.ErrUnknownToken))
	assert.Equal(t, 50000.0, results[3].Quote.Price)
}

func TestTokens(t *testing.T) {
	tokens := Tokens(DefaultTokenIDs)
	assert.Len(t, tokens, len(DefaultTokenIDs))
	assert.Equal(t, "AAVE", tokens[0])
	assert.Contains(t, tokens, "WBTC")
	assert.Equal(t, "wrapped-bitcoin", DefaultTokenIDs["WBTC"])
}
