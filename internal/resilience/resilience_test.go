package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("pricefeed", cfg, zerolog.Nop())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()
	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, CircuitOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, CircuitClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalRejected)
	assert.Equal(t, int64(2), stats.TotalFailures)
	assert.Equal(t, 50.0, stats.FailureRate())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(time.Hour)
	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_IgnoredErrors(t *testing.T) {
	notFound := errors.New("not found")
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})

	v, err := ExecuteWithResult(context.Background(), cb, func(context.Context) (float64, error) {
		return 0, notFound
	})
	assert.ErrorIs(t, err, notFound)
	assert.Zero(t, v)
	assert.Equal(t, CircuitClosed, cb.State())

	v, err = ExecuteWithResult(context.Background(), cb, func(context.Context) (float64, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestHealthMonitor(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	m := NewHealthMonitor("test")
	m.RegisterComponent("database", DatabaseHealthCheck(func(context.Context) error { return nil }))
	m.RegisterComponent("pricefeed", CircuitBreakerHealthCheck(cb))

	h := m.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, h.Status)
	require.Len(t, h.Components, 2)
	assert.Equal(t, "database", h.Components[0].Name)

	_ = cb.Execute(context.Background(), func(context.Context) error { return errBoom })
	assert.Equal(t, HealthStatusDegraded, m.Check(context.Background()).Status)

	m.RegisterComponent("database", DatabaseHealthCheck(func(context.Context) error { return errBoom }))
	rec := httptest.NewRecorder()
	m.HealthHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthStatusUnhealthy, body.Status)
	assert.Equal(t, "test", body.Version)
}

func TestRateLimiter_BurstAndRefill(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.lastUpdate = now

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
	assert.Equal(t, time.Second, rl.reserve())

	now = now.Add(500 * time.Millisecond)
	assert.False(t, rl.Allow())
	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.Allow())

	now = now.Add(time.Hour)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiter_Wait(t *testing.T) {
	var unlimited *RateLimiter
	assert.Nil(t, NewRateLimiter(0, 5))
	assert.True(t, unlimited.Allow())
	require.NoError(t, unlimited.Wait(context.Background()))

	rl := NewRateLimiter(6000, 1) // one token every 10ms
	require.NoError(t, rl.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	slow := NewRateLimiter(1, 1)
	require.True(t, slow.Allow())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, slow.Wait(ctx), context.DeadlineExceeded)
}
