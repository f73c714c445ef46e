package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
	"optviz/internal/payoff"
	"optviz/internal/pricefeed"
	"optviz/internal/resilience"
	"optviz/internal/store"
	"optviz/internal/strategy"
	"optviz/internal/stream"
)

type testEnv struct {
	srv   *httptest.Server
	hub   *stream.Hub
	store *store.SQLiteStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalog, err := strategy.DefaultCatalog()
	require.NoError(t, err)

	ds, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	hub := stream.NewHub(zerolog.Nop())
	hub.Start(ctx)
	t.Cleanup(func() {
		hub.Stop()
		cancel()
	})

	health := resilience.NewHealthMonitor("test")
	health.RegisterComponent("database", resilience.DatabaseHealthCheck(ds.Ping))

	s := New(Deps{
		Assembler: strategy.NewAssembler(payoff.DefaultGridConfig(), nil, zerolog.Nop()),
		Catalog:   catalog,
		Prices:    pricefeed.NewStatic(map[string]float64{"WBTC": 50000, "ETH": 3000}),
		Store:     ds,
		Hub:       hub,
		Health:    health,
		Logger:    zerolog.Nop(),
	}, Options{
		DefaultToken: "WBTC",
		Tokens:       []string{"ETH", "WBTC"},
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: hub, store: ds}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

type resultEnvelope struct {
	Token  string                `json:"token"`
	Result models.StrategyResult `json:"result"`
}

func TestHealthAndTokens(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"HEALTHY"`)

	code, body = e.do(t, http.MethodGet, "/api/tokens", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"tokens":["ETH","WBTC"]}`, string(body))
}

func TestStrategies(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodGet, "/api/strategies", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Strategies []struct {
			ID string `json:"id"`
		} `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Strategies, 13)

	code, body = e.do(t, http.MethodGet, "/api/strategies/covered-call?spot=50000", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var env resultEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, []float64{48900}, env.Result.Breakeven)
	assert.Len(t, env.Result.Grid, 101)

	code, body = e.do(t, http.MethodGet, "/api/strategies/strangle?token=wbtc", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "WBTC", env.Token)
	assert.Equal(t, []float64{44000, 56000}, env.Result.Breakeven)

	code, _ = e.do(t, http.MethodGet, "/api/strategies/nope?spot=1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodGet, "/api/strategies/strangle", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/api/strategies/strangle?token=DOGE", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodGet, "/api/strategies/strangle?spot=-5", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/api/strategies/strangle?spot=1.6e308", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodGet, "/api/strategies/strangle?spot=0.15", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Len(t, env.Result.Grid, 41)
	assert.Len(t, env.Result.Breakeven, 2)

	code, _ = e.do(t, http.MethodGet, "/api/strategies/strangle?spot=100&band=huge", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEvaluate(t *testing.T) {
	e := newTestEnv(t)
	premium := 0.09

	code, body := e.do(t, http.MethodPost, "/api/evaluate", EvaluateRequest{
		Spot: 50000,
		Legs: []models.LegSpec{{Asset: models.AssetOption, Type: "call", Position: "long", Strike: 1, Premium: &premium}},
	})
	require.Equal(t, http.StatusOK, code, string(body))

	var env resultEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	pnl, ok := env.Result.PNLAt(60000)
	require.True(t, ok)
	assert.InDelta(t, 5500, pnl, 1e-6)
	assert.Equal(t, []float64{54500}, env.Result.Breakeven)

	code, body = e.do(t, http.MethodPost, "/api/evaluate", EvaluateRequest{Token: "ETH", Legs: nil})
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Empty(t, env.Result.Datasets)

	code, _ = e.do(t, http.MethodPost, "/api/evaluate", EvaluateRequest{
		Spot: 100,
		Legs: []models.LegSpec{{Asset: models.AssetOption, Type: "straddle", Position: "long", Strike: 1}},
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/api/evaluate", map[string]interface{}{"spot": 100, "bogus": true})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestQuotes(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.store.SaveQuote(ctx, models.SpotQuote{
			Token: "ETH", Price: 3000 + float64(i), Source: "static", FetchedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	code, body := e.do(t, http.MethodGet, "/api/quotes/eth?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		Quotes []models.SpotQuote `json:"quotes"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Quotes, 2)

	code, _ = e.do(t, http.MethodGet, "/api/quotes/rm%20-rf%3B", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperrors.ErrUnknownStrategy, http.StatusNotFound},
		{apperrors.NewPriceError("X", "static", "no price", apperrors.ErrUnknownToken), http.StatusNotFound},
		{apperrors.NewPriceError("X", "coingecko", "down", errors.New("timeout")), http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", resilience.ErrCircuitOpen), http.StatusServiceUnavailable},
		{apperrors.NewLegError(0, "x", apperrors.ErrInvalidLeg), http.StatusBadRequest},
		{apperrors.NewInvalidSpotError(0), http.StatusBadRequest},
		{errStoreDisabled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

// ============================================================================
// WebSocket
// ============================================================================

type wsMessage struct {
	Type    string          `json:"type"`
	Command string          `json:"command"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type wsUpdate struct {
	Token       string                 `json:"token"`
	Spot        float64                `json:"spot"`
	State       string                 `json:"state"`
	Strategy    string                 `json:"strategy"`
	Instruments []json.RawMessage      `json:"instruments"`
	Result      *models.StrategyResult `json:"result"`
}

func dialWS(t *testing.T, e *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

// next reads messages until one satisfies match.
func next(t *testing.T, conn *websocket.Conn, match func(wsMessage, wsUpdate) bool) (wsMessage, wsUpdate) {
	t.Helper()
	for i := 0; i < 50; i++ {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		var u wsUpdate
		if msg.Type == "update" {
			require.NoError(t, json.Unmarshal(msg.Data, &u))
		}
		if match(msg, u) {
			return msg, u
		}
	}
	t.Fatal("expected message never arrived")
	return wsMessage{}, wsUpdate{}
}

func send(t *testing.T, conn *websocket.Conn, cmd Command) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
}

func TestWebSocket_SessionFlow(t *testing.T) {
	e := newTestEnv(t)
	conn := dialWS(t, e)

	_, u := next(t, conn, func(m wsMessage, u wsUpdate) bool { return m.Type == "update" })
	assert.Equal(t, "WBTC", u.Token)
	assert.Equal(t, 50000.0, u.Spot)
	assert.Equal(t, "idle", u.State)
	assert.Equal(t, strategy.DefaultViewID, u.Strategy)
	assert.Equal(t, []float64{54500}, u.Result.Breakeven)

	send(t, conn, Command{Type: CmdSelectStrategy, Strategy: "strangle"})
	_, u = next(t, conn, func(m wsMessage, u wsUpdate) bool { return u.Strategy == "strangle" })
	assert.Equal(t, "strategy_selected", u.State)
	assert.Equal(t, []float64{44000, 56000}, u.Result.Breakeven)

	send(t, conn, Command{Type: CmdEnterBuilder, Seed: true})
	_, u = next(t, conn, func(m wsMessage, u wsUpdate) bool { return u.State == "builder" })
	assert.Len(t, u.Instruments, 2)

	premium := 0.01
	send(t, conn, Command{Type: CmdAddLeg, Leg: &models.LegSpec{Asset: models.AssetOption, Type: "call", Position: "short", Strike: 1.1, Premium: &premium}})
	_, u = next(t, conn, func(m wsMessage, u wsUpdate) bool { return len(u.Instruments) == 3 })

	send(t, conn, Command{Type: CmdExitBuilder})
	_, u = next(t, conn, func(m wsMessage, u wsUpdate) bool { return u.State == "idle" })

	send(t, conn, Command{Type: CmdLoadLegs, Legs: []models.LegSpec{
		{Asset: models.AssetOption, Type: "put", Position: "long", Strike: 0.98},
		{Asset: models.AssetOption, Type: "call", Position: "long", Strike: 1.02},
		{Asset: models.AssetPerp, Position: "short", Entry: 1, Size: 1, Leverage: 1},
	}})
	_, u = next(t, conn, func(m wsMessage, u wsUpdate) bool { return u.State == "builder" })
	assert.Len(t, u.Instruments, 3)

	send(t, conn, Command{Type: CmdLoadLegs, Legs: []models.LegSpec{{Asset: "bond", Position: "long"}}})
	msg, _ := next(t, conn, func(m wsMessage, u wsUpdate) bool { return m.Type == "error" })
	assert.Equal(t, CmdLoadLegs, msg.Command)

	send(t, conn, Command{Type: CmdRemoveLeg, ID: "missing"})
	msg, _ = next(t, conn, func(m wsMessage, u wsUpdate) bool { return m.Type == "error" })
	assert.Equal(t, CmdRemoveLeg, msg.Command)

	send(t, conn, Command{Type: "dance"})
	msg, _ = next(t, conn, func(m wsMessage, u wsUpdate) bool { return m.Type == "error" })
	assert.Equal(t, "dance", msg.Command)
}

func TestWebSocket_LiveSpot(t *testing.T) {
	e := newTestEnv(t)
	conn := dialWS(t, e)

	next(t, conn, func(m wsMessage, u wsUpdate) bool { return m.Type == "update" })
	require.Eventually(t, func() bool { return e.hub.SubscriberCount("WBTC") == 1 }, 5*time.Second, 10*time.Millisecond)

	e.hub.Publish(models.SpotQuote{Token: "WBTC", Price: 51000, Source: "test", FetchedAt: time.Now()})
	_, u := next(t, conn, func(m wsMessage, u wsUpdate) bool { return m.Type == "update" && u.Spot == 51000 })
	assert.Equal(t, "WBTC", u.Token)

	send(t, conn, Command{Type: CmdSelectToken, Token: "eth"})
	_, u = next(t, conn, func(m wsMessage, u wsUpdate) bool { return u.Token == "ETH" })
	assert.Equal(t, 3000.0, u.Spot)
	require.Eventually(t, func() bool {
		return e.hub.SubscriberCount("ETH") == 1 && e.hub.SubscriberCount("WBTC") == 0
	}, 5*time.Second, 10*time.Millisecond)

	send(t, conn, Command{Type: CmdSelectToken, Token: "DOGE"})
	msg, _ := next(t, conn, func(m wsMessage, u wsUpdate) bool { return m.Type == "error" })
	assert.Equal(t, CmdSelectToken, msg.Command)
}
