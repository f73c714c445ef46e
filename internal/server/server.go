// Package server exposes the strategy engine over HTTP and WebSocket.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "optviz/internal/errors"
	"optviz/internal/logging"
	"optviz/internal/models"
	"optviz/internal/pricefeed"
	"optviz/internal/resilience"
	"optviz/internal/security"
	"optviz/internal/store"
	"optviz/internal/strategy"
	"optviz/internal/stream"
)

// Options configures the server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// DefaultBand is used when a request names no grid band.
	DefaultBand string
	// DefaultToken is selected for every new WebSocket session.
	DefaultToken string
	// Tokens lists the symbols offered by /api/tokens.
	Tokens []string
}

// Deps are the components the server is built from. Store and Hub may be nil:
// quote history then answers 503 and sessions get no live spot updates.
type Deps struct {
	Assembler *strategy.Assembler
	Catalog   *strategy.Catalog
	Prices    pricefeed.Provider
	Store     store.DataStore
	Hub       *stream.Hub
	Health    *resilience.HealthMonitor
	Logger    zerolog.Logger
}

// Server serves the JSON API and the live session endpoint.
type Server struct {
	opts     Options
	deps     Deps
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New creates a server and registers its routes.
func New(deps Deps, opts Options) *Server {
	if deps.Health == nil {
		deps.Health = resilience.NewHealthMonitor("")
	}
	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /health", s.deps.Health.HealthHTTPHandler())
	s.mux.HandleFunc("GET /api/tokens", s.handleTokens)
	s.mux.HandleFunc("GET /api/quotes/{token}", s.handleQuotes)
	s.mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	s.mux.HandleFunc("GET /api/strategies/{id}", s.handleStrategy)
	s.mux.HandleFunc("POST /api/evaluate", s.handleEvaluate)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns the root handler with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// statusRecorder captures the response status for logging. It passes
// Hijack through so WebSocket upgrades keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// ============================================================================
// API handlers
// ============================================================================

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": s.opts.Tokens})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, errStoreDisabled)
		return
	}
	token := pricefeed.NormalizeToken(r.PathValue("token"))
	if err := security.ValidateToken(token); err != nil {
		writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	quotes, err := s.deps.Store.QuoteHistory(r.Context(), store.QuoteFilter{
		Token: token,
		Limit: limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if quotes == nil {
		quotes = []models.SpotQuote{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": quotes})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"strategies": s.deps.Catalog.List()})
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Catalog.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	token, spot, err := s.resolveSpot(r.Context(), q.Get("token"), q.Get("spot"))
	if err != nil {
		writeError(w, err)
		return
	}

	band := q.Get("band")
	if band == "" {
		band = t.Band
	}
	result, err := s.deps.Assembler.AssembleBand(spot, s.band(band), t.Components)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":    token,
		"strategy": t,
		"result":   result,
	})
}

// EvaluateRequest is the body of POST /api/evaluate.
type EvaluateRequest struct {
	Token string           `json:"token,omitempty"`
	Spot  float64          `json:"spot,omitempty"`
	Band  string           `json:"band,omitempty"`
	Legs  []models.LegSpec `json:"legs"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	legs, err := models.LegsFromSpecs(req.Legs)
	if err != nil {
		writeError(w, err)
		return
	}

	spotParam := ""
	if req.Spot != 0 {
		spotParam = strconv.FormatFloat(req.Spot, 'f', -1, 64)
	}
	token, spot, err := s.resolveSpot(r.Context(), req.Token, spotParam)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.deps.Assembler.AssembleBand(spot, s.band(req.Band), legs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "result": result})
}

// resolveSpot prefers an explicit spot over fetching the token's price.
func (s *Server) resolveSpot(ctx context.Context, token, spotParam string) (string, float64, error) {
	token = pricefeed.NormalizeToken(token)
	if spotParam != "" {
		spot, err := strconv.ParseFloat(spotParam, 64)
		if err != nil {
			return "", 0, apperrors.NewValidationError("spot", spotParam, "not a number")
		}
		return token, spot, nil
	}
	if token == "" {
		return "", 0, apperrors.NewValidationError("token", "", "token or spot is required")
	}

	log := logging.WithToken(s.logger, token)
	spot, err := s.deps.Prices.SpotPrice(ctx, token)
	if err != nil {
		log.Warn().Err(err).Msg("Spot lookup failed")
		return "", 0, err
	}
	return token, spot, nil
}

func (s *Server) band(name string) string {
	if name == "" {
		return s.opts.DefaultBand
	}
	return strings.ToLower(name)
}

// ============================================================================
// Encoding
// ============================================================================

var errStoreDisabled = errors.New("quote history is not available")

type errorResponse struct {
	Error string `json:"error"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("body", "", err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var pe *apperrors.PriceError
	switch {
	case errors.Is(err, errStoreDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrUnknownStrategy),
		errors.Is(err, apperrors.ErrUnknownToken),
		errors.Is(err, apperrors.ErrDataNotFound),
		errors.Is(err, apperrors.ErrLegNotFound):
		return http.StatusNotFound
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.As(err, &pe), errors.Is(err, apperrors.ErrPriceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrInvalidLeg),
		errors.Is(err, apperrors.ErrInvalidSpot),
		errors.Is(err, apperrors.ErrInvalidGrid),
		errors.Is(err, apperrors.ErrInvalidOptionType),
		errors.Is(err, apperrors.ErrInvalidPosition),
		errors.Is(err, apperrors.ErrInputValidation),
		errors.Is(err, apperrors.ErrNotInBuilder):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
