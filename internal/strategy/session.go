package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	apperrors "optviz/internal/errors"
	"optviz/internal/logging"
	"optviz/internal/models"
	"optviz/internal/payoff"
	"optviz/pkg/utils"
)

// State is the view a Session is showing.
type State int

const (
	// StateIdle shows the default view, a long at-the-money call.
	StateIdle State = iota
	// StateStrategySelected shows a catalog template.
	StateStrategySelected
	// StateBuilderMode shows the builder's working list.
	StateBuilderMode
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStrategySelected:
		return "strategy_selected"
	case StateBuilderMode:
		return "builder"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultViewID names the idle view in updates and logs.
const DefaultViewID = "default"

// DefaultPremiumRatio is the premium, as a multiple of spot, used by the idle view.
const DefaultPremiumRatio = 0.09

// DefaultView returns the idle view template: one long call struck at spot.
func DefaultView() models.StrategyTemplate {
	premium := DefaultPremiumRatio
	return models.StrategyTemplate{
		ID:   DefaultViewID,
		Name: "Long Call (ATM)",
		Components: []models.InstrumentLeg{
			models.OptionLeg{
				Type:         models.OptionCall,
				StrikeRatio:  1,
				Size:         1,
				Position:     models.PositionLong,
				PremiumRatio: &premium,
			},
		},
	}
}

// SpotProvider returns the current USD spot price of a token.
type SpotProvider interface {
	SpotPrice(ctx context.Context, token string) (float64, error)
}

// Update is what a Session publishes after each recompute.
type Update struct {
	Token       string                    `json:"token"`
	Spot        float64                   `json:"spot"`
	State       State                     `json:"state"`
	Strategy    string                    `json:"strategy"`
	Instruments []models.CustomInstrument `json:"instruments,omitempty"`
	Result      *models.StrategyResult    `json:"result"`
}

// ResultSink receives every recomputed result. It is called with the session
// lock held and must not call back into the session.
type ResultSink func(Update)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithResultSink sets the sink recomputed results are delivered to.
func WithResultSink(sink ResultSink) SessionOption {
	return func(s *Session) {
		s.sink = sink
	}
}

// Session tracks one user's selected token, strategy and builder list and
// keeps an evaluated result for the current view. All methods are safe for
// concurrent use.
type Session struct {
	mu sync.Mutex

	assembler *Assembler
	catalog   *Catalog
	prices    SpotProvider
	sink      ResultSink
	logger    zerolog.Logger

	state       State
	token       string
	spot        float64
	selected    *models.StrategyTemplate
	instruments []models.CustomInstrument
	result      *models.StrategyResult

	// fetchSeq increases with every SelectToken call; a fetch that finishes
	// after a newer one started is dropped.
	fetchSeq uint64
}

// NewSession creates an idle session with no token selected.
func NewSession(assembler *Assembler, catalog *Catalog, prices SpotProvider, logger zerolog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		assembler: assembler,
		catalog:   catalog,
		prices:    prices,
		logger:    logger.With().Str("component", "session").Logger(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectToken fetches the spot price of token and makes it the session's
// token. On failure the previous token, spot and result are kept.
func (s *Session) SelectToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.fetchSeq++
	seq := s.fetchSeq
	s.mu.Unlock()

	log := logging.WithToken(s.logger, token)
	price, err := s.prices.SpotPrice(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.fetchSeq {
		log.Debug().Uint64("seq", seq).Msg("Discarding stale spot fetch")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("Spot fetch failed, keeping previous view")
		return err
	}
	if err := payoff.ValidateSpot(price); err != nil {
		return apperrors.NewPriceError(token, "session", "provider returned an unusable price", err)
	}

	s.token = token
	s.spot = price
	return s.recompute()
}

// ApplySpot pushes a new spot for token, typically from a live ticker. Ticks
// for any other token are ignored.
func (s *Session) ApplySpot(token string, price float64) error {
	if err := payoff.ValidateSpot(price); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token || price == s.spot {
		return nil
	}
	s.spot = price
	return s.recompute()
}

// SelectStrategy shows a catalog template. The empty id returns to the idle view.
func (s *Session) SelectStrategy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateBuilderMode {
		return apperrors.NewValidationError("state", s.state.String(), "exit the builder before selecting a strategy")
	}

	if id == "" {
		s.selected = nil
		s.state = StateIdle
		return s.recompute()
	}

	t, err := s.catalog.Get(id)
	if err != nil {
		return err
	}
	s.selected = &t
	s.state = StateStrategySelected
	return s.recompute()
}

// EnterBuilder switches to builder mode with an empty working list, or with
// the legs of the current view when seed is true.
func (s *Session) EnterBuilder(seed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instruments = nil
	if seed {
		view := DefaultView()
		if s.selected != nil {
			view = *s.selected
		}
		for _, leg := range view.Components {
			s.instruments = append(s.instruments, models.CustomInstrument{ID: utils.NewID(), Leg: leg})
		}
	}
	s.state = StateBuilderMode
	return s.recompute()
}

// LoadBuilder switches to builder mode with legs as the working list,
// replacing whatever was there. Nothing changes when a leg is invalid.
func (s *Session) LoadBuilder(legs []models.InstrumentLeg) error {
	for i, leg := range legs {
		if err := validateLeg(i, leg); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.instruments = make([]models.CustomInstrument, 0, len(legs))
	for _, leg := range legs {
		s.instruments = append(s.instruments, models.CustomInstrument{ID: utils.NewID(), Leg: leg})
	}
	s.state = StateBuilderMode
	return s.recompute()
}

// AddLeg appends a leg to the working list.
func (s *Session) AddLeg(leg models.InstrumentLeg) (models.CustomInstrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateBuilderMode {
		return models.CustomInstrument{}, apperrors.ErrNotInBuilder
	}
	if err := validateLeg(len(s.instruments), leg); err != nil {
		return models.CustomInstrument{}, err
	}

	inst := models.CustomInstrument{ID: utils.NewID(), Leg: leg}
	s.instruments = append(s.instruments, inst)
	return inst, s.recompute()
}

// UpdateLeg replaces the leg of an instrument in the working list.
func (s *Session) UpdateLeg(id string, leg models.InstrumentLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateBuilderMode {
		return apperrors.ErrNotInBuilder
	}
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrLegNotFound, id)
	}
	if err := validateLeg(i, leg); err != nil {
		return err
	}

	s.instruments[i].Leg = leg
	return s.recompute()
}

// RemoveLeg drops an instrument from the working list.
func (s *Session) RemoveLeg(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateBuilderMode {
		return apperrors.ErrNotInBuilder
	}
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrLegNotFound, id)
	}

	s.instruments = append(s.instruments[:i], s.instruments[i+1:]...)
	return s.recompute()
}

// ExitBuilder clears the working list and returns to the idle view.
func (s *Session) ExitBuilder() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateBuilderMode {
		return apperrors.ErrNotInBuilder
	}
	s.instruments = nil
	s.selected = nil
	s.state = StateIdle
	return s.recompute()
}

// Result returns the latest evaluated result, or nil before any spot is known.
func (s *Session) Result() *models.StrategyResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the selected token and its last known spot.
func (s *Session) Token() (string, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.spot
}

// Instruments returns a copy of the builder's working list.
func (s *Session) Instruments() []models.CustomInstrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CustomInstrument(nil), s.instruments...)
}

// Snapshot returns the current view as an Update.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update()
}

func (s *Session) indexOf(id string) int {
	for i, inst := range s.instruments {
		if inst.ID == id {
			return i
		}
	}
	return -1
}

// recompute evaluates the current view. It must be called with mu held.
// On error the previous result stays in place.
func (s *Session) recompute() error {
	if s.spot <= 0 {
		return nil
	}

	var (
		result *models.StrategyResult
		err    error
	)
	switch s.state {
	case StateBuilderMode:
		result, err = s.assembler.AssembleCustom(s.spot, s.instruments)
	case StateStrategySelected:
		result, err = s.assembler.AssembleTemplate(*s.selected, s.spot)
	default:
		result, err = s.assembler.AssembleTemplate(DefaultView(), s.spot)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("state", s.state.String()).Msg("Recompute failed")
		return err
	}

	s.result = result
	if s.sink != nil {
		s.sink(s.update())
	}
	return nil
}

func (s *Session) update() Update {
	u := Update{
		Token:  s.token,
		Spot:   s.spot,
		State:  s.state,
		Result: s.result,
	}
	switch s.state {
	case StateStrategySelected:
		u.Strategy = s.selected.ID
	case StateBuilderMode:
		u.Instruments = append([]models.CustomInstrument(nil), s.instruments...)
	default:
		u.Strategy = DefaultViewID
	}
	return u
}

func validateLeg(index int, leg models.InstrumentLeg) error {
	if leg == nil {
		return apperrors.NewLegError(index, "empty", apperrors.ErrInvalidLeg)
	}
	if err := leg.Validate(); err != nil {
		return apperrors.NewLegError(index, leg.Label(), err)
	}
	return nil
}
