// Package strategy turns strategy definitions into evaluated PNL results.
//
// It holds the built-in catalog, the assembler that runs legs through the
// payoff engine, the builder leg notation and the Session state machine that
// ties a selected token, a selected strategy and the builder together.
package strategy

import (
	"fmt"

	"github.com/rs/zerolog"

	apperrors "optviz/internal/errors"
	"optviz/internal/logging"
	"optviz/internal/models"
	"optviz/internal/payoff"
)

// Dataset labels for the compound curve.
const (
	CompoundLabel = "Compound"
	BuilderLabel  = "PnL"
)

const (
	legColor        = "#D8DDEF"
	legBgColor      = "rgba(183, 184, 183, 0.16)"
	compoundColor   = "blue"
	compoundBgColor = "rgba(0, 0, 255, 0.1)"
)

var legDash = []int{5, 5}

// Assembler evaluates lists of legs against a spot price.
// It keeps no state between calls and is safe for concurrent use.
type Assembler struct {
	grid   payoff.GridConfig
	bands  map[string]payoff.GridConfig
	logger zerolog.Logger
}

// NewAssembler creates an assembler. grid is used when no band is named;
// bands override or extend the built-in bands.
func NewAssembler(grid payoff.GridConfig, bands map[string]payoff.GridConfig, logger zerolog.Logger) *Assembler {
	merged := payoff.Bands()
	for name, cfg := range bands {
		merged[name] = cfg
	}
	return &Assembler{
		grid:   grid,
		bands:  merged,
		logger: logger.With().Str("component", "assembler").Logger(),
	}
}

// Grid returns the default grid configuration.
func (a *Assembler) Grid() payoff.GridConfig {
	return a.grid
}

// Band resolves a band name. The empty name is the default grid.
func (a *Assembler) Band(name string) (payoff.GridConfig, error) {
	if name == "" {
		return a.grid, nil
	}
	cfg, ok := a.bands[name]
	if !ok {
		return payoff.GridConfig{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidGrid,
			apperrors.NewValidationError("band", name, "unknown band"))
	}
	return cfg, nil
}

// Assemble evaluates builder legs on the default grid.
func (a *Assembler) Assemble(spot float64, legs []models.InstrumentLeg) (*models.StrategyResult, error) {
	return a.evaluate("builder", spot, legs, a.grid, BuilderLabel)
}

// AssembleBand evaluates builder legs on a named band.
func (a *Assembler) AssembleBand(spot float64, band string, legs []models.InstrumentLeg) (*models.StrategyResult, error) {
	cfg, err := a.Band(band)
	if err != nil {
		return nil, err
	}
	return a.evaluate("builder", spot, legs, cfg, BuilderLabel)
}

// AssembleTemplate evaluates a catalog template on the band it names.
func (a *Assembler) AssembleTemplate(t models.StrategyTemplate, spot float64) (*models.StrategyResult, error) {
	cfg, err := a.Band(t.Band)
	if err != nil {
		return nil, apperrors.Wrapf(err, "strategy %s", t.ID)
	}
	return a.evaluate(t.ID, spot, t.Components, cfg, CompoundLabel)
}

// AssembleCustom evaluates the builder's working list.
func (a *Assembler) AssembleCustom(spot float64, instruments []models.CustomInstrument) (*models.StrategyResult, error) {
	legs := make([]models.InstrumentLeg, len(instruments))
	for i, inst := range instruments {
		legs[i] = inst.Leg
	}
	return a.Assemble(spot, legs)
}

func (a *Assembler) evaluate(view string, spot float64, legs []models.InstrumentLeg, cfg payoff.GridConfig, compoundLabel string) (*models.StrategyResult, error) {
	grid, err := payoff.GenerateGrid(spot, cfg)
	if err != nil {
		return nil, err
	}
	precision := cfg.PrecisionFor(spot)

	result := &models.StrategyResult{
		Spot:         spot,
		Grid:         grid,
		Datasets:     make([]models.LabeledCurve, 0, len(legs)+1),
		Compound:     []models.PricePoint{},
		StrikePrices: make([]float64, 0, len(legs)),
		Breakeven:    []float64{},
	}

	curves := make([][]models.PricePoint, 0, len(legs))
	for i, leg := range legs {
		curve, mark, err := legCurve(leg, spot, grid)
		if err != nil {
			return nil, apperrors.NewLegError(i, legLabel(leg), err)
		}
		curves = append(curves, curve)

		ds := models.LabeledCurve{
			Label:   leg.Label(),
			Data:    curve,
			Color:   legColor,
			BgColor: legBgColor,
		}
		if len(legs) > 1 {
			ds.BorderDash = append([]int(nil), legDash...)
		}
		result.Datasets = append(result.Datasets, ds)
		result.StrikePrices = append(result.StrikePrices, payoff.RoundPrice(mark, precision))
	}

	if len(curves) > 0 {
		result.Compound = payoff.Combine(curves...)
		result.Breakeven = payoff.FindBreakevens(result.Compound, precision)
		result.Datasets = append(result.Datasets, models.LabeledCurve{
			Label:   compoundLabel,
			Data:    result.Compound,
			Color:   compoundColor,
			BgColor: compoundBgColor,
		})
	}

	logging.LogRecompute(a.logger, view, spot, len(legs), len(grid), result.Breakeven)
	return result, nil
}

// legCurve returns the payoff curve of one leg and the price it is anchored
// at (strike or entry).
func legCurve(leg models.InstrumentLeg, spot float64, grid models.PriceGrid) ([]models.PricePoint, float64, error) {
	switch l := leg.(type) {
	case models.OptionLeg:
		if err := l.Validate(); err != nil {
			return nil, 0, err
		}
		strike := l.StrikeRatio * spot
		var premium float64
		if l.PremiumRatio != nil {
			premium = *l.PremiumRatio * spot
		} else {
			p, err := payoff.EstimatePremium(strike, l.Type, spot)
			if err != nil {
				return nil, 0, err
			}
			premium = p
		}
		curve, err := payoff.OptionPayoff(l.Type, strike, premium, l.Size, l.Position, grid)
		if err != nil {
			return nil, 0, err
		}
		return curve, strike, nil

	case models.PerpLeg:
		if err := l.Validate(); err != nil {
			return nil, 0, err
		}
		entry := l.EntryRatio * spot
		return payoff.PerpPayoff(entry, l.Size, l.Leverage, l.Position, grid), entry, nil
	}

	return nil, 0, fmt.Errorf("%w: unsupported leg %T", apperrors.ErrInvalidLeg, leg)
}

func legLabel(leg models.InstrumentLeg) string {
	if leg == nil {
		return "empty"
	}
	return leg.Label()
}
