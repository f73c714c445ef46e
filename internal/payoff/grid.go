// Package payoff implements the PNL computation engine: price grid generation,
// the premium heuristic, per-leg payoff curves, curve combination and
// breakeven location.
//
// Everything in this package is pure and synchronous. Callers supply a spot
// price and a grid configuration; no state is kept between calls.
package payoff

import (
	"fmt"
	"math"
	"sort"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
)

// MaxGridPoints bounds the number of prices a single grid may contain.
const MaxGridPoints = 100000

// MaxPrecision is the finest rounding, in decimal places, a grid may use.
const MaxPrecision = 8

// GridConfig describes a price sweep relative to spot.
type GridConfig struct {
	LowFactor  float64 // lowest price as a multiple of spot
	HighFactor float64 // highest price as a multiple of spot
	StepFactor float64 // distance between prices as a multiple of spot
	Precision  int     // minimum decimal places prices are rounded to (0 = integer prices)
}

// Named grid bands.
const (
	BandDefault = "default"
	BandWide    = "wide"
	BandCoarse  = "coarse"
)

// DefaultGridConfig returns the ±20% band with a 1% step.
func DefaultGridConfig() GridConfig {
	return GridConfig{LowFactor: 0.8, HighFactor: 1.2, StepFactor: 0.01}
}

// WideGridConfig returns the ±50% band with a 1% step, for wide-wing strategies.
func WideGridConfig() GridConfig {
	return GridConfig{LowFactor: 0.5, HighFactor: 1.5, StepFactor: 0.01}
}

// CoarseGridConfig returns the -30%/+40% band with a 3% step.
func CoarseGridConfig() GridConfig {
	return GridConfig{LowFactor: 0.7, HighFactor: 1.4, StepFactor: 0.03}
}

// Bands returns the built-in grid bands keyed by name.
func Bands() map[string]GridConfig {
	return map[string]GridConfig{
		BandDefault: DefaultGridConfig(),
		BandWide:    WideGridConfig(),
		BandCoarse:  CoarseGridConfig(),
	}
}

// Validate checks the band is usable.
func (c GridConfig) Validate() error {
	if !(c.LowFactor > 0 && c.LowFactor < 1) {
		return gridError("low_factor", c.LowFactor, "must be between 0 and 1")
	}
	if !(c.HighFactor > 1) || math.IsInf(c.HighFactor, 0) {
		return gridError("high_factor", c.HighFactor, "must be finite and greater than 1")
	}
	if !(c.StepFactor > 0) || math.IsInf(c.StepFactor, 0) {
		return gridError("step_factor", c.StepFactor, "must be finite and greater than 0")
	}
	if c.Precision < 0 || c.Precision > MaxPrecision {
		return gridError("precision", c.Precision, fmt.Sprintf("must be between 0 and %d", MaxPrecision))
	}
	if (c.HighFactor-c.LowFactor)/c.StepFactor > MaxGridPoints {
		return gridError("step_factor", c.StepFactor, fmt.Sprintf("grid would exceed %d prices", MaxGridPoints))
	}
	return nil
}

// Step returns the absolute distance between grid prices for the given spot.
func (c GridConfig) Step(spot float64) float64 {
	return spot * c.StepFactor
}

// PrecisionFor returns the number of decimal places grid prices for spot are
// rounded to. It is the configured precision, raised until one step spans at
// least one unit in the last place, and never above MaxPrecision.
func (c GridConfig) PrecisionFor(spot float64) int {
	precision := c.Precision
	step := c.Step(spot)
	if step > 0 && !math.IsInf(step, 0) {
		if need := int(math.Ceil(-math.Log10(step) - 1e-9)); need > precision {
			precision = need
		}
	}
	if precision > MaxPrecision {
		precision = MaxPrecision
	}
	return precision
}

// ValidateSpot returns an InvalidSpotError unless spot is finite and positive.
func ValidateSpot(spot float64) error {
	if math.IsNaN(spot) || math.IsInf(spot, 0) || spot <= 0 {
		return apperrors.NewInvalidSpotError(spot)
	}
	return nil
}

// RoundPrice rounds a price to the given number of decimal places.
func RoundPrice(price float64, precision int) float64 {
	if precision <= 0 {
		return math.Round(price)
	}
	scale := math.Pow10(precision)
	return math.Round(price*scale) / scale
}

// GenerateGrid builds the ascending, duplicate-free price sweep for spot,
// rounded to cfg.PrecisionFor(spot). The rounded spot is always part of the
// grid. A spot so large the band overflows, or so small its step cannot be
// resolved at MaxPrecision, is rejected as an invalid spot.
func GenerateGrid(spot float64, cfg GridConfig) (models.PriceGrid, error) {
	if err := ValidateSpot(spot); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	low := spot * cfg.LowFactor
	high := spot * cfg.HighFactor
	step := cfg.Step(spot)
	precision := cfg.PrecisionFor(spot)
	span := (high - low) / step
	if math.IsInf(high, 0) || !(step*(1+1e-9) >= math.Pow10(-precision)) || !(span <= MaxGridPoints) {
		return nil, apperrors.NewInvalidSpotError(spot)
	}

	// Index-based stepping keeps float error from accumulating across the sweep.
	n := int(math.Floor(span + 1e-9))
	grid := make(models.PriceGrid, 0, n+2)
	for i := 0; i <= n; i++ {
		p := RoundPrice(low+float64(i)*step, precision)
		if len(grid) > 0 && p <= grid[len(grid)-1] {
			continue
		}
		grid = append(grid, p)
	}

	center := RoundPrice(spot, precision)
	idx := sort.SearchFloat64s(grid, center)
	if idx == len(grid) || grid[idx] != center {
		grid = append(grid, 0)
		copy(grid[idx+1:], grid[idx:])
		grid[idx] = center
	}

	return grid, nil
}

func gridError(field string, value interface{}, msg string) error {
	return fmt.Errorf("%w: %w", apperrors.ErrInvalidGrid, apperrors.NewValidationError(field, value, msg))
}
