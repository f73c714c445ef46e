package payoff

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"optviz/internal/models"
)

var propertyBands = []GridConfig{DefaultGridConfig(), WideGridConfig(), CoarseGridConfig()}

func newProperties() *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	return gopter.NewProperties(parameters)
}

// Property: for any positive spot and valid band the grid is strictly
// ascending, duplicate-free and contains the rounded spot.
func TestProperty_GridOrderedAndContainsSpot(t *testing.T) {
	properties := newProperties()

	properties.Property("grid is strictly ascending and contains round(spot)", prop.ForAll(
		func(spot float64, band int, precision int) bool {
			cfg := propertyBands[band]
			cfg.Precision = precision

			grid, err := GenerateGrid(spot, cfg)
			if err != nil {
				return false
			}
			for i := 1; i < len(grid); i++ {
				if grid[i] <= grid[i-1] {
					return false
				}
			}
			return len(grid) > 1 && grid.Contains(RoundPrice(spot, cfg.PrecisionFor(spot)))
		},
		gen.Float64Range(0.0001, 1e6),
		gen.IntRange(0, len(propertyBands)-1),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

// Property: a long call pays (max(p-K,0) - premium) * size at every grid
// price, and the short call is its exact negation.
func TestProperty_CallPayoffFormulaAndShortMirror(t *testing.T) {
	properties := newProperties()

	properties.Property("long call formula, short is negation", prop.ForAll(
		func(spot, strikeRatio, premiumRatio, size float64) bool {
			grid, err := GenerateGrid(spot, DefaultGridConfig())
			if err != nil {
				return false
			}
			strike := spot * strikeRatio
			premium := spot * premiumRatio

			long, err := OptionPayoff(models.OptionCall, strike, premium, size, models.PositionLong, grid)
			if err != nil {
				return false
			}
			short, err := OptionPayoff(models.OptionCall, strike, premium, size, models.PositionShort, grid)
			if err != nil {
				return false
			}

			for i, price := range grid {
				want := (math.Max(price-strike, 0) - premium) * size
				if long[i].PNL != want || long[i].Price != price {
					return false
				}
				if short[i].PNL != -long[i].PNL {
					return false
				}
			}
			return true
		},
		gen.Float64Range(10, 1e6),
		gen.Float64Range(0.5, 1.5),
		gen.Float64Range(0, 0.2),
		gen.Float64Range(0, 10),
	))

	properties.TestingRun(t)
}

// Property: leg order does not change the compound curve, and grouping the
// sum differently gives the same result within float tolerance.
func TestProperty_CombineCommutativeAndAssociative(t *testing.T) {
	properties := newProperties()

	properties.Property("combine is order independent", prop.ForAll(
		func(spot, k1, k2, entry, lev float64) bool {
			grid, err := GenerateGrid(spot, DefaultGridConfig())
			if err != nil {
				return false
			}
			a, _ := OptionPayoff(models.OptionCall, spot*k1, spot*0.03, 1, models.PositionLong, grid)
			b, _ := OptionPayoff(models.OptionPut, spot*k2, spot*0.05, 2, models.PositionShort, grid)
			c := PerpPayoff(spot*entry, 1, lev, models.PositionShort, grid)

			ref := Combine(a, b, c)
			variants := [][]models.PricePoint{
				Combine(c, b, a),
				Combine(b, c, a),
				Combine(Combine(a, b), c),
				Combine(a, Combine(b, c)),
			}
			for _, v := range variants {
				if len(v) != len(ref) {
					return false
				}
				for i := range ref {
					if v[i].Price != ref[i].Price || !closeTo(v[i].PNL, ref[i].PNL) {
						return false
					}
				}
			}
			return true
		},
		gen.Float64Range(10, 1e6),
		gen.Float64Range(0.8, 1.2),
		gen.Float64Range(0.8, 1.2),
		gen.Float64Range(0.8, 1.2),
		gen.Float64Range(1, 20),
	))

	properties.TestingRun(t)
}

// Property: a leg combined with its exact short mirror is flat zero.
func TestProperty_PerfectHedgeCancels(t *testing.T) {
	properties := newProperties()

	properties.Property("leg plus mirror is zero everywhere", prop.ForAll(
		func(spot, strikeRatio, size float64, put bool) bool {
			grid, err := GenerateGrid(spot, WideGridConfig())
			if err != nil {
				return false
			}
			typ := models.OptionCall
			if put {
				typ = models.OptionPut
			}
			strike := spot * strikeRatio
			premium, err := EstimatePremium(strike, typ, spot)
			if err != nil {
				return false
			}

			long, _ := OptionPayoff(typ, strike, premium, size, models.PositionLong, grid)
			short, _ := OptionPayoff(typ, strike, premium, size, models.PositionShort, grid)
			perpLong := PerpPayoff(spot, size, 3, models.PositionLong, grid)
			perpShort := PerpPayoff(spot, size, 3, models.PositionShort, grid)

			for _, p := range Combine(long, short) {
				if p.PNL != 0 {
					return false
				}
			}
			for _, p := range Combine(perpLong, perpShort) {
				if p.PNL != 0 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(10, 1e6),
		gen.Float64Range(0.6, 1.4),
		gen.Float64Range(0.1, 10),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: a long call with strike K and premium P > 0 breaks even once,
// within one grid step of K + P.
func TestProperty_LongCallBreakeven(t *testing.T) {
	properties := newProperties()

	properties.Property("single breakeven near K+P", prop.ForAll(
		func(spot, strikeRatio float64) bool {
			cfg := DefaultGridConfig()
			grid, err := GenerateGrid(spot, cfg)
			if err != nil {
				return false
			}
			strike := spot * strikeRatio
			premium, err := EstimatePremium(strike, models.OptionCall, spot)
			if err != nil || premium <= 0 {
				return false
			}

			curve, _ := OptionPayoff(models.OptionCall, strike, premium, 1, models.PositionLong, grid)
			be := FindBreakevens(curve, cfg.Precision)
			if len(be) != 1 {
				return false
			}
			return math.Abs(be[0]-(strike+premium)) <= cfg.Step(spot)+1
		},
		gen.Float64Range(100, 1e6),
		gen.Float64Range(0.9, 1.05),
	))

	properties.TestingRun(t)
}

// Property: a strangle (long put 0.95, long call 1.05, symmetric premiums)
// has exactly two breakevens, one on each side of spot.
func TestProperty_StrangleHasTwoBreakevens(t *testing.T) {
	properties := newProperties()

	properties.Property("two breakevens straddling spot", prop.ForAll(
		func(spot, premiumRatio float64) bool {
			cfg := DefaultGridConfig()
			grid, err := GenerateGrid(spot, cfg)
			if err != nil {
				return false
			}
			premium := spot * premiumRatio
			put, _ := OptionPayoff(models.OptionPut, spot*0.95, premium, 1, models.PositionLong, grid)
			call, _ := OptionPayoff(models.OptionCall, spot*1.05, premium, 1, models.PositionLong, grid)

			be := FindBreakevens(Combine(put, call), cfg.Precision)
			return len(be) == 2 && be[0] < spot && be[1] > spot
		},
		gen.Float64Range(100, 1e6),
		gen.Float64Range(0.01, 0.1),
	))

	properties.TestingRun(t)
}

func closeTo(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return diff <= 1e-9*scale
}
