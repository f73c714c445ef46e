package payoff

import (
	"math"

	"optviz/internal/models"
)

// FindBreakevens scans a curve left to right and returns the prices where PNL
// reaches zero, in ascending order.
//
// Sign changes between adjacent points are located by linear interpolation and
// rounded to precision decimal places. Points with exactly zero PNL are
// reported as they are. A candidate within one grid step of the previous one
// is folded into it when either of the two is an exact-zero point, so a zero
// point next to a crossing, or a flat run of zeros, is reported once.
// Interpolated crossings are never folded into each other.
func FindBreakevens(curve []models.PricePoint, precision int) []float64 {
	breakevens := []float64{}
	if len(curve) == 0 {
		return breakevens
	}

	last := math.NaN()
	lastZero := false
	add := func(price, step float64, zero bool) {
		fold := !math.IsNaN(last) && (zero || lastZero) && math.Abs(price-last) <= step
		last, lastZero = price, zero
		if !fold {
			breakevens = append(breakevens, price)
		}
	}

	if curve[0].PNL == 0 {
		step := 0.0
		if len(curve) > 1 {
			step = curve[1].Price - curve[0].Price
		}
		add(curve[0].Price, step, true)
	}

	for i := 1; i < len(curve); i++ {
		prev, curr := curve[i-1], curve[i]
		step := curr.Price - prev.Price

		if (prev.PNL < 0 && curr.PNL >= 0) || (prev.PNL > 0 && curr.PNL <= 0) {
			ratio := math.Abs(prev.PNL) / (math.Abs(prev.PNL) + math.Abs(curr.PNL))
			add(RoundPrice(prev.Price+step*ratio, precision), step, false)
		}
		if curr.PNL == 0 {
			add(curr.Price, step, true)
		}
	}

	return breakevens
}
