// Package models provides domain models for the payoff visualizer.
package models

// PricePoint is the PNL of a position at one underlying price.
type PricePoint struct {
	Price float64 `json:"price" csv:"price"`
	PNL   float64 `json:"pnl" csv:"pnl"`
}

// PriceGrid is the ordered sweep of underlying prices a strategy is evaluated over.
// Prices are strictly ascending and always include the rounded spot.
type PriceGrid []float64

// Len returns the number of prices in the grid.
func (g PriceGrid) Len() int {
	return len(g)
}

// Contains reports whether price is one of the grid prices.
func (g PriceGrid) Contains(price float64) bool {
	lo, hi := 0, len(g)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case g[mid] == price:
			return true
		case g[mid] < price:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// LabeledCurve is one dataset handed to the render sink.
type LabeledCurve struct {
	Label      string       `json:"label"`
	Data       []PricePoint `json:"data"`
	Color      string       `json:"color"`
	BgColor    string       `json:"bgColor"`
	BorderDash []int        `json:"borderDash,omitempty"`
}

// StrategyResult is the output of one strategy evaluation.
// Datasets hold one curve per leg followed by the compound curve.
type StrategyResult struct {
	Spot         float64        `json:"spot"`
	Grid         PriceGrid      `json:"grid"`
	Datasets     []LabeledCurve `json:"datasets"`
	Compound     []PricePoint   `json:"compound"`
	StrikePrices []float64      `json:"strikePrices"`
	Breakeven    []float64      `json:"breakeven"`
}

// PNLAt returns the compound PNL at the given grid price.
func (r *StrategyResult) PNLAt(price float64) (float64, bool) {
	for _, p := range r.Compound {
		if p.Price == price {
			return p.PNL, true
		}
	}
	return 0, false
}

// MaxProfit returns the largest compound PNL over the grid.
func (r *StrategyResult) MaxProfit() float64 {
	if len(r.Compound) == 0 {
		return 0
	}
	best := r.Compound[0].PNL
	for _, p := range r.Compound[1:] {
		if p.PNL > best {
			best = p.PNL
		}
	}
	return best
}

// MaxLoss returns the smallest compound PNL over the grid.
func (r *StrategyResult) MaxLoss() float64 {
	if len(r.Compound) == 0 {
		return 0
	}
	worst := r.Compound[0].PNL
	for _, p := range r.Compound[1:] {
		if p.PNL < worst {
			worst = p.PNL
		}
	}
	return worst
}
