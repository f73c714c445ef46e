package payoff

import (
	apperrors "optviz/internal/errors"
	"optviz/internal/models"
)

// OptionPayoff evaluates an option position at every grid price.
// PNL is (intrinsic - premium) * size, negated for a short position.
func OptionPayoff(t models.OptionType, strike, premium, size float64, pos models.Position, grid models.PriceGrid) ([]models.PricePoint, error) {
	if !t.Valid() {
		return nil, apperrors.NewInvalidOptionTypeError(string(t))
	}

	curve := make([]models.PricePoint, len(grid))
	for i, price := range grid {
		pnl := (intrinsic(t, strike, price) - premium) * size
		if pos == models.PositionShort {
			pnl = -pnl
		}
		curve[i] = models.PricePoint{Price: price, PNL: pnl}
	}
	return curve, nil
}

// PerpPayoff evaluates a perpetual futures position at every grid price.
func PerpPayoff(entry, size, leverage float64, pos models.Position, grid models.PriceGrid) []models.PricePoint {
	curve := make([]models.PricePoint, len(grid))
	for i, price := range grid {
		var pnl float64
		if pos == models.PositionShort {
			pnl = (entry - price) * size * leverage
		} else {
			pnl = (price - entry) * size * leverage
		}
		curve[i] = models.PricePoint{Price: price, PNL: pnl}
	}
	return curve
}
