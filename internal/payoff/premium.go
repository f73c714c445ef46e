package payoff

import (
	"math"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
)

// Moneyness classifies a strike by its distance from spot.
type Moneyness string

const (
	MoneynessNear Moneyness = "near" // within ±5% of spot
	MoneynessMid  Moneyness = "mid"  // 5% to 10% away
	MoneynessFar  Moneyness = "far"  // 10% or more away
)

// Time-value rates applied to the strike in each band.
const (
	nearRate = 0.08
	midRate  = 0.04
	farRate  = 0.02
)

// MoneynessBand returns the band strike falls in relative to spot.
func MoneynessBand(strike, spot float64) Moneyness {
	switch {
	case strike <= spot*0.9 || strike >= spot*1.1:
		return MoneynessFar
	case strike <= spot*0.95 || strike >= spot*1.05:
		return MoneynessMid
	}
	return MoneynessNear
}

// Intrinsic returns the exercise value of an option at price.
func Intrinsic(t models.OptionType, strike, price float64) (float64, error) {
	if !t.Valid() {
		return 0, apperrors.NewInvalidOptionTypeError(string(t))
	}
	return intrinsic(t, strike, price), nil
}

// intrinsic assumes t has already been validated.
func intrinsic(t models.OptionType, strike, price float64) float64 {
	if t == models.OptionCall {
		return math.Max(price-strike, 0)
	}
	return math.Max(strike-price, 0)
}

// EstimatePremium returns a heuristic premium for an option.
//
// This is not a pricing model. There is no volatility and no time to expiry:
// far strikes cost intrinsic value plus 2% of the strike, mid strikes intrinsic
// plus 4%, and near-the-money strikes a flat 8% of the strike.
func EstimatePremium(strike float64, t models.OptionType, spot float64) (float64, error) {
	if !t.Valid() {
		return 0, apperrors.NewInvalidOptionTypeError(string(t))
	}
	if err := ValidateSpot(spot); err != nil {
		return 0, err
	}

	switch MoneynessBand(strike, spot) {
	case MoneynessFar:
		return intrinsic(t, strike, spot) + strike*farRate, nil
	case MoneynessMid:
		return intrinsic(t, strike, spot) + strike*midRate, nil
	default:
		return strike * nearRate, nil
	}
}
