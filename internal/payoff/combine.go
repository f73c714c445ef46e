package payoff

import (
	"fmt"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
)

// Combine sums curves point by point into one compound curve. Prices are
// taken from the first curve.
//
// All curves must come from the same grid. Alignment is not checked here;
// use CheckAligned when that is in doubt. No curves yields an empty curve.
func Combine(curves ...[]models.PricePoint) []models.PricePoint {
	if len(curves) == 0 {
		return []models.PricePoint{}
	}

	combined := make([]models.PricePoint, len(curves[0]))
	for i := range combined {
		total := 0.0
		for _, c := range curves {
			total += c[i].PNL
		}
		combined[i] = models.PricePoint{Price: curves[0][i].Price, PNL: total}
	}
	return combined
}

// CheckAligned returns ErrMisalignedCurves if the curves differ in length or
// in the price at any index.
func CheckAligned(curves ...[]models.PricePoint) error {
	if len(curves) < 2 {
		return nil
	}
	ref := curves[0]
	for j, c := range curves[1:] {
		if len(c) != len(ref) {
			return fmt.Errorf("%w: curve %d has %d points, want %d", apperrors.ErrMisalignedCurves, j+1, len(c), len(ref))
		}
		for i := range c {
			if c[i].Price != ref[i].Price {
				return fmt.Errorf("%w: curve %d index %d price %v, want %v", apperrors.ErrMisalignedCurves, j+1, i, c[i].Price, ref[i].Price)
			}
		}
	}
	return nil
}
