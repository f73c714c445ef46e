package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"optviz/internal/models"
	"optviz/pkg/utils"
)

// FormatLeg describes a leg in words, with its anchor price resolved against spot.
func FormatLeg(leg models.InstrumentLeg, spot float64) string {
	switch l := leg.(type) {
	case models.OptionLeg:
		s := fmt.Sprintf("%s %sx @ %s (%s)", l.Label(), formatSize(l.Size),
			utils.FormatPrice(l.StrikeRatio*spot), utils.FormatRatio(l.StrikeRatio))
		if l.PremiumRatio != nil {
			s += " premium " + utils.FormatUSD(*l.PremiumRatio*spot)
		}
		return s
	case models.PerpLeg:
		return fmt.Sprintf("%s %sx @ %s (%s) %sx leverage", l.Label(), formatSize(l.Size),
			utils.FormatPrice(l.EntryRatio*spot), utils.FormatRatio(l.EntryRatio), formatSize(l.Leverage))
	}
	return "unknown leg"
}

// FormatLegSpec writes a leg back in the notation --leg accepts.
func FormatLegSpec(spec models.LegSpec) string {
	size := spec.Size
	if size == 0 {
		size = 1
	}
	switch spec.Asset {
	case models.AssetPerp:
		lev := spec.Leverage
		if lev == 0 {
			lev = 1
		}
		return fmt.Sprintf("perp:%s:%s:%s:%s", spec.Position, formatFloat(spec.Entry), formatFloat(size), formatFloat(lev))
	default:
		s := fmt.Sprintf("opt:%s:%s:%s:%s", spec.Type, spec.Position, formatFloat(spec.Strike), formatFloat(size))
		if spec.Premium != nil {
			s += ":" + formatFloat(*spec.Premium)
		}
		return s
	}
}

// FormatPriceList joins prices for display, or "none".
func FormatPriceList(prices []float64) string {
	if len(prices) == 0 {
		return "none"
	}
	parts := make([]string, len(prices))
	for i, p := range prices {
		parts[i] = utils.FormatPrice(p)
	}
	return strings.Join(parts, ", ")
}

// FormatAge formats how long ago something happened.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func formatSize(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return formatFloat(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
