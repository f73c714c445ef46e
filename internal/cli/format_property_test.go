package cli

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"optviz/internal/models"
	"optviz/internal/strategy"
)

// Property: the chart is a rectangle of height+1 lines with one point per
// column.
func TestProperty_ChartShape(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("chart lines share one width", prop.ForAll(
		func(pnls []float64, width, height int) bool {
			if len(pnls) == 0 {
				return true
			}
			curve := make([]models.PricePoint, len(pnls))
			for i, v := range pnls {
				curve[i] = models.PricePoint{Price: 100 + float64(i), PNL: v}
			}

			lines := RenderChart(curve, width, height, 100+float64(len(pnls)/2))
			if len(lines) != height+1 {
				t.Logf("got %d lines, want %d", len(lines), height+1)
				return false
			}
			w := utf8.RuneCountInString(lines[0])
			for _, l := range lines {
				if utf8.RuneCountInString(l) != w {
					t.Logf("ragged chart:\n%s", strings.Join(lines, "\n"))
					return false
				}
			}
			cols := width
			if len(pnls) < cols {
				cols = len(pnls)
			}
			return strings.Count(strings.Join(lines, "\n"), string(chartPoint)) == cols
		},
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
		gen.IntRange(2, 120),
		gen.IntRange(2, 40),
	))

	properties.TestingRun(t)
}

// Property: a leg written back in --leg notation parses to the same leg.
func TestProperty_LegNotationRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("option legs survive FormatLegSpec and ParseLeg", prop.ForAll(
		func(call, long, withPremium bool, strike, size, premium float64) bool {
			leg := models.OptionLeg{
				Type:        models.OptionPut,
				Position:    models.PositionShort,
				StrikeRatio: strike,
				Size:        size,
			}
			if call {
				leg.Type = models.OptionCall
			}
			if long {
				leg.Position = models.PositionLong
			}
			if withPremium {
				leg.PremiumRatio = &premium
			}

			parsed, err := strategy.ParseLeg(FormatLegSpec(models.SpecFromLeg(leg)))
			if err != nil {
				t.Logf("parse: %v", err)
				return false
			}
			return assert.ObjectsAreEqual(models.SpecFromLeg(leg), models.SpecFromLeg(parsed))
		},
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.Float64Range(0.01, 5),
		gen.Float64Range(0.01, 100),
		gen.Float64Range(0, 1),
	))

	properties.Property("perp legs survive FormatLegSpec and ParseLeg", prop.ForAll(
		func(long bool, entry, size, leverage float64) bool {
			leg := models.PerpLeg{
				Position:   models.PositionShort,
				EntryRatio: entry,
				Size:       size,
				Leverage:   leverage,
			}
			if long {
				leg.Position = models.PositionLong
			}

			parsed, err := strategy.ParseLeg(FormatLegSpec(models.SpecFromLeg(leg)))
			if err != nil {
				t.Logf("parse: %v", err)
				return false
			}
			return parsed == models.InstrumentLeg(leg)
		},
		gen.Bool(),
		gen.Float64Range(0.01, 5),
		gen.Float64Range(0.01, 100),
		gen.Float64Range(1, 125),
	))

	properties.TestingRun(t)
}

func TestRenderChart_Marks(t *testing.T) {
	curve := []models.PricePoint{
		{Price: 90, PNL: -10}, {Price: 95, PNL: -5}, {Price: 100, PNL: 0},
		{Price: 105, PNL: 5}, {Price: 110, PNL: 10},
	}

	assert.Equal(t, []string{
		"+$10.00 │  ┆ •",
		"        │  ┆• ",
		"      0 │──•──",
		"        │ •┆  ",
		"-$10.00 │• ┆  ",
		"         90.00",
	}, RenderChart(curve, 5, 5, 100))

	assert.Nil(t, RenderChart(nil, 10, 10))
	assert.Nil(t, RenderChart(curve, 1, 10))
}

func TestFormatLeg(t *testing.T) {
	premium := 0.05
	assert.Equal(t, "Long Call 1x @ 52,500.00 (105%) premium $2,500.00",
		FormatLeg(models.OptionLeg{Type: models.OptionCall, Position: models.PositionLong, StrikeRatio: 1.05, Size: 1, PremiumRatio: &premium}, 50000))
	assert.Equal(t, "Short Perp 0.5x @ 50,000.00 (100%) 3x leverage",
		FormatLeg(models.PerpLeg{Position: models.PositionShort, EntryRatio: 1, Size: 0.5, Leverage: 3}, 50000))
	assert.Equal(t, "none", FormatPriceList(nil))
	assert.Equal(t, "44,000.00, 56,000.00", FormatPriceList([]float64{44000, 56000}))
}
