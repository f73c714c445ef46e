package cli

import (
	"math"
	"strings"

	"optviz/internal/models"
	"optviz/pkg/utils"
)

const (
	chartPoint = '•'
	chartRise  = '│'
	chartZero  = '─'
	chartMark  = '┆'
	chartCross = '┼'
)

// RenderChart draws a PNL curve as text, highest PNL on the first line.
// The curve is resampled to at most width columns; the zero line and the
// columns nearest each mark price are drawn behind it. The last line is the
// price axis. Every line has the same rune width.
func RenderChart(curve []models.PricePoint, width, height int, marks ...float64) []string {
	if len(curve) == 0 || width < 2 || height < 2 {
		return nil
	}

	cols := width
	if len(curve) < cols {
		cols = len(curve)
	}
	sample := make([]models.PricePoint, cols)
	for c := range sample {
		i := 0
		if cols > 1 {
			i = c * (len(curve) - 1) / (cols - 1)
		}
		sample[c] = curve[i]
	}

	lo, hi := 0.0, 0.0
	for _, p := range sample {
		lo = math.Min(lo, p.PNL)
		hi = math.Max(hi, p.PNL)
	}
	if hi == lo {
		hi = lo + 1
	}
	rowOf := func(v float64) int {
		return int(math.Round((hi - v) / (hi - lo) * float64(height-1)))
	}

	cells := make([][]rune, height)
	for r := range cells {
		cells[r] = []rune(strings.Repeat(" ", cols))
	}
	zero := rowOf(0)
	for c := 0; c < cols; c++ {
		cells[zero][c] = chartZero
	}
	for _, m := range marks {
		c := nearestColumn(sample, m)
		if c < 0 {
			continue
		}
		for r := range cells {
			if r == zero {
				cells[r][c] = chartCross
			} else {
				cells[r][c] = chartMark
			}
		}
	}

	prev := -1
	for c, p := range sample {
		r := rowOf(p.PNL)
		if prev >= 0 {
			from, to := prev, r
			if from > to {
				from, to = to, from
			}
			for k := from + 1; k < to; k++ {
				cells[k][c] = chartRise
			}
		}
		cells[r][c] = chartPoint
		prev = r
	}

	top, mid, bottom := utils.FormatPnL(hi), "0", utils.FormatPnL(lo)
	labelWidth := maxInt(len(top), len(mid), len(bottom))

	lines := make([]string, 0, height+1)
	for r, row := range cells {
		label := ""
		switch r {
		case 0:
			label = top
		case zero:
			label = mid
		case height - 1:
			label = bottom
		}
		lines = append(lines, padLeft(label, labelWidth)+" │"+string(row))
	}

	left := utils.FormatPrice(sample[0].Price)
	right := utils.FormatPrice(sample[cols-1].Price)
	axis := left
	if gap := cols - len(left) - len(right); gap > 0 {
		axis += strings.Repeat(" ", gap) + right
	}
	axisRunes := []rune(axis)
	if len(axisRunes) > cols {
		axisRunes = axisRunes[:cols]
	} else if len(axisRunes) < cols {
		axisRunes = append(axisRunes, []rune(strings.Repeat(" ", cols-len(axisRunes)))...)
	}
	lines = append(lines, strings.Repeat(" ", labelWidth)+"  "+string(axisRunes))
	return lines
}

// nearestColumn returns the sampled column closest to price, or -1 when
// price is outside the sampled range.
func nearestColumn(sample []models.PricePoint, price float64) int {
	if price < sample[0].Price || price > sample[len(sample)-1].Price {
		return -1
	}
	best, bestDist := 0, math.Inf(1)
	for c, p := range sample {
		if d := math.Abs(p.Price - price); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func maxInt(first int, rest ...int) int {
	m := first
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}
