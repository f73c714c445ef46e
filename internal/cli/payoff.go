package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
	"optviz/internal/payoff"
	"optviz/internal/pricefeed"
	"optviz/internal/strategy"
	"optviz/pkg/utils"
)

// evalFlags are the flags shared by commands that evaluate a strategy.
type evalFlags struct {
	token   string
	spot    float64
	band    string
	table   int
	csv     string
	noChart bool
	width   int
	height  int
}

func (f *evalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.token, "token", "t", "", "token whose spot price is used (default: server.default_token)")
	cmd.Flags().Float64Var(&f.spot, "spot", 0, "fixed spot price instead of a live quote")
	cmd.Flags().StringVarP(&f.band, "band", "b", "", "price grid band: default, wide, coarse or a configured band")
	cmd.Flags().IntVar(&f.table, "table", 0, "print every Nth grid point as a table")
	cmd.Flags().StringVar(&f.csv, "csv", "", "write curves as CSV to a file, or - for stdout")
	cmd.Flags().BoolVar(&f.noChart, "no-chart", false, "skip the terminal chart")
	cmd.Flags().IntVar(&f.width, "width", 0, "chart width in columns (default: ui.chart_width)")
	cmd.Flags().IntVar(&f.height, "height", 0, "chart height in rows (default: ui.chart_height)")
}

// addPayoffCommands adds the custom leg evaluation command.
func addPayoffCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPayoffCmd(app))
}

func newPayoffCmd(app *App) *cobra.Command {
	var (
		opts evalFlags
		legs []string
		from string
	)
	cmd := &cobra.Command{
		Use:   "payoff [--from <strategy>] --leg <leg>...",
		Short: "Evaluate custom legs",
		Long: `Evaluate a custom list of legs and draw the combined PNL curve.

Legs use a compact notation, with strike, entry and premium as multiples of spot:

  opt:<call|put>:<long|short>:<strike>:<size>[:<premium>]
  perp:<long|short>:<entry>:<size>:<leverage>

Without a premium the option premium is estimated from moneyness. --from starts
from the legs of a catalog strategy.`,
		Example: `  optviz payoff --token ETH --leg opt:call:long:1.05:1
  optviz payoff --spot 50000 --leg perp:long:1:1:1 --leg opt:call:short:1.1:1
  optviz payoff --from strangle --leg perp:long:1:0.5:1 --band wide --csv curves.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := app.collectLegs(from, legs)
			if err != nil {
				return err
			}
			token, spot, err := app.resolveSpot(cmd.Context(), opts.token, opts.spot)
			if err != nil {
				return err
			}
			result, err := app.Assembler.AssembleBand(spot, opts.band, parsed)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if opts.csv == "-" {
				return WriteCurvesCSV(output.Writer(), result)
			}
			if output.IsJSON() {
				if err := exportCSV(opts.csv, result); err != nil {
					return err
				}
				return output.JSON(map[string]interface{}{
					"token":  token,
					"result": result,
				})
			}
			return renderResult(output, app, token, parsed, result, opts)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringArrayVarP(&legs, "leg", "l", nil, "leg in compact notation (repeatable)")
	cmd.Flags().StringVar(&from, "from", "", "start from the legs of a catalog strategy")
	return cmd
}

// collectLegs combines the legs of a catalog strategy with legs given on the
// command line.
func (app *App) collectLegs(from string, notation []string) ([]models.InstrumentLeg, error) {
	if from == "" && len(notation) == 0 {
		return nil, apperrors.NewValidationError("leg", nil, "give at least one --leg or --from")
	}

	var legs []models.InstrumentLeg
	if from != "" {
		tmpl, err := app.Catalog.Get(from)
		if err != nil {
			return nil, err
		}
		legs = append(legs, tmpl.Components...)
	}

	extra, err := strategy.ParseLegs(notation)
	if err != nil {
		return nil, err
	}
	return append(legs, extra...), nil
}

// resolveSpot returns the spot to evaluate at: the fixed spot when given,
// otherwise the live price of token.
func (app *App) resolveSpot(ctx context.Context, token string, spot float64) (string, float64, error) {
	token = pricefeed.NormalizeToken(token)
	if spot != 0 {
		if err := payoff.ValidateSpot(spot); err != nil {
			return "", 0, err
		}
		return token, spot, nil
	}

	if token == "" {
		token = pricefeed.NormalizeToken(app.Config.Server.DefaultToken)
	}
	price, err := app.PriceFeed().SpotPrice(ctx, token)
	if err != nil {
		return "", 0, err
	}
	return token, price, nil
}

// renderResult prints the summary, chart and optional table of a result.
func renderResult(output *Output, app *App, token string, legs []models.InstrumentLeg, result *models.StrategyResult, opts evalFlags) error {
	label := "Spot"
	if token != "" {
		label = token
	}
	output.Printf("  %-11s %s\n", label+":", output.Cyan(utils.FormatUSD(result.Spot)))
	output.Printf("  %-11s %s to %s (%d points)\n", "Grid:",
		utils.FormatPrice(result.Grid[0]), utils.FormatPrice(result.Grid[len(result.Grid)-1]), len(result.Grid))
	output.Println()

	output.Bold("Legs")
	for i, leg := range legs {
		output.Printf("  %d. %s\n", i+1, FormatLeg(leg, result.Spot))
	}
	output.Println()

	maxProfit, maxLoss := result.MaxProfit(), result.MaxLoss()
	output.Printf("  %-11s %s\n", "Strikes:", FormatPriceList(result.StrikePrices))
	output.Printf("  %-11s %s\n", "Breakeven:", output.Yellow(FormatPriceList(result.Breakeven)))
	output.Printf("  %-11s %s\n", "Max profit:", output.PnL(maxProfit, utils.FormatPnL(maxProfit)))
	output.Printf("  %-11s %s\n", "Max loss:", output.PnL(maxLoss, utils.FormatPnL(maxLoss)))
	output.Dim("  (over the grid shown)")

	if !opts.noChart {
		width, height := opts.width, opts.height
		if width <= 0 {
			width = app.Config.UI.ChartWidth
		}
		if height <= 0 {
			height = app.Config.UI.ChartHeight
		}
		output.Println()
		for _, line := range RenderChart(result.Compound, width, height, result.Spot) {
			output.Println(line)
		}
	}

	if opts.table > 0 {
		output.Println()
		table := NewTable(output, "PRICE", "PNL")
		for i, p := range result.Compound {
			if i%opts.table != 0 && i != len(result.Compound)-1 {
				continue
			}
			price := utils.FormatPrice(p.Price)
			if p.Price == result.Spot {
				price = output.Cyan(price)
			}
			table.AddRow(price, output.PnL(p.PNL, utils.FormatPnL(p.PNL)))
		}
		table.Render()
	}

	if opts.csv != "" {
		if err := exportCSV(opts.csv, result); err != nil {
			return err
		}
		output.Println()
		output.Success("✓ Wrote curves to %s", opts.csv)
	}
	return nil
}

// curveRow is one point of one curve in the CSV export.
type curveRow struct {
	Curve string  `csv:"curve"`
	Price float64 `csv:"price"`
	PNL   float64 `csv:"pnl"`
}

// WriteCurvesCSV writes every dataset of result in long form: one row per
// curve and grid price, leg curves first and the combined curve last.
func WriteCurvesCSV(w io.Writer, result *models.StrategyResult) error {
	rows := make([]curveRow, 0, len(result.Datasets)*len(result.Grid))
	for i, ds := range result.Datasets {
		name := ds.Label
		if i < len(result.Datasets)-1 {
			name = fmt.Sprintf("leg%d %s", i+1, ds.Label)
		}
		for _, p := range ds.Data {
			rows = append(rows, curveRow{Curve: name, Price: p.Price, PNL: p.PNL})
		}
	}
	return gocsv.Marshal(rows, w)
}

func exportCSV(path string, result *models.StrategyResult) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteCurvesCSV(f, result); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
