package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"optviz/internal/models"
	"optviz/internal/pricefeed"
	"optviz/internal/store"
	"optviz/pkg/utils"
)

const defaultFetchConcurrency = 4

// addPriceCommands adds the spot price ticker commands.
func addPriceCommands(rootCmd *cobra.Command, app *App) {
	var concurrency int
	cmd := &cobra.Command{
		Use:     "prices [TOKEN...]",
		Aliases: []string{"price", "ticker"},
		Short:   "Show spot prices",
		Long:    "Fetch USD spot prices for the given tokens, or for every configured token.",
		Example: `  optviz prices
  optviz prices WBTC ETH`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens := args
			if len(tokens) == 0 {
				tokens = app.Config.Tokens()
			}
			for i := range tokens {
				tokens[i] = pricefeed.NormalizeToken(tokens[i])
			}

			results := pricefeed.FetchAll(cmd.Context(), app.PriceFeed(), tokens, concurrency)

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(priceResultsJSON(results))
			}

			now := time.Now()
			failed := 0
			table := NewTable(output, "TOKEN", "PRICE", "SOURCE", "FETCHED")
			for _, r := range results {
				if r.Err != nil {
					failed++
					table.AddRow(r.Token, output.Red("unavailable"), "", output.DimText(r.Err.Error()))
					continue
				}
				table.AddRow(r.Token, utils.FormatUSD(r.Quote.Price), r.Quote.Source,
					output.DimText(FormatAge(r.Quote.Age(now))))
			}
			table.Render()

			if failed == len(results) && failed > 0 {
				return fmt.Errorf("no prices available: %w", results[0].Err)
			}
			if failed > 0 {
				output.Warning("%d of %d prices unavailable", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", defaultFetchConcurrency, "parallel price requests")
	cmd.AddCommand(newPriceHistoryCmd(app))
	rootCmd.AddCommand(cmd)
}

func newPriceHistoryCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <token>",
		Short: "Show cached spot quotes for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := app.DataStore()
			if err != nil {
				return err
			}
			token := pricefeed.NormalizeToken(args[0])
			quotes, err := ds.QuoteHistory(cmd.Context(), store.QuoteFilter{Token: token, Limit: limit})
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(quotes)
			}
			if len(quotes) == 0 {
				output.Dim("No cached quotes for %s", token)
				return nil
			}
			table := NewTable(output, "FETCHED", "PRICE", "SOURCE")
			for _, q := range quotes {
				table.AddRow(q.FetchedAt.Local().Format("2006-01-02 15:04:05"), utils.FormatUSD(q.Price), q.Source)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of quotes to show")
	return cmd
}

type priceJSON struct {
	Token string            `json:"token"`
	Quote *models.SpotQuote `json:"quote,omitempty"`
	Error string            `json:"error,omitempty"`
}

func priceResultsJSON(results []pricefeed.QuoteResult) []priceJSON {
	out := make([]priceJSON, len(results))
	for i, r := range results {
		out[i] = priceJSON{Token: r.Token}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
			continue
		}
		q := r.Quote
		out[i].Quote = &q
	}
	return out
}
