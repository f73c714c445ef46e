package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"optviz/internal/models"
)

// addStrategyCommands adds the catalog commands.
func addStrategyCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "strategy",
		Aliases: []string{"strategies", "s"},
		Short:   "Catalog strategies",
		Long:    "List and evaluate the built-in strategy catalog.",
	}

	cmd.AddCommand(newStrategyListCmd(app))
	cmd.AddCommand(newStrategyShowCmd(app))

	rootCmd.AddCommand(cmd)
}

func newStrategyListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			templates := app.Catalog.List()
			if output.IsJSON() {
				return output.JSON(templates)
			}

			table := NewTable(output, "ID", "NAME", "SENTIMENT", "LEVEL", "LEGS", "MAX PROFIT", "MAX LOSS")
			for _, t := range templates {
				table.AddRow(t.ID, t.Name, sentiment(output, t.Sentiment), t.Proficiency,
					fmt.Sprintf("%d", len(t.Components)), t.MaxProfit, t.MaxLoss)
			}
			table.Render()
			return nil
		},
	}
}

func newStrategyShowCmd(app *App) *cobra.Command {
	var opts evalFlags
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Evaluate a catalog strategy",
		Long: `Evaluate a catalog strategy at the current spot of a token (or a fixed --spot)
and draw its payoff. The strategy's own band is used unless --band is given.`,
		Example: `  optviz strategy show covered-call --token ETH
  optviz strategy show long-iron-condor --spot 50000 --band wide --table 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := app.Catalog.Get(args[0])
			if err != nil {
				return err
			}
			token, spot, err := app.resolveSpot(cmd.Context(), opts.token, opts.spot)
			if err != nil {
				return err
			}
			if opts.band != "" {
				tmpl.Band = opts.band
			}
			result, err := app.Assembler.AssembleTemplate(tmpl, spot)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"token":    token,
					"strategy": tmpl,
					"result":   result,
				})
			}

			output.Bold("%s", tmpl.Name)
			if tmpl.Description != "" {
				output.Dim("%s", tmpl.Description)
			}
			output.Printf("  Sentiment:  %s   Max profit: %s   Max loss: %s\n",
				sentiment(output, tmpl.Sentiment), tmpl.MaxProfit, tmpl.MaxLoss)
			output.Println()
			if err := renderResult(output, app, token, tmpl.Components, result, opts); err != nil {
				return err
			}

			notation := make([]string, len(tmpl.Components))
			for i, leg := range tmpl.Components {
				notation[i] = "--leg " + FormatLegSpec(models.SpecFromLeg(leg))
			}
			output.Println()
			output.Dim("Customize: optviz payoff --from %s [--leg ...]", tmpl.ID)
			output.Dim("As legs:   %s", strings.Join(notation, " "))
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

func sentiment(output *Output, s string) string {
	switch strings.ToLower(s) {
	case "bullish":
		return output.Green(s)
	case "bearish":
		return output.Red(s)
	case "neutral":
		return output.Yellow(s)
	}
	return s
}
