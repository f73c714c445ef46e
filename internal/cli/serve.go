package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"optviz/internal/resilience"
	"optviz/internal/server"
	"optviz/internal/stream"
)

// addServeCommands adds the HTTP server command.
func addServeCommands(rootCmd *cobra.Command, app *App) {
	var (
		addr string
		poll time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API and live builder sessions",
		Long: `Serve the strategy catalog, evaluation and quote history API over HTTP, and
live builder sessions over WebSocket at /ws. Sessions receive fresh spot
prices every poll interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if poll <= 0 {
				poll = cfg.PriceFeed.PollInterval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			health := resilience.NewHealthMonitor(Version)
			ds, err := app.DataStore()
			if err != nil {
				app.Logger.Warn().Err(err).Msg("Serving without quote cache")
			} else {
				health.RegisterComponent("database", resilience.DatabaseHealthCheck(ds.Ping))
			}
			prices := app.PriceFeed()
			if app.breaker != nil {
				health.RegisterComponent("pricefeed", resilience.CircuitBreakerHealthCheck(app.breaker))
			}

			hub := stream.NewHub(app.Logger)
			hub.Start(ctx)
			defer hub.Stop()
			poller := stream.NewPoller(hub, prices, poll, app.Logger)
			go poller.Run(ctx)

			srv := server.New(server.Deps{
				Assembler: app.Assembler,
				Catalog:   app.Catalog,
				Prices:    prices,
				Store:     ds,
				Hub:       hub,
				Health:    health,
				Logger:    app.Logger,
			}, server.Options{
				Addr:         addr,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				DefaultBand:  cfg.Grid.Band,
				DefaultToken: cfg.Server.DefaultToken,
				Tokens:       cfg.Tokens(),
			})

			output := NewOutput(cmd)
			output.Info("Serving on http://%s (Ctrl-C to stop)", addr)
			if err := srv.Run(ctx); err != nil {
				return err
			}
			output.Dim("Stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().DurationVar(&poll, "poll", 0, "spot price poll interval (default: pricefeed.poll_interval)")
	rootCmd.AddCommand(cmd)
}
