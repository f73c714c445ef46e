package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"optviz/internal/config"
	"optviz/internal/logging"
	"optviz/internal/pricefeed"
	"optviz/internal/resilience"
	"optviz/internal/security"
	"optviz/internal/store"
	"optviz/internal/strategy"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-16"
)

// App holds the application dependencies. Fields left nil are built from the
// configuration on first use.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Store     store.DataStore
	Prices    pricefeed.Provider
	Assembler *strategy.Assembler
	Catalog   *strategy.Catalog

	ownsStore bool
	storeErr  error
	breaker   *resilience.CircuitBreaker
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "optviz",
		Short: "Options and perpetuals payoff visualizer",
		Long: `optviz computes profit-and-loss curves for option and perpetual futures strategies
across a sweep of underlying prices, with breakevens and strike markers.

Evaluate catalog strategies or your own legs from the terminal, or run
'optviz serve' for the JSON API and live builder sessions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/optviz/config.toml)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("catalog", "", "strategy catalog YAML file (default: built-in catalog)")

	addCoreCommands(rootCmd, app)
	addStrategyCommands(rootCmd, app)
	addPayoffCommands(rootCmd, app)
	addPriceCommands(rootCmd, app)
	addServeCommands(rootCmd, app)

	return rootCmd
}

// init loads what the caller did not provide.
func (app *App) init(cmd *cobra.Command) error {
	if app.Config == nil {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		app.Config = cfg
		app.Logger = logging.NewLoggerWithConfig(cfg.LogConfig())
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		app.Logger = app.Logger.Level(zerolog.DebugLevel)
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor || !app.Config.UI.ColorEnabled {
		color.NoColor = true
	}

	if path, _ := cmd.Flags().GetString("catalog"); path != "" {
		catalog, err := loadCatalogFile(path)
		if err != nil {
			return err
		}
		app.Catalog = catalog
		app.Logger.Debug().Str("path", path).Int("strategies", catalog.Len()).Msg("Loaded strategy catalog")
	}
	if app.Catalog == nil {
		catalog, err := strategy.DefaultCatalog()
		if err != nil {
			return fmt.Errorf("loading strategy catalog: %w", err)
		}
		app.Catalog = catalog
	}
	if app.Assembler == nil {
		app.Assembler = strategy.NewAssembler(app.Config.PayoffGrid(), app.Config.PayoffBands(), app.Logger)
	}
	return nil
}

func loadCatalogFile(path string) (*strategy.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening strategy catalog: %w", err)
	}
	defer f.Close()

	catalog, err := strategy.LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return catalog, nil
}

// DataStore opens the SQLite store on first use. A store that fails to open
// is reported once and the error is returned to every caller.
func (app *App) DataStore() (store.DataStore, error) {
	if app.Store != nil || app.storeErr != nil {
		return app.Store, app.storeErr
	}
	ds, err := store.NewSQLiteStore(app.Config.PriceFeed.CachePath)
	if err != nil {
		app.Logger.Warn().Err(err).Str("path", app.Config.PriceFeed.CachePath).
			Msg("Failed to initialize store, quote caching unavailable")
		app.storeErr = fmt.Errorf("opening store: %w", err)
		return nil, app.storeErr
	}
	app.Logger.Debug().Str("path", app.Config.PriceFeed.CachePath).Msg("SQLite store initialized")
	app.Store = ds
	app.ownsStore = true
	return ds, nil
}

// PriceFeed builds the configured spot source, behind the quote cache when
// the store is available.
func (app *App) PriceFeed() pricefeed.Provider {
	if app.Prices != nil {
		return app.Prices
	}

	var p pricefeed.Provider
	switch app.Config.PriceFeed.Provider {
	case "static":
		p = pricefeed.NewStatic(app.Config.PriceFeed.StaticPrices)
	default:
		cg := pricefeed.NewCoinGecko(app.Config.CoinGeckoConfig(), app.Logger)
		app.breaker = cg.Breaker()
		p = cg
	}
	if ds, err := app.DataStore(); err == nil && app.Config.PriceFeed.CacheTTL > 0 {
		p = pricefeed.NewCached(p, ds, app.Config.PriceFeed.CacheTTL, app.Logger)
	}
	app.Logger.Debug().Str("provider", p.Name()).Msg("Price feed initialized")
	app.Prices = p
	return p
}

// Close releases the store if the app opened it.
func (app *App) Close() error {
	if app.ownsStore && app.Store != nil {
		err := app.Store.Close()
		app.Store = nil
		app.ownsStore = false
		return err
	}
	return nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("optviz v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				redacted := *app.Config
				redacted.PriceFeed.APIKey = security.MaskCredential(redacted.PriceFeed.APIKey)
				return output.JSON(redacted)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := app.Config.Path()
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Price Grid")
	output.Printf("  Range:           %.2f to %.2f x spot\n", cfg.Grid.LowFactor, cfg.Grid.HighFactor)
	output.Printf("  Step:            %.4f x spot\n", cfg.Grid.StepFactor)
	output.Printf("  Precision:       %d\n", cfg.Grid.Precision)
	output.Printf("  Default band:    %s\n", cfg.Grid.Band)
	output.Println()

	output.Bold("Price Feed")
	output.Printf("  Provider:        %s\n", cfg.PriceFeed.Provider)
	output.Printf("  Base URL:        %s\n", cfg.PriceFeed.BaseURL)
	output.Printf("  API key:         %s\n", security.MaskCredential(cfg.PriceFeed.APIKey))
	output.Printf("  Cache TTL:       %s\n", cfg.PriceFeed.CacheTTL)
	output.Printf("  Cache path:      %s\n", cfg.PriceFeed.CachePath)
	output.Printf("  Poll interval:   %s\n", cfg.PriceFeed.PollInterval)
	output.Printf("  Tokens:          %d\n", len(cfg.Tokens()))
	output.Println()

	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr)
	output.Printf("  Default token:   %s\n", cfg.Server.DefaultToken)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Logging.Level)
	output.Printf("  File:            %v\n", cfg.Logging.File)
}
