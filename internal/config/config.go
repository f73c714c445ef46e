// Package config provides configuration management for the payoff visualizer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "optviz/internal/errors"
	"optviz/internal/logging"
	"optviz/internal/payoff"
	"optviz/internal/pricefeed"
	"optviz/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Grid      GridConfig            `mapstructure:"grid"`
	Bands     map[string]BandConfig `mapstructure:"bands"`
	PriceFeed PriceFeedConfig       `mapstructure:"pricefeed"`
	Server    ServerConfig          `mapstructure:"server"`
	Logging   LoggingConfig         `mapstructure:"logging"`
	UI        UIConfig              `mapstructure:"ui"`

	path string
}

// GridConfig holds the default price sweep.
type GridConfig struct {
	LowFactor  float64 `mapstructure:"low_factor"`
	HighFactor float64 `mapstructure:"high_factor"`
	StepFactor float64 `mapstructure:"step_factor"`
	Precision  int     `mapstructure:"precision"`
	Band       string  `mapstructure:"band"` // band used when a request names none
}

// BandConfig overrides or adds a named grid band.
type BandConfig struct {
	LowFactor  float64 `mapstructure:"low_factor"`
	HighFactor float64 `mapstructure:"high_factor"`
	StepFactor float64 `mapstructure:"step_factor"`
	Precision  int     `mapstructure:"precision"`
}

// PriceFeedConfig holds spot price source configuration.
type PriceFeedConfig struct {
	Provider     string             `mapstructure:"provider"` // coingecko, static
	BaseURL      string             `mapstructure:"base_url"`
	APIKey       string             `mapstructure:"api_key"`
	Timeout      time.Duration      `mapstructure:"timeout"`
	MaxAttempts  int                `mapstructure:"max_attempts"`
	RateLimit    float64            `mapstructure:"rate_limit"` // requests per minute, 0 = unlimited
	CacheTTL     time.Duration      `mapstructure:"cache_ttl"`
	CachePath    string             `mapstructure:"cache_path"`
	PollInterval time.Duration      `mapstructure:"poll_interval"`
	Tokens       map[string]string  `mapstructure:"tokens"`
	StaticPrices map[string]float64 `mapstructure:"static_prices"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultToken string        `mapstructure:"default_token"` // token a new live session starts on
}

// LoggingConfig mirrors logging.LogConfig.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// UIConfig holds terminal output configuration.
type UIConfig struct {
	ColorEnabled bool `mapstructure:"color_enabled"`
	ChartWidth   int  `mapstructure:"chart_width"`
	ChartHeight  int  `mapstructure:"chart_height"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "optviz")
	}
	return filepath.Join(home, ".config", "optviz")
}

// DefaultConfigPath returns the default config.toml location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.toml")
}

func setDefaults(v *viper.Viper) {
	grid := payoff.DefaultGridConfig()
	v.SetDefault("grid.low_factor", grid.LowFactor)
	v.SetDefault("grid.high_factor", grid.HighFactor)
	v.SetDefault("grid.step_factor", grid.StepFactor)
	v.SetDefault("grid.precision", grid.Precision)
	v.SetDefault("grid.band", payoff.BandDefault)

	v.SetDefault("pricefeed.provider", "coingecko")
	v.SetDefault("pricefeed.base_url", pricefeed.DefaultCoinGeckoURL)
	v.SetDefault("pricefeed.timeout", "10s")
	v.SetDefault("pricefeed.max_attempts", 3)
	v.SetDefault("pricefeed.rate_limit", 30)
	v.SetDefault("pricefeed.cache_ttl", "1m")
	v.SetDefault("pricefeed.cache_path", filepath.Join(DefaultConfigDir(), "optviz.db"))
	v.SetDefault("pricefeed.poll_interval", "30s")

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.default_token", "WBTC")

	logs := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logs.Level)
	v.SetDefault("logging.console", logs.Console)
	v.SetDefault("logging.file", logs.File)
	v.SetDefault("logging.file_path", logs.FilePath)
	v.SetDefault("logging.max_size", logs.MaxSize)
	v.SetDefault("logging.max_backups", logs.MaxBackups)
	v.SetDefault("logging.max_age", logs.MaxAge)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.chart_width", 72)
	v.SetDefault("ui.chart_height", 16)
}

// Default returns the configuration used when no file is present. It panics
// if the built-in defaults fail to decode.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	return cfg
}

// decode unmarshals v into a Config and normalises it.
func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	finish(cfg)
	return cfg, nil
}

// Load reads config.toml from path, or from DefaultConfigPath when path is
// empty. A missing file is replaced by the commented template and the
// defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createTemplateConfig(path); err != nil {
			return nil, fmt.Errorf("creating config template: %w", err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.path = path

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// finish normalises map keys, which viper lower-cases.
func finish(cfg *Config) {
	if len(cfg.PriceFeed.Tokens) == 0 {
		cfg.PriceFeed.Tokens = make(map[string]string, len(pricefeed.DefaultTokenIDs))
		for k, v := range pricefeed.DefaultTokenIDs {
			cfg.PriceFeed.Tokens[k] = v
		}
	} else {
		tokens := make(map[string]string, len(cfg.PriceFeed.Tokens))
		for k, v := range cfg.PriceFeed.Tokens {
			tokens[pricefeed.NormalizeToken(k)] = v
		}
		cfg.PriceFeed.Tokens = tokens
	}

	prices := make(map[string]float64, len(cfg.PriceFeed.StaticPrices))
	for k, v := range cfg.PriceFeed.StaticPrices {
		prices[pricefeed.NormalizeToken(k)] = v
	}
	cfg.PriceFeed.StaticPrices = prices
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.PriceFeed.APIKey = v
	}
	if v := os.Getenv("OPTVIZ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OPTVIZ_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.PayoffGrid().Validate(); err != nil {
		return fmt.Errorf("%w: [grid]: %w", apperrors.ErrConfigInvalid, err)
	}
	for name, b := range c.Bands {
		if err := b.payoff().Validate(); err != nil {
			return fmt.Errorf("%w: [bands.%s]: %w", apperrors.ErrConfigInvalid, name, err)
		}
	}
	if _, ok := c.PayoffBands()[c.Grid.Band]; c.Grid.Band != "" && !ok {
		return fmt.Errorf("%w: grid.band %q is not a known band", apperrors.ErrConfigInvalid, c.Grid.Band)
	}

	switch c.PriceFeed.Provider {
	case "coingecko":
		if c.PriceFeed.Timeout <= 0 {
			return fmt.Errorf("%w: pricefeed.timeout must be positive", apperrors.ErrConfigInvalid)
		}
		if c.PriceFeed.MaxAttempts < 1 {
			return fmt.Errorf("%w: pricefeed.max_attempts must be at least 1", apperrors.ErrConfigInvalid)
		}
	case "static":
		if len(c.PriceFeed.StaticPrices) == 0 {
			return fmt.Errorf("%w: pricefeed.static_prices is empty", apperrors.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: pricefeed.provider %q (must be 'coingecko' or 'static')", apperrors.ErrConfigInvalid, c.PriceFeed.Provider)
	}
	if c.PriceFeed.RateLimit < 0 {
		return fmt.Errorf("%w: pricefeed.rate_limit must not be negative", apperrors.ErrConfigInvalid)
	}
	if c.PriceFeed.CacheTTL < 0 {
		return fmt.Errorf("%w: pricefeed.cache_ttl must not be negative", apperrors.ErrConfigInvalid)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", apperrors.ErrConfigInvalid)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("%w: logging.level %q", apperrors.ErrConfigInvalid, c.Logging.Level)
	}
	return nil
}

// PayoffGrid returns the default grid band.
func (c *Config) PayoffGrid() payoff.GridConfig {
	return payoff.GridConfig{
		LowFactor:  c.Grid.LowFactor,
		HighFactor: c.Grid.HighFactor,
		StepFactor: c.Grid.StepFactor,
		Precision:  c.Grid.Precision,
	}
}

// PayoffBands returns the built-in bands with the configured overrides
// applied on top.
func (c *Config) PayoffBands() map[string]payoff.GridConfig {
	bands := payoff.Bands()
	bands[payoff.BandDefault] = c.PayoffGrid()
	for name, b := range c.Bands {
		bands[strings.ToLower(name)] = b.payoff()
	}
	return bands
}

func (b BandConfig) payoff() payoff.GridConfig {
	return payoff.GridConfig{
		LowFactor:  b.LowFactor,
		HighFactor: b.HighFactor,
		StepFactor: b.StepFactor,
		Precision:  b.Precision,
	}
}

// LogConfig converts the logging section.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}

// CoinGeckoConfig converts the pricefeed section for the CoinGecko client.
func (c *Config) CoinGeckoConfig() pricefeed.CoinGeckoConfig {
	cg := pricefeed.DefaultCoinGeckoConfig()
	cg.BaseURL = c.PriceFeed.BaseURL
	cg.APIKey = c.PriceFeed.APIKey
	cg.Timeout = c.PriceFeed.Timeout
	cg.TokenIDs = c.PriceFeed.Tokens
	cg.Retry = utils.DefaultRetryConfig()
	cg.Retry.MaxAttempts = c.PriceFeed.MaxAttempts
	cg.RateLimit = c.PriceFeed.RateLimit
	return cg
}

// Tokens returns the configured token symbols, sorted.
func (c *Config) Tokens() []string {
	if c.PriceFeed.Provider == "static" {
		ids := make(map[string]string, len(c.PriceFeed.StaticPrices))
		for k := range c.PriceFeed.StaticPrices {
			ids[k] = k
		}
		return pricefeed.Tokens(ids)
	}
	return pricefeed.Tokens(c.PriceFeed.Tokens)
}
