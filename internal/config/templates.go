package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# optviz configuration

[grid]
# Price sweep as multiples of spot: from low_factor*spot to high_factor*spot
low_factor = 0.8
high_factor = 1.2
# Distance between prices as a multiple of spot
step_factor = 0.01
# Decimal places prices are rounded to (0 = whole numbers). Low-priced
# tokens get more places so every step stays distinct.
precision = 0
# Band used when a request names none: default, wide, coarse or one below
band = "default"

# Extra or overridden bands
# [bands.tight]
# low_factor = 0.9
# high_factor = 1.1
# step_factor = 0.005
# precision = 0

[pricefeed]
# Spot source: "coingecko" or "static"
provider = "coingecko"
base_url = "https://api.coingecko.com/api/v3"
# Demo API key (or set COINGECKO_API_KEY)
api_key = ""
timeout = "10s"
max_attempts = 3
# Requests per minute to the API (0 = unlimited)
rate_limit = 30
# Quotes younger than this are served from the local cache
cache_ttl = "1m"
# cache_path = "~/.config/optviz/optviz.db"
# How often live sessions receive fresh spot prices
poll_interval = "30s"

# Token symbol to CoinGecko id; replaces the built-in list when present
# [pricefeed.tokens]
# WBTC = "wrapped-bitcoin"
# ETH = "ethereum"

# Fixed prices for provider = "static"
# [pricefeed.static_prices]
# WBTC = 50000.0

[server]
addr = "127.0.0.1:8080"
read_timeout = "15s"
write_timeout = "15s"
# Token a new live session starts on
default_token = "WBTC"

[logging]
# debug, info, warn, error (or set OPTVIZ_LOG_LEVEL)
level = "info"
console = true
file = false
# file_path = "~/.config/optviz/logs/optviz.log"
max_size = 50
max_backups = 5
max_age = 14

[ui]
color_enabled = true
chart_width = 72
chart_height = 16
`

// Template returns the commented default configuration file.
func Template() string {
	return configTemplate
}

func createTemplateConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
