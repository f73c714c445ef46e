// Package pricefeed supplies USD spot prices for tokens.
package pricefeed

import (
	"context"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"optviz/internal/models"
)

// Provider returns spot quotes for token symbols.
type Provider interface {
	// Name identifies the provider in quotes and logs.
	Name() string
	// Quote returns the current quote for token.
	Quote(ctx context.Context, token string) (models.SpotQuote, error)
	// SpotPrice returns only the price of the current quote.
	SpotPrice(ctx context.Context, token string) (float64, error)
}

// DefaultTokenIDs maps ticker symbols to CoinGecko coin ids.
var DefaultTokenIDs = map[string]string{
	"WBTC":  "wrapped-bitcoin",
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"MATIC": "matic-network",
	"DOT":   "polkadot",
	"SOL":   "solana",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"LTC":   "litecoin",
	"XRP":   "ripple",
	"LINK":  "chainlink",
	"XLM":   "stellar",
	"UNI":   "uniswap",
	"BCH":   "bitcoin-cash",
	"XMR":   "monero",
	"TRX":   "tron",
	"ATOM":  "cosmos",
	"ALGO":  "algorand",
	"VET":   "vechain",
	"FIL":   "filecoin",
	"AAVE":  "aave",
}

// NormalizeToken upper-cases and trims a token symbol.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// Tokens returns the symbols of ids, sorted.
func Tokens(ids map[string]string) []string {
	out := make([]string, 0, len(ids))
	for token := range ids {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// QuoteResult is the outcome of fetching one token in FetchAll.
type QuoteResult struct {
	Token string
	Quote models.SpotQuote
	Err   error
}

// FetchAll fetches quotes for every token concurrently, at most
// maxConcurrent at a time. Results are sorted by token and carry their own
// error, so one failing token never hides the others.
func FetchAll(ctx context.Context, p Provider, tokens []string, maxConcurrent int) []QuoteResult {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}

	rp := pool.NewWithResults[QuoteResult]().WithMaxGoroutines(maxConcurrent)
	for _, token := range tokens {
		token := NormalizeToken(token)
		rp.Go(func() QuoteResult {
			q, err := p.Quote(ctx, token)
			return QuoteResult{Token: token, Quote: q, Err: err}
		})
	}

	results := rp.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Token < results[j].Token })
	return results
}
