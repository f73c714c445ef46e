package models

import "time"

// SpotQuote is one observed USD price of a token.
type SpotQuote struct {
	Token     string    `json:"token" csv:"token"`
	Price     float64   `json:"price" csv:"price"`
	Source    string    `json:"source" csv:"source"`
	FetchedAt time.Time `json:"fetchedAt" csv:"fetched_at"`
}

// Age returns how long ago the quote was fetched.
func (q SpotQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.FetchedAt)
}
