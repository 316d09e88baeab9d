package domain

import "time"

// TokenCandidate is a token offered by the feed as a possible market subject.
type TokenCandidate struct {
	Address   string
	Name      string
	Symbol    string
	ImageURL  string
	MarketCap float64
	Volume24h float64
	Holders   int64
	CreatedAt time.Time // zero when the feed does not report it
}

// HasMetadata reports whether the candidate carries the fields a market
// question needs.
func (c TokenCandidate) HasMetadata() bool {
	return c.Address != "" && (c.Name != "" || c.Symbol != "")
}

// Label returns the display label used in question text.
func (c TokenCandidate) Label() string {
	if c.Symbol != "" {
		return "$" + c.Symbol
	}
	return c.Name
}

// AgeHours returns the token age in hours at now, or 0 when unknown.
func (c TokenCandidate) AgeHours(now time.Time) float64 {
	if c.CreatedAt.IsZero() || c.CreatedAt.After(now) {
		return 0
	}
	return now.Sub(c.CreatedAt).Hours()
}

// TokenMetrics is a live snapshot of a single token.
type TokenMetrics struct {
	Address   string
	MarketCap float64
	Volume24h float64
	Holders   int64
	FetchedAt time.Time
}

// Value returns the metric a single-token market of type t resolves on.
func (m TokenMetrics) Value(t MarketType) float64 {
	switch t {
	case MarketTypeVolume:
		return m.Volume24h
	case MarketTypeHolders:
		return float64(m.Holders)
	default:
		return m.MarketCap
	}
}

// Granularity is a candle interval understood by the feed, e.g. "15m".
type Granularity string

// Candle is one OHLC bar expressed in market-cap units.
type Candle struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}
