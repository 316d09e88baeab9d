package feed

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// flexFloat unmarshals from a JSON number or a numeric string. Some feed
// deployments send large market caps as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// --------------------------------------------------------------------------
// Feed API DTOs
// --------------------------------------------------------------------------

// APIToken is a candidate token as returned by /tokens/candidates.
type APIToken struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	ImageURL  string    `json:"image_url"`
	MarketCap flexFloat `json:"market_cap"`
	Volume24h flexFloat `json:"volume_24h"`
	Holders   int64     `json:"holders"`
	CreatedAt string    `json:"created_at,omitempty"`
}

// ToDomain converts the DTO. An unparseable or missing creation time
// leaves the age unknown.
func (t APIToken) ToDomain() domain.TokenCandidate {
	return domain.TokenCandidate{
		Address:   t.Address,
		Name:      t.Name,
		Symbol:    t.Symbol,
		ImageURL:  t.ImageURL,
		MarketCap: float64(t.MarketCap),
		Volume24h: float64(t.Volume24h),
		Holders:   t.Holders,
		CreatedAt: parseTime(t.CreatedAt),
	}
}

// APIMetrics is the live snapshot returned by /tokens/{addr}/metrics.
type APIMetrics struct {
	Address   string    `json:"address"`
	MarketCap flexFloat `json:"market_cap"`
	Volume24h flexFloat `json:"volume_24h"`
	Holders   int64     `json:"holders"`
}

func (m APIMetrics) ToDomain(fetchedAt time.Time) domain.TokenMetrics {
	return domain.TokenMetrics{
		Address:   m.Address,
		MarketCap: float64(m.MarketCap),
		Volume24h: float64(m.Volume24h),
		Holders:   m.Holders,
		FetchedAt: fetchedAt,
	}
}

// APICandle is one bar of /tokens/{addr}/candles. Time is unix seconds.
type APICandle struct {
	Time  int64     `json:"time"`
	Open  flexFloat `json:"open"`
	High  flexFloat `json:"high"`
	Low   flexFloat `json:"low"`
	Close flexFloat `json:"close"`
}

func (c APICandle) ToDomain() domain.Candle {
	return domain.Candle{
		Time:  time.Unix(c.Time, 0).UTC(),
		Open:  float64(c.Open),
		High:  float64(c.High),
		Low:   float64(c.Low),
		Close: float64(c.Close),
	}
}

type candidatesResponse struct {
	Tokens []APIToken `json:"tokens"`
}

type candlesResponse struct {
	Candles []APICandle `json:"candles"`
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC()
	}
	return time.Time{}
}
