// Package feed is the HTTP client for the token/price data source.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/metrics"
)

// Config holds the feed client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSec and Burst throttle outgoing requests.
	RatePerSec float64
	Burst      int
	// MetricsTTL is how long a metrics snapshot is served from cache.
	// Zero disables caching.
	MetricsTTL time.Duration
}

// Client is the REST client for the token feed.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      domain.MetricCache
	cacheTTL   time.Duration
	logger     *slog.Logger
}

var _ domain.TokenFeed = (*Client)(nil)

// NewClient creates a feed client. cache may be nil.
func NewClient(cfg Config, cache domain.MetricCache, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		cache:      cache,
		cacheTTL:   cfg.MetricsTTL,
		logger:     logger.With(slog.String("component", "feed")),
	}
}

// Candidates returns the tokens currently offered as market subjects, in
// feed order.
func (c *Client) Candidates(ctx context.Context) ([]domain.TokenCandidate, error) {
	body, err := c.doGet(ctx, "candidates", "/tokens/candidates")
	if err != nil {
		return nil, fmt.Errorf("feed: get candidates: %w", err)
	}

	var resp candidatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("feed: decode candidates: %w: %w", domain.ErrFetch, err)
	}

	out := make([]domain.TokenCandidate, 0, len(resp.Tokens))
	for i := range resp.Tokens {
		out = append(out, resp.Tokens[i].ToDomain())
	}
	return out, nil
}

// Metrics returns a live snapshot of one token.
func (c *Client) Metrics(ctx context.Context, address string) (domain.TokenMetrics, error) {
	if c.cache != nil && c.cacheTTL > 0 {
		if m, err := c.cache.Get(ctx, address); err == nil {
			return m, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "metric cache read failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
		}
	}

	path := fmt.Sprintf("/tokens/%s/metrics", url.PathEscape(address))
	body, err := c.doGet(ctx, "metrics", path)
	if err != nil {
		return domain.TokenMetrics{}, fmt.Errorf("feed: get metrics %s: %w", address, err)
	}

	var resp APIMetrics
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.TokenMetrics{}, fmt.Errorf("feed: decode metrics: %w: %w", domain.ErrFetch, err)
	}
	if resp.Address == "" {
		resp.Address = address
	}
	m := resp.ToDomain(time.Now().UTC())

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, m, c.cacheTTL); err != nil {
			c.logger.WarnContext(ctx, "metric cache write failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// Candles returns market-cap OHLC bars for [from, to] at granularity g,
// sorted by time.
func (c *Client) Candles(ctx context.Context, address string, g domain.Granularity, from, to time.Time) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("granularity", string(g))
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	params.Set("to", strconv.FormatInt(to.Unix(), 10))

	path := fmt.Sprintf("/tokens/%s/candles?%s", url.PathEscape(address), params.Encode())
	body, err := c.doGet(ctx, "candles", path)
	if err != nil {
		return nil, fmt.Errorf("feed: get candles %s: %w", address, err)
	}

	var resp candlesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("feed: decode candles: %w: %w", domain.ErrFetch, err)
	}

	out := make([]domain.Candle, 0, len(resp.Candles))
	for _, ac := range resp.Candles {
		out = append(out, ac.ToDomain())
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends a throttled GET request. endpoint labels the request metrics.
func (c *Client) doGet(ctx context.Context, endpoint, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", domain.ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.FeedRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FeedRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrFetch, err)
	}
	defer resp.Body.Close()
	metrics.FeedRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrFetch, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. Every
// failure is an ErrFetch so callers can treat it as transient.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s", domain.ErrFetch, domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrFetch, domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrFetch, statusCode, bodyStr)
	}
}
