package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// MetricCache implements domain.MetricCache. Each snapshot is a JSON
// string under metrics:{address} expiring after its TTL.
type MetricCache struct {
	rdb *redis.Client
}

var _ domain.MetricCache = (*MetricCache)(nil)

// NewMetricCache creates a MetricCache.
func NewMetricCache(c *Client) *MetricCache {
	return &MetricCache{rdb: c.Underlying()}
}

func metricKey(address string) string { return "metrics:" + address }

type metricEntry struct {
	Address   string    `json:"address"`
	MarketCap float64   `json:"market_cap"`
	Volume24h float64   `json:"volume_24h"`
	Holders   int64     `json:"holders"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Set stores m for ttl.
func (mc *MetricCache) Set(ctx context.Context, m domain.TokenMetrics, ttl time.Duration) error {
	data, err := json.Marshal(metricEntry(m))
	if err != nil {
		return fmt.Errorf("redis: marshal metrics %s: %w", m.Address, err)
	}
	if err := mc.rdb.Set(ctx, metricKey(m.Address), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set metrics %s: %w", m.Address, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (mc *MetricCache) Get(ctx context.Context, address string) (domain.TokenMetrics, error) {
	data, err := mc.rdb.Get(ctx, metricKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TokenMetrics{}, domain.ErrNotFound
		}
		return domain.TokenMetrics{}, fmt.Errorf("redis: get metrics %s: %w", address, err)
	}

	var e metricEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.TokenMetrics{}, fmt.Errorf("redis: unmarshal metrics %s: %w", address, err)
	}
	return domain.TokenMetrics(e), nil
}
