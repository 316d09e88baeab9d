// Package config defines the top-level configuration for the market engine
// and provides validation helpers.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MKTENGINE_* environment variables.
type Config struct {
	Storage    string           `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Feed       FeedConfig       `toml:"feed"`
	Chain      ChainConfig      `toml:"chain"`
	Automation AutomationConfig `toml:"automation"`
	Resolution ResolutionConfig `toml:"resolution"`
	Payout     PayoutConfig     `toml:"payout"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks,
// the rate limiter and the lifecycle bus run in-process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	StreamMax  int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for battle images.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PublicBaseURL  string `toml:"public_base_url"`
	ImagePrefix    string `toml:"image_prefix"`
}

// FeedConfig holds the token data source settings.
type FeedConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
	RatePerSec float64  `toml:"rate_per_sec"`
	Burst      int      `toml:"burst"`
	MetricsTTL duration `toml:"metrics_ttl"`
}

// ChainConfig holds treasury signer and RPC settings. Amounts are decimal
// strings in the native token.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int64    `toml:"chain_id"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	BaseReserve      string   `toml:"base_reserve"`
	MinTransfer      string   `toml:"min_transfer"`
	QueueSize        int      `toml:"queue_size"`
	ReceiptTimeout   duration `toml:"receipt_timeout"`
	ReceiptPoll      duration `toml:"receipt_poll"`
}

// AutomationConfig holds the rotation scheduler settings.
type AutomationConfig struct {
	Interval       duration            `toml:"interval"`
	MaxAttempts    int                 `toml:"max_attempts"`
	MatchTolerance float64             `toml:"match_tolerance"`
	Epoch          duration            `toml:"epoch"`
	RunTimeout     duration            `toml:"run_timeout"`
	FetchTimeout   duration            `toml:"fetch_timeout"`
	Category       string              `toml:"category"`
	Windows        map[string]duration `toml:"windows"`
	Ladders        LadderConfig        `toml:"ladders"`
}

// LadderConfig holds the milestone ladders used to round targets.
type LadderConfig struct {
	MarketCap []float64 `toml:"market_cap"`
	Volume    []float64 `toml:"volume"`
	Holders   []float64 `toml:"holders"`
}

// ResolutionConfig holds the resolution monitor settings.
type ResolutionConfig struct {
	TickInterval   duration `toml:"tick_interval"`
	ExpiryInterval duration `toml:"expiry_interval"`
	Tolerance      duration `toml:"tolerance"`
	Grace          duration `toml:"grace"`
	Workers        int      `toml:"workers"`
	LockTTL        duration `toml:"lock_ttl"`
	FetchTimeout   duration `toml:"fetch_timeout"`
	Coarse         string   `toml:"coarse_granularity"`
	Fine           string   `toml:"fine_granularity"`
}

// PayoutConfig holds payout distribution settings.
type PayoutConfig struct {
	Mode            string   `toml:"mode"`
	Workers         int      `toml:"workers"`
	TransferTimeout duration `toml:"transfer_timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards mutating endpoints. Empty disables the check.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sensible default values. Fields
// that require operator input (keys, hosts) are left empty.
func Defaults() Config {
	return Config{
		Storage: "postgres",
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "require",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			StreamMax:  10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
			ImagePrefix:    "battles",
		},
		Feed: FeedConfig{
			Timeout:    duration{15 * time.Second},
			RatePerSec: 10,
			Burst:      5,
			MetricsTTL: duration{20 * time.Second},
		},
		Chain: ChainConfig{
			ChainID:        1,
			BaseReserve:    "0.01",
			MinTransfer:    "0.0001",
			QueueSize:      256,
			ReceiptTimeout: duration{2 * time.Minute},
			ReceiptPoll:    duration{2 * time.Second},
		},
		Automation: AutomationConfig{
			Interval:       duration{6 * time.Hour},
			MaxAttempts:    20,
			MatchTolerance: 0.30,
			Epoch:          duration{6 * time.Hour},
			RunTimeout:     duration{5 * time.Minute},
			FetchTimeout:   duration{15 * time.Second},
			Category:       "crypto",
			Windows: map[string]duration{
				string(domain.MarketTypeMarketCap):  {120 * time.Minute},
				string(domain.MarketTypeVolume):     {24 * time.Hour},
				string(domain.MarketTypeHolders):    {24 * time.Hour},
				string(domain.MarketTypeBattleRace): {72 * time.Hour},
				string(domain.MarketTypeBattleDump): {72 * time.Hour},
			},
		},
		Resolution: ResolutionConfig{
			TickInterval:   duration{30 * time.Minute},
			ExpiryInterval: duration{time.Minute},
			Tolerance:      duration{time.Minute},
			Grace:          duration{5 * time.Minute},
			Workers:        8,
			LockTTL:        duration{2 * time.Minute},
			FetchTimeout:   duration{15 * time.Second},
			Coarse:         "15m",
			Fine:           "1m",
		},
		Payout: PayoutConfig{
			Mode:            string(domain.PayoutModeLedger),
			Workers:         4,
			TransferTimeout: duration{3 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved", "payout_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":     true,
	"creator":  true,
	"resolver": true,
	"server":   true,
	"once":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, creator, resolver, server, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Feed
	if c.Mode != "server" && c.Feed.BaseURL == "" {
		errs = append(errs, "feed: base_url must not be empty")
	}
	if c.Feed.RatePerSec <= 0 {
		errs = append(errs, "feed: rate_per_sec must be > 0")
	}

	errs = append(errs, c.Automation.validate()...)
	errs = append(errs, c.Resolution.validate()...)

	// Payout
	switch domain.PayoutMode(c.Payout.Mode) {
	case domain.PayoutModeLedger:
	case domain.PayoutModeOnChain:
		errs = append(errs, c.Chain.validate()...)
	default:
		errs = append(errs, fmt.Sprintf("payout: unknown mode %q (valid: ledger, onchain)", c.Payout.Mode))
	}
	if c.Payout.Workers < 1 {
		errs = append(errs, "payout: workers must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (a AutomationConfig) validate() []string {
	var errs []string
	if a.Interval.Duration <= 0 {
		errs = append(errs, "automation: interval must be > 0")
	}
	if a.Epoch.Duration <= 0 {
		errs = append(errs, "automation: epoch must be > 0")
	}
	if a.MaxAttempts < 1 {
		errs = append(errs, "automation: max_attempts must be >= 1")
	}
	if a.MatchTolerance < 0 || a.MatchTolerance >= 1 {
		errs = append(errs, "automation: match_tolerance must be in [0, 1)")
	}
	for _, t := range domain.MarketTypeCycle {
		w, ok := a.Windows[string(t)]
		if !ok || w.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("automation: windows.%s must be > 0", t))
		}
	}
	for name := range a.Windows {
		if !domain.MarketType(name).Valid() {
			errs = append(errs, fmt.Sprintf("automation: unknown window %q", name))
		}
	}
	for name, ladder := range map[string][]float64{
		"market_cap": a.Ladders.MarketCap,
		"volume":     a.Ladders.Volume,
		"holders":    a.Ladders.Holders,
	} {
		if len(ladder) == 0 {
			continue
		}
		if slices.ContainsFunc(ladder, func(v float64) bool { return v <= 0 }) {
			errs = append(errs, fmt.Sprintf("automation: ladders.%s must contain only positive values", name))
		}
	}
	return errs
}

func (r ResolutionConfig) validate() []string {
	var errs []string
	if r.TickInterval.Duration <= 0 {
		errs = append(errs, "resolution: tick_interval must be > 0")
	}
	if r.ExpiryInterval.Duration <= 0 {
		errs = append(errs, "resolution: expiry_interval must be > 0")
	}
	if r.Workers < 1 {
		errs = append(errs, "resolution: workers must be >= 1")
	}
	if r.Coarse == "" || r.Fine == "" {
		errs = append(errs, "resolution: coarse_granularity and fine_granularity must be set")
	}
	coarse, cerr := time.ParseDuration(r.Coarse)
	fine, ferr := time.ParseDuration(r.Fine)
	if cerr == nil && ferr == nil && fine >= coarse {
		errs = append(errs, "resolution: fine_granularity must be shorter than coarse_granularity")
	}
	return errs
}

func (c ChainConfig) validate() []string {
	var errs []string
	if c.RPCURL == "" {
		errs = append(errs, "chain: rpc_url is required for onchain payouts")
	}
	if c.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.PrivateKey == "" && c.EncryptedKeyPath == "" {
		errs = append(errs, "chain: either private_key or encrypted_key_path must be set for onchain payouts")
	}
	if c.EncryptedKeyPath != "" && c.KeyPassword == "" {
		errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
	}
	if _, err := decimal.NewFromString(c.BaseReserve); err != nil {
		errs = append(errs, fmt.Sprintf("chain: base_reserve %q is not a decimal", c.BaseReserve))
	}
	if _, err := decimal.NewFromString(c.MinTransfer); err != nil {
		errs = append(errs, fmt.Sprintf("chain: min_transfer %q is not a decimal", c.MinTransfer))
	}
	return errs
}

// WindowDurations returns the configured per-type market windows.
func (a AutomationConfig) WindowDurations() map[domain.MarketType]time.Duration {
	out := make(map[domain.MarketType]time.Duration, len(a.Windows))
	for name, d := range a.Windows {
		out[domain.MarketType(name)] = d.Duration
	}
	return out
}
