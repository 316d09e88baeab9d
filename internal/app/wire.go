package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	memblob "github.com/alanyoungcy/marketengine/internal/blob/memory"
	s3blob "github.com/alanyoungcy/marketengine/internal/blob/s3"
	memcache "github.com/alanyoungcy/marketengine/internal/cache/memory"
	"github.com/alanyoungcy/marketengine/internal/cache/redis"
	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/config"
	"github.com/alanyoungcy/marketengine/internal/crypto"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/feed"
	"github.com/alanyoungcy/marketengine/internal/notify"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	memstore "github.com/alanyoungcy/marketengine/internal/store/memory"
	"github.com/alanyoungcy/marketengine/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Markets      domain.MarketStore
	Bets         domain.BetStore
	Tracking     domain.TrackingStore
	State        domain.EngineStateStore
	Reservations domain.ReservationStore
	Logs         domain.AutomationLogStore
	Payouts      domain.PayoutStore
	Balances     domain.BalanceStore

	// Caches and coordination
	Locks       domain.LockManager
	Bus         domain.SignalBus
	MetricCache domain.MetricCache
	RateLimiter domain.RateLimiter

	// Blob storage
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	BlobDeleter domain.BlobDeleter

	// External systems. Treasury is nil unless payouts are on-chain.
	Feed     domain.TokenFeed
	Treasury domain.Treasury

	Notifier *notify.Notifier

	// HealthChecks probe the wired backends for GET /api/health.
	HealthChecks map[string]handler.HealthCheck
}

// needsTreasury returns true for modes that settle markets.
func needsTreasury(mode string) bool {
	switch mode {
	case "full", "resolver", "once":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Stores ---
	switch cfg.Storage {
	case "memory":
		logger.WarnContext(ctx, "using in-memory storage; state is lost on restart")
		store := memstore.New()
		deps.Markets = store
		deps.Bets = store
		deps.Tracking = store
		deps.State = store
		deps.Reservations = store
		deps.Logs = store
		deps.Payouts = store.Payouts()
		deps.Balances = store
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		state := postgres.NewEngineStateStore(pool)
		deps.Markets = postgres.NewMarketStore(pool)
		deps.Bets = postgres.NewBetStore(pool)
		deps.Tracking = postgres.NewTrackingStore(pool)
		deps.State = state
		deps.Reservations = state
		deps.Logs = postgres.NewAutomationLogStore(pool)
		deps.Payouts = postgres.NewPayoutStore(pool)
		deps.Balances = postgres.NewBalanceStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.StreamMax)
		deps.MetricCache = redis.NewMetricCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "redis disabled; locks only hold within this process")
		deps.Locks = memcache.NewLockManager()
		deps.Bus = memcache.NewSignalBus(int(cfg.Redis.StreamMax))
		deps.MetricCache = memcache.NewMetricCache()
		deps.RateLimiter = memcache.NewRateLimiter()
	}

	// --- Blob storage for battle images ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			PublicBaseURL:  cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = reader
		deps.BlobDeleter = reader
		deps.HealthChecks["s3"] = s3Client.Health
	} else {
		blobs := memblob.New("")
		deps.BlobWriter = blobs
		deps.BlobReader = blobs
		deps.BlobDeleter = blobs
	}

	// --- Token feed ---
	deps.Feed = feed.NewClient(feed.Config{
		BaseURL:    cfg.Feed.BaseURL,
		APIKey:     cfg.Feed.APIKey,
		Timeout:    cfg.Feed.Timeout.Duration,
		RatePerSec: cfg.Feed.RatePerSec,
		Burst:      cfg.Feed.Burst,
		MetricsTTL: cfg.Feed.MetricsTTL.Duration,
	}, deps.MetricCache, logger)

	// --- Treasury (on-chain payouts only) ---
	if domain.PayoutMode(cfg.Payout.Mode) == domain.PayoutModeOnChain && needsTreasury(cfg.Mode) {
		treasury, err := dialTreasury(ctx, cfg.Chain, deps.Locks, logger)
		if err != nil {
			return fail("treasury", err)
		}
		closers = append(closers, treasury.Close)
		deps.Treasury = treasury
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func dialTreasury(ctx context.Context, cfg config.ChainConfig, locks domain.LockManager, logger *slog.Logger) (*chain.Treasury, error) {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.PrivateKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
	if err != nil {
		if errors.Is(err, crypto.ErrNoKey) {
			return nil, fmt.Errorf("on-chain payouts need a signer key: %w", err)
		}
		return nil, err
	}

	reserve, err := decimal.NewFromString(cfg.BaseReserve)
	if err != nil {
		return nil, fmt.Errorf("base_reserve: %w", err)
	}
	minTransfer, err := decimal.NewFromString(cfg.MinTransfer)
	if err != nil {
		return nil, fmt.Errorf("min_transfer: %w", err)
	}

	return chain.Dial(ctx, cfg.RPCURL, keyHex, chain.Config{
		ChainID:        cfg.ChainID,
		BaseReserve:    reserve,
		MinTransfer:    minTransfer,
		QueueSize:      cfg.QueueSize,
		ReceiptTimeout: cfg.ReceiptTimeout.Duration,
		ReceiptPoll:    cfg.ReceiptPoll.Duration,
	}, locks, logger)
}
