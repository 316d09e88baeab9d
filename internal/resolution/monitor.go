// Package resolution moves pending automated markets to a terminal state.
// Single-token markets are judged on their live metric at expiry. Battle
// markets are judged on which token's candle series crossed the shared
// target first.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/metrics"
)

// Config holds the monitor timing parameters.
type Config struct {
	// Tolerance is the live-check window around a single-token expiry.
	Tolerance time.Duration
	// Grace is how late the backstop may still evaluate a single-token
	// market. Later than that the market is refunded.
	Grace        time.Duration
	Workers      int
	LockTTL      time.Duration
	FetchTimeout time.Duration
	Coarse       domain.Granularity
	Fine         domain.Granularity
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Tolerance:    time.Minute,
		Grace:        5 * time.Minute,
		Workers:      8,
		LockTTL:      2 * time.Minute,
		FetchTimeout: 15 * time.Second,
		Coarse:       "15m",
		Fine:         "1m",
	}
}

// Sweep names which loop is evaluating.
type Sweep string

const (
	// SweepTick is the periodic monitor tick: battles plus the single-token
	// backstop.
	SweepTick Sweep = "tick"
	// SweepExpiry is the short-interval live check for single-token markets.
	SweepExpiry Sweep = "expiry"
)

// Monitor evaluates pending resolution tracking rows.
type Monitor struct {
	feed     domain.TokenFeed
	markets  domain.MarketStore
	tracking domain.TrackingStore
	locks    domain.LockManager
	settler  *Settler
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewMonitor creates a Monitor.
func NewMonitor(feed domain.TokenFeed, markets domain.MarketStore, tracking domain.TrackingStore, locks domain.LockManager, settler *Settler, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Monitor{
		feed:     feed,
		markets:  markets,
		tracking: tracking,
		locks:    locks,
		settler:  settler,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "resolution")),
		now:      time.Now,
	}
}

// RunLoop runs the tick sweep every tickInterval and the expiry sweep every
// expiryInterval until ctx is cancelled.
func (m *Monitor) RunLoop(ctx context.Context, tickInterval, expiryInterval time.Duration) error {
	m.sweepLogged(ctx, SweepTick)

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	expiry := time.NewTicker(expiryInterval)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("resolution loop stopped")
			return ctx.Err()
		case <-tick.C:
			m.sweepLogged(ctx, SweepTick)
		case <-expiry.C:
			m.sweepLogged(ctx, SweepExpiry)
		}
	}
}

func (m *Monitor) sweepLogged(ctx context.Context, sweep Sweep) {
	if err := m.Sweep(ctx, sweep); err != nil {
		m.logger.WarnContext(ctx, "sweep finished with errors",
			slog.String("sweep", string(sweep)),
			slog.String("error", err.Error()),
		)
	}
}

// Tick runs one full monitor sweep.
func (m *Monitor) Tick(ctx context.Context) error {
	return m.Sweep(ctx, SweepTick)
}

// Sweep evaluates every pending row concurrently. Errors from individual
// markets are joined and returned after all markets were tried.
func (m *Monitor) Sweep(ctx context.Context, sweep Sweep) error {
	start := time.Now()
	defer func() {
		metrics.MonitorTickDuration.WithLabelValues(string(sweep)).Observe(time.Since(start).Seconds())
	}()

	rows, err := m.tracking.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("resolution: list pending: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for _, row := range rows {
		if sweep == SweepExpiry && row.MarketType.IsBattle() {
			continue
		}
		g.Go(func() error {
			if err := m.evaluateLocked(ctx, row); err != nil {
				metrics.EvaluationErrors.WithLabelValues(string(row.MarketType)).Inc()
				m.logger.WarnContext(ctx, "market evaluation failed",
					slog.String("market_id", row.MarketID),
					slog.String("market_type", string(row.MarketType)),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// evaluateLocked serializes the read-check-act sequence of one market.
func (m *Monitor) evaluateLocked(ctx context.Context, row domain.ResolutionTracking) error {
	unlock, err := m.locks.Acquire(ctx, "resolve:"+row.MarketID, m.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		m.logger.DebugContext(ctx, "market being evaluated elsewhere", slog.String("market_id", row.MarketID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolution: lock %s: %w", row.MarketID, err)
	}
	defer unlock()

	// Re-read under the lock.
	id := row.MarketID
	row, err = m.tracking.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("resolution: get tracking %s: %w", id, err)
	}
	if row.Status != domain.TrackingPending {
		return nil
	}
	market, err := m.markets.GetByID(ctx, row.MarketID)
	if err != nil {
		return fmt.Errorf("resolution: get market %s: %w", row.MarketID, err)
	}
	if !market.IsActive() {
		return m.tracking.Close(ctx, row.MarketID, domain.TrackingResolved)
	}
	if market.ExpiresAt == nil {
		return fmt.Errorf("resolution: market %s has no expiry", market.ID)
	}

	now := m.now()
	if err := m.tracking.Touch(ctx, row.MarketID, now); err != nil {
		m.logger.WarnContext(ctx, "failed to touch tracking row",
			slog.String("market_id", row.MarketID),
			slog.String("error", err.Error()),
		)
	}

	if row.MarketType.IsBattle() {
		err = m.evaluateBattle(ctx, row, market, now)
	} else {
		err = m.evaluateSingle(ctx, row, market, now)
	}
	if errors.Is(err, domain.ErrStateConflict) {
		m.logger.InfoContext(ctx, "market already settled", slog.String("market_id", market.ID))
		return nil
	}
	return err
}

func (m *Monitor) evaluateSingle(ctx context.Context, row domain.ResolutionTracking, market domain.Market, now time.Time) error {
	expiry := *market.ExpiresAt
	switch {
	case now.Before(expiry.Add(-m.cfg.Tolerance)):
		return nil
	case now.After(expiry.Add(m.cfg.Grace)):
		m.logger.WarnContext(ctx, "single-token market missed its resolution window, refunding",
			slog.String("market_id", market.ID),
			slog.Duration("late", now.Sub(expiry)),
		)
		_, err := m.settler.Settle(ctx, market, row.MarketType, domain.OutcomeRefunded, domain.TrackingExpired)
		return err
	}

	fctx, cancel := m.fetchContext(ctx)
	defer cancel()
	snap, err := m.feed.Metrics(fctx, row.TokenAddress)
	if err != nil {
		return fmt.Errorf("resolution: metrics %s: %w", row.TokenAddress, err)
	}

	current := snap.Value(row.MarketType)
	outcome := domain.OutcomeNo
	if current >= row.TargetValue {
		outcome = domain.OutcomeYes
	}
	m.logger.InfoContext(ctx, "single-token market evaluated",
		slog.String("market_id", market.ID),
		slog.Float64("current", current),
		slog.Float64("target", row.TargetValue),
		slog.String("outcome", string(outcome)),
	)
	_, err = m.settler.Settle(ctx, market, row.MarketType, outcome, domain.TrackingResolved)
	return err
}

func (m *Monitor) evaluateBattle(ctx context.Context, row domain.ResolutionTracking, market domain.Market, now time.Time) error {
	deadline := *market.ExpiresAt
	from := market.CreatedAt
	to := now
	if deadline.Before(to) {
		to = deadline
	}

	hitA, hitB, err := m.firstHits(ctx, row, m.cfg.Coarse, from, to, deadline)
	if err != nil {
		return err
	}
	verdict := Compare(hitA, hitB)

	if verdict == Tied {
		// Re-fetch only the coarse candle both tokens hit in.
		fineFrom, fineTo := from, to
		if d := granularityDuration(m.cfg.Coarse); d > 0 {
			fineFrom, fineTo = hitA.At, hitA.At.Add(d)
			if fineTo.After(deadline) {
				fineTo = deadline
			}
		}
		hitA, hitB, err = m.firstHits(ctx, row, m.cfg.Fine, fineFrom, fineTo, deadline)
		if err != nil {
			return err
		}
		verdict = Compare(hitA, hitB)
		if verdict == Tied || verdict == NoHit {
			m.logger.InfoContext(ctx, "battle tie persisted at finest granularity, refunding",
				slog.String("market_id", market.ID),
				slog.String("reason", domain.ErrAmbiguousResolution.Error()),
			)
			_, err := m.settler.Settle(ctx, market, row.MarketType, domain.OutcomeRefunded, domain.TrackingResolved)
			return err
		}
	}

	switch verdict {
	case FirstWins, SecondWins:
		_, err := m.settler.Settle(ctx, market, row.MarketType, verdict.Outcome(), domain.TrackingResolved)
		return err
	default:
		if now.Before(deadline) {
			return nil
		}
		m.logger.InfoContext(ctx, "battle expired without a hit, refunding", slog.String("market_id", market.ID))
		_, err := m.settler.Settle(ctx, market, row.MarketType, domain.OutcomeRefunded, domain.TrackingExpired)
		return err
	}
}

func (m *Monitor) firstHits(ctx context.Context, row domain.ResolutionTracking, g domain.Granularity, from, to, deadline time.Time) (Hit, Hit, error) {
	fctx, cancel := m.fetchContext(ctx)
	defer cancel()

	var a, b []domain.Candle
	eg, ectx := errgroup.WithContext(fctx)
	eg.Go(func() (err error) {
		a, err = m.feed.Candles(ectx, row.TokenAddress, g, from, to)
		return err
	})
	eg.Go(func() (err error) {
		b, err = m.feed.Candles(ectx, row.TokenAddress2, g, from, to)
		return err
	})
	if err := eg.Wait(); err != nil {
		return Hit{}, Hit{}, fmt.Errorf("resolution: candles %s: %w", g, err)
	}
	return FirstHit(a, row.MarketType, row.TargetValue, deadline),
		FirstHit(b, row.MarketType, row.TargetValue, deadline), nil
}

func (m *Monitor) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.FetchTimeout)
}

// granularityDuration parses "15m"-style granularities. Unknown forms
// yield 0.
func granularityDuration(g domain.Granularity) time.Duration {
	d, err := time.ParseDuration(string(g))
	if err != nil {
		return 0
	}
	return d
}
