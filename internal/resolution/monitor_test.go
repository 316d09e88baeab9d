package resolution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/marketengine/internal/cache/memory"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/fairness"
	"github.com/alanyoungcy/marketengine/internal/payout"
	memstore "github.com/alanyoungcy/marketengine/internal/store/memory"
)

var base = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

type candleKey struct {
	addr string
	g    domain.Granularity
}

type fakeFeed struct {
	mu         sync.Mutex
	candles    map[candleKey][]domain.Candle
	metrics    map[string]domain.TokenMetrics
	err        map[string]error
	candleHits int
}

func newFeed() *fakeFeed {
	return &fakeFeed{
		candles: make(map[candleKey][]domain.Candle),
		metrics: make(map[string]domain.TokenMetrics),
		err:     make(map[string]error),
	}
}

func (f *fakeFeed) Candidates(context.Context) ([]domain.TokenCandidate, error) { return nil, nil }

func (f *fakeFeed) Metrics(_ context.Context, addr string) (domain.TokenMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err[addr]; err != nil {
		return domain.TokenMetrics{}, err
	}
	return f.metrics[addr], nil
}

func (f *fakeFeed) Candles(_ context.Context, addr string, g domain.Granularity, _, _ time.Time) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleHits++
	if err := f.err[addr]; err != nil {
		return nil, err
	}
	return f.candles[candleKey{addr, g}], nil
}

func highAt(sec int, high float64) domain.Candle {
	return domain.Candle{Time: at(sec), Open: 1, High: high, Low: 1, Close: 1}
}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, domain.LifecycleEvent) {}

type env struct {
	store   *memstore.Store
	feed    *fakeFeed
	locks   *memcache.LockManager
	monitor *Monitor
}

func newEnv(t *testing.T, now time.Time) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	e := &env{store: store, feed: newFeed(), locks: memcache.NewLockManager()}

	dist := payout.NewDistributor(payout.Config{Mode: domain.PayoutModeLedger}, nil, store, store.Payouts(), logger)
	settler := NewSettler(store, store, dist, nopEvents{}, logger)
	settler.now = func() time.Time { return now }

	e.monitor = NewMonitor(e.feed, store, store, e.locks, settler, DefaultConfig(), logger)
	e.monitor.now = func() time.Time { return now }
	return e
}

// addMarket persists an active automated market plus bets.
func (e *env) addMarket(t *testing.T, id string, mt domain.MarketType, target float64, expires time.Time, tokA, tokB string, bets ...domain.Bet) {
	t.Helper()
	ctx := context.Background()
	prev, err := e.store.LastMarketType(ctx)
	require.NoError(t, err)
	require.NoError(t, e.store.Create(ctx, domain.MarketCreation{
		Market: domain.Market{
			ID: id, Status: domain.MarketStatusActive, IsAutomated: true,
			ExpiresAt: &expires, TokenAddress: tokA, TokenAddress2: tokB, CreatedAt: base,
		},
		Tracking: domain.ResolutionTracking{
			MarketID: id, MarketType: mt, TargetValue: target,
			TokenAddress: tokA, TokenAddress2: tokB, Status: domain.TrackingPending, CreatedAt: base,
		},
		PreviousType: prev,
	}))
	for _, b := range bets {
		b.MarketID = id
		e.store.AddBet(b)
	}
}

func stake(id, user string, pos domain.Position, amount string) domain.Bet {
	return domain.Bet{ID: id, UserID: user, Position: pos, Amount: decimal.RequireFromString(amount)}
}

func (e *env) market(t *testing.T, id string) (domain.Market, domain.ResolutionTracking) {
	t.Helper()
	m, err := e.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	tr, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return m, tr
}

func (e *env) balance(t *testing.T, user string) decimal.Decimal {
	t.Helper()
	b, err := e.store.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func TestFirstHitAndCompare(t *testing.T) {
	candles := []domain.Candle{highAt(300, 50), highAt(200, 120), highAt(100, 90)}
	h := FirstHit(candles, domain.MarketTypeBattleRace, 100, at(1000))
	require.True(t, h.OK)
	assert.Equal(t, at(200), h.At)

	assert.False(t, FirstHit(candles, domain.MarketTypeBattleRace, 100, at(150)).OK, "hits after deadline ignored")

	dump := []domain.Candle{{Time: at(10), Low: 80}, {Time: at(20), Low: 40}}
	assert.Equal(t, at(20), FirstHit(dump, domain.MarketTypeBattleDump, 50, at(100)).At)

	a := Hit{At: at(1), OK: true}
	b := Hit{At: at(2), OK: true}
	assert.Equal(t, FirstWins, Compare(a, b))
	assert.Equal(t, SecondWins, Compare(b, a))
	assert.Equal(t, Tied, Compare(a, a))
	assert.Equal(t, SecondWins, Compare(Hit{}, b))
	assert.Equal(t, NoHit, Compare(Hit{}, Hit{}))
	assert.Equal(t, domain.OutcomeNo, SecondWins.Outcome())
}

func TestBattleRace_EarlierHitWins(t *testing.T) {
	now := at(3600)
	e := newEnv(t, now)
	e.addMarket(t, "m1", domain.MarketTypeBattleRace, 100, base.Add(72*time.Hour), "A", "B",
		stake("b1", "alice", domain.PositionYes, "10"),
		stake("b2", "bob", domain.PositionNo, "30"),
	)
	e.feed.candles[candleKey{"A", "15m"}] = []domain.Candle{highAt(100, 150)}
	e.feed.candles[candleKey{"B", "15m"}] = []domain.Candle{highAt(200, 150)}

	require.NoError(t, e.monitor.Tick(context.Background()))

	m, tr := e.market(t, "m1")
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeYes, m.ResolvedOutcome)
	assert.Equal(t, domain.TrackingResolved, tr.Status)
	assert.True(t, fairness.Verify(m.CommitmentHash, m.ResolvedOutcome, m.CommitmentSecret, m.ID))
	assert.True(t, e.balance(t, "alice").Equal(decimal.NewFromInt(40)))
	assert.True(t, e.balance(t, "bob").IsZero())
}

func TestBattleRace_TieBrokenAtFineGranularity(t *testing.T) {
	e := newEnv(t, at(3600))
	e.addMarket(t, "m1", domain.MarketTypeBattleRace, 100, base.Add(72*time.Hour), "A", "B",
		stake("b1", "alice", domain.PositionYes, "5"),
		stake("b2", "bob", domain.PositionNo, "5"),
	)
	e.feed.candles[candleKey{"A", "15m"}] = []domain.Candle{highAt(0, 150)}
	e.feed.candles[candleKey{"B", "15m"}] = []domain.Candle{highAt(0, 150)}
	e.feed.candles[candleKey{"A", "1m"}] = []domain.Candle{highAt(150, 101)}
	e.feed.candles[candleKey{"B", "1m"}] = []domain.Candle{highAt(160, 101)}

	require.NoError(t, e.monitor.Tick(context.Background()))

	m, _ := e.market(t, "m1")
	assert.Equal(t, domain.OutcomeYes, m.ResolvedOutcome)
}

func TestBattleRace_PersistentTieRefunds(t *testing.T) {
	e := newEnv(t, at(3600))
	e.addMarket(t, "m1", domain.MarketTypeBattleRace, 100, base.Add(72*time.Hour), "A", "B",
		stake("b1", "alice", domain.PositionYes, "5"),
		stake("b2", "bob", domain.PositionNo, "7"),
	)
	for _, g := range []domain.Granularity{"15m", "1m"} {
		e.feed.candles[candleKey{"A", g}] = []domain.Candle{highAt(60, 150)}
		e.feed.candles[candleKey{"B", g}] = []domain.Candle{highAt(60, 150)}
	}

	require.NoError(t, e.monitor.Tick(context.Background()))

	m, tr := e.market(t, "m1")
	assert.Equal(t, domain.MarketStatusRefunded, m.Status)
	assert.Equal(t, domain.OutcomeRefunded, m.ResolvedOutcome)
	assert.Equal(t, domain.TrackingResolved, tr.Status)
	assert.True(t, e.balance(t, "alice").Equal(decimal.NewFromInt(5)))
	assert.True(t, e.balance(t, "bob").Equal(decimal.NewFromInt(7)))
}

func TestBattle_NoHitBeforeExpiry(t *testing.T) {
	expires := base.Add(72 * time.Hour)

	t.Run("still open", func(t *testing.T) {
		e := newEnv(t, at(3600))
		e.addMarket(t, "m1", domain.MarketTypeBattleRace, 100, expires, "A", "B")
		e.feed.candles[candleKey{"A", "15m"}] = []domain.Candle{highAt(60, 10)}

		require.NoError(t, e.monitor.Tick(context.Background()))
		m, tr := e.market(t, "m1")
		assert.True(t, m.IsActive())
		assert.Equal(t, domain.TrackingPending, tr.Status)
		require.NotNil(t, tr.LastChecked)
	})

	t.Run("expired refunds every stake", func(t *testing.T) {
		e := newEnv(t, expires.Add(time.Minute))
		e.addMarket(t, "m1", domain.MarketTypeBattleRace, 100, expires, "A", "B",
			stake("b1", "alice", domain.PositionYes, "3.25"),
			stake("b2", "bob", domain.PositionNo, "8"),
			stake("b3", "carol", domain.PositionNo, "1"),
		)
		// A hit after the deadline does not count.
		e.feed.candles[candleKey{"A", "15m"}] = []domain.Candle{{Time: expires.Add(time.Second), High: 500}}

		require.NoError(t, e.monitor.Tick(context.Background()))

		m, tr := e.market(t, "m1")
		assert.Equal(t, domain.MarketStatusRefunded, m.Status)
		assert.Equal(t, domain.TrackingExpired, tr.Status)
		assert.True(t, e.balance(t, "alice").Equal(decimal.RequireFromString("3.25")))
		assert.True(t, e.balance(t, "bob").Equal(decimal.NewFromInt(8)))
		assert.True(t, e.balance(t, "carol").Equal(decimal.NewFromInt(1)))
	})
}

func TestBattleDump_SecondTokenWins(t *testing.T) {
	e := newEnv(t, at(3600))
	e.addMarket(t, "m1", domain.MarketTypeBattleDump, 100_000, base.Add(72*time.Hour), "A", "B",
		stake("b1", "alice", domain.PositionYes, "5"),
		stake("b2", "bob", domain.PositionNo, "5"),
	)
	e.feed.candles[candleKey{"B", "15m"}] = []domain.Candle{{Time: at(900), Low: 90_000, High: 200_000}}

	require.NoError(t, e.monitor.Tick(context.Background()))
	m, _ := e.market(t, "m1")
	assert.Equal(t, domain.OutcomeNo, m.ResolvedOutcome)
	assert.True(t, e.balance(t, "bob").Equal(decimal.NewFromInt(10)))
}

func TestSingleToken_ResolutionWindow(t *testing.T) {
	expiry := base.Add(2 * time.Hour)
	cases := []struct {
		name     string
		now      time.Time
		cap      float64
		status   domain.MarketStatus
		outcome  domain.Outcome
		tracking domain.TrackingStatus
	}{
		{"too early", expiry.Add(-2 * time.Minute), 5_000_000, domain.MarketStatusActive, "", domain.TrackingPending},
		{"live check hit", expiry.Add(-30 * time.Second), 1_000_000, domain.MarketStatusResolved, domain.OutcomeYes, domain.TrackingResolved},
		{"live check miss", expiry.Add(30 * time.Second), 999_999, domain.MarketStatusResolved, domain.OutcomeNo, domain.TrackingResolved},
		{"backstop within grace", expiry.Add(4 * time.Minute), 2_000_000, domain.MarketStatusResolved, domain.OutcomeYes, domain.TrackingResolved},
		{"beyond grace refunds", expiry.Add(10 * time.Minute), 2_000_000, domain.MarketStatusRefunded, domain.OutcomeRefunded, domain.TrackingExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, tc.now)
			e.addMarket(t, "m1", domain.MarketTypeMarketCap, 1_000_000, expiry, "T", "",
				stake("b1", "alice", domain.PositionYes, "4"),
				stake("b2", "bob", domain.PositionNo, "6"),
			)
			e.feed.metrics["T"] = domain.TokenMetrics{Address: "T", MarketCap: tc.cap}

			require.NoError(t, e.monitor.Sweep(context.Background(), SweepExpiry))

			m, tr := e.market(t, "m1")
			assert.Equal(t, tc.status, m.Status)
			assert.Equal(t, tc.outcome, m.ResolvedOutcome)
			assert.Equal(t, tc.tracking, tr.Status)
		})
	}
}

func TestSingleToken_HoldersUsesHolderMetric(t *testing.T) {
	expiry := base.Add(24 * time.Hour)
	e := newEnv(t, expiry)
	e.addMarket(t, "m1", domain.MarketTypeHolders, 1_000, expiry, "T", "",
		stake("b1", "alice", domain.PositionYes, "1"))
	e.feed.metrics["T"] = domain.TokenMetrics{Address: "T", MarketCap: 1, Holders: 1_000}

	require.NoError(t, e.monitor.Tick(context.Background()))
	m, _ := e.market(t, "m1")
	assert.Equal(t, domain.OutcomeYes, m.ResolvedOutcome)
}

func TestSweep_OneFailureDoesNotBlockOthers(t *testing.T) {
	expiry := base.Add(2 * time.Hour)
	e := newEnv(t, expiry)
	e.addMarket(t, "bad", domain.MarketTypeMarketCap, 1_000_000, expiry, "BAD", "")
	e.addMarket(t, "good", domain.MarketTypeVolume, 1_000_000, expiry, "GOOD", "",
		stake("b1", "alice", domain.PositionYes, "1"))
	e.feed.err["BAD"] = domain.ErrFetch
	e.feed.metrics["GOOD"] = domain.TokenMetrics{Volume24h: 2_000_000}

	err := e.monitor.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrFetch)

	bad, badTr := e.market(t, "bad")
	assert.True(t, bad.IsActive())
	assert.Equal(t, domain.TrackingPending, badTr.Status)

	good, _ := e.market(t, "good")
	assert.Equal(t, domain.OutcomeYes, good.ResolvedOutcome)
}

func TestSweep_ExpiryLoopSkipsBattles(t *testing.T) {
	e := newEnv(t, at(3600))
	e.addMarket(t, "m1", domain.MarketTypeBattleRace, 100, base.Add(72*time.Hour), "A", "B")

	require.NoError(t, e.monitor.Sweep(context.Background(), SweepExpiry))
	assert.Zero(t, e.feed.candleHits)
}

func TestSweep_LockedMarketIsSkipped(t *testing.T) {
	expiry := base.Add(2 * time.Hour)
	e := newEnv(t, expiry)
	e.addMarket(t, "m1", domain.MarketTypeMarketCap, 1, expiry, "T", "")
	e.feed.metrics["T"] = domain.TokenMetrics{MarketCap: 5}

	unlock, err := e.locks.Acquire(context.Background(), "resolve:m1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, e.monitor.Tick(context.Background()))
	m, _ := e.market(t, "m1")
	assert.True(t, m.IsActive())

	unlock()
	require.NoError(t, e.monitor.Tick(context.Background()))
	m, _ = e.market(t, "m1")
	assert.False(t, m.IsActive())
}

func TestSettle_SecondSettleIsStateConflict(t *testing.T) {
	expiry := base.Add(2 * time.Hour)
	e := newEnv(t, expiry)
	e.addMarket(t, "m1", domain.MarketTypeMarketCap, 1, expiry, "T", "",
		stake("b1", "alice", domain.PositionYes, "2"))
	m, _ := e.market(t, "m1")

	_, err := e.monitor.settler.Settle(context.Background(), m, domain.MarketTypeMarketCap, domain.OutcomeYes, domain.TrackingResolved)
	require.NoError(t, err)
	_, err = e.monitor.settler.Settle(context.Background(), m, domain.MarketTypeMarketCap, domain.OutcomeYes, domain.TrackingResolved)
	require.True(t, errors.Is(err, domain.ErrStateConflict))

	assert.True(t, e.balance(t, "alice").Equal(decimal.NewFromInt(2)), "paid exactly once")
}
