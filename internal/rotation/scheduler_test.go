package rotation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/marketengine/internal/cache/memory"
	"github.com/alanyoungcy/marketengine/internal/domain"
	memstore "github.com/alanyoungcy/marketengine/internal/store/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFeed struct {
	cands []domain.TokenCandidate
	err   error
}

func (f *fakeFeed) Candidates(context.Context) ([]domain.TokenCandidate, error) {
	return f.cands, f.err
}

func (f *fakeFeed) Metrics(context.Context, string) (domain.TokenMetrics, error) {
	return domain.TokenMetrics{}, errors.New("not used")
}

func (f *fakeFeed) Candles(context.Context, string, domain.Granularity, time.Time, time.Time) ([]domain.Candle, error) {
	return nil, errors.New("not used")
}

type fakeImages struct {
	err       error
	calls     int
	discarded []string
}

func (f *fakeImages) Composite(_ context.Context, marketID, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.test/battles/" + marketID + ".png", nil
}

func (f *fakeImages) Discard(_ context.Context, marketID string) error {
	f.discarded = append(f.discarded, marketID)
	return nil
}

// lostRaceStore fails the next Create as if another run had reserved the
// token first.
type lostRaceStore struct {
	*memstore.Store
	lost bool
}

func (s *lostRaceStore) Create(ctx context.Context, c domain.MarketCreation) error {
	if !s.lost {
		s.lost = true
		return domain.ErrAlreadyExists
	}
	return s.Store.Create(ctx, c)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (r *recordingEvents) Publish(_ context.Context, ev domain.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type harness struct {
	now    time.Time
	sched  *Scheduler
	store  *memstore.Store
	locks  *memcache.LockManager
	feed   *fakeFeed
	images *fakeImages
	events *recordingEvents
}

func newHarness(t *testing.T, cands ...domain.TokenCandidate) *harness {
	t.Helper()
	store := memstore.New()
	h := &harness{
		now:    testNow,
		store:  store,
		locks:  memcache.NewLockManager(),
		feed:   &fakeFeed{cands: cands},
		images: &fakeImages{},
		events: &recordingEvents{},
	}
	cfg := DefaultConfig()
	cfg.Epoch = 0
	h.sched = New(Deps{
		Feed:         h.feed,
		Markets:      store,
		State:        store,
		Reservations: store,
		Logs:         store,
		Locks:        h.locks,
		Images:       h.images,
		Events:       h.events,
	}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.sched.now = func() time.Time { return h.now }
	return h
}

// seedLastType advances the rotation state by persisting a throwaway market
// of type t.
func (h *harness) seedLastType(t *testing.T, mt domain.MarketType) {
	t.Helper()
	prev, err := h.store.LastMarketType(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.store.Create(context.Background(), domain.MarketCreation{
		Market:       domain.Market{ID: "seed-" + string(mt), Status: domain.MarketStatusActive},
		Tracking:     domain.ResolutionTracking{MarketID: "seed-" + string(mt), MarketType: mt, Status: domain.TrackingPending},
		PreviousType: prev,
	}))
}

func token(addr, sym string, mc float64) domain.TokenCandidate {
	return domain.TokenCandidate{
		Address:   addr,
		Symbol:    sym,
		ImageURL:  "https://img.test/" + addr + ".png",
		MarketCap: mc,
		Volume24h: mc / 2,
		Holders:   400,
	}
}

func TestNextType(t *testing.T) {
	assert.Equal(t, domain.MarketTypeMarketCap, NextType(""))
	assert.Equal(t, domain.MarketTypeVolume, NextType(domain.MarketTypeMarketCap))
	assert.Equal(t, domain.MarketTypeBattleRace, NextType(domain.MarketTypeHolders))
	assert.Equal(t, domain.MarketTypeMarketCap, NextType(domain.MarketTypeBattleDump))
	assert.Equal(t, domain.MarketTypeMarketCap, NextType("bogus"))
}

func TestRunOnce_CreatesMarketCapFromFirstEligible(t *testing.T) {
	noMeta := domain.TokenCandidate{Address: "nometa", MarketCap: 100_000}
	tooBig := token("big", "BIG", 90_000_000)
	good := token("good", "GOOD", 400_000)
	h := newHarness(t, noMeta, tooBig, good)
	ctx := context.Background()

	entry, err := h.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, entry.Success)
	assert.Equal(t, domain.MarketTypeMarketCap, entry.QuestionType)
	assert.Equal(t, "good", entry.TokenAddress)

	m, err := h.store.GetByID(ctx, entry.MarketID)
	require.NoError(t, err)
	assert.Equal(t, "Will $GOOD reach a $1M market cap within 2 hours?", m.Question)
	assert.True(t, m.IsAutomated)
	require.NotNil(t, m.ExpiresAt)
	assert.Equal(t, testNow.Add(120*time.Minute), *m.ExpiresAt)

	tr, err := h.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, tr.TargetValue)
	assert.Equal(t, domain.TrackingPending, tr.Status)

	last, _ := h.store.LastMarketType(ctx)
	assert.Equal(t, domain.MarketTypeMarketCap, last)

	logs, _ := h.store.List(ctx, domain.ListOpts{})
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)

	require.Len(t, h.events.events, 1)
	assert.Equal(t, domain.EventMarketCreated, h.events.events[0].Type)
}

func TestRunOnce_ReservedTokenIsNeverReselected(t *testing.T) {
	a := token("a", "AAA", 400_000)
	b := token("b", "BBB", 600_000)
	h := newHarness(t, a, b)
	ctx := context.Background()

	first, err := h.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.TokenAddress)

	second, err := h.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketTypeVolume, second.QuestionType)
	assert.Equal(t, "b", second.TokenAddress)

	// Both tokens held: the holders run has nothing left.
	third, err := h.sched.RunOnce(ctx)
	require.ErrorIs(t, err, domain.ErrNoCandidate)
	assert.False(t, third.Success)
	assert.Equal(t, domain.MarketTypeHolders, third.QuestionType)

	// Settling the first market releases its token.
	require.NoError(t, h.store.Settle(ctx, domain.Settlement{
		MarketID: first.MarketID, Status: domain.MarketStatusResolved,
		Outcome: domain.OutcomeYes, TrackingStatus: domain.TrackingResolved, ResolvedAt: testNow,
	}))
	fourth, err := h.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", fourth.TokenAddress)
}

func TestRunOnce_ExpiredButUnsettledTokenIsNotReused(t *testing.T) {
	h := newHarness(t, token("a", "AAA", 400_000))
	ctx := context.Background()

	first, err := h.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.TokenAddress)

	// Rotate back to market_cap and step past expiry without a settling tick.
	h.seedLastType(t, domain.MarketTypeBattleDump)
	m, err := h.store.GetByID(ctx, first.MarketID)
	require.NoError(t, err)
	h.now = m.ExpiresAt.Add(2 * time.Minute)

	second, err := h.sched.RunOnce(ctx)
	require.ErrorIs(t, err, domain.ErrNoCandidate)
	assert.Equal(t, domain.MarketTypeMarketCap, second.QuestionType)
	assert.Empty(t, second.TokenAddress)

	m, err = h.store.GetByID(ctx, first.MarketID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
}

func TestRunOnce_FailureKeepsRotation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	entry, err := h.sched.RunOnce(ctx)
	require.ErrorIs(t, err, domain.ErrNoCandidate)
	assert.NotEmpty(t, entry.ErrorMessage)

	last, _ := h.store.LastMarketType(ctx)
	assert.Equal(t, domain.MarketType(""), last)

	logs, _ := h.store.List(ctx, domain.ListOpts{})
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Empty(t, h.events.events)
}

func TestRunOnce_MaxAttemptsBoundsScan(t *testing.T) {
	var cands []domain.TokenCandidate
	for i := 0; i < 25; i++ {
		cands = append(cands, domain.TokenCandidate{Address: "x" + string(rune('a'+i))})
	}
	cands = append(cands, token("late", "LATE", 400_000))
	h := newHarness(t, cands...)

	_, err := h.sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoCandidate)
}

func TestRunOnce_FeedErrorIsLogged(t *testing.T) {
	h := newHarness(t)
	h.feed.err = domain.ErrFetch

	entry, err := h.sched.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrFetch)
	assert.False(t, entry.Success)
}

func TestRunOnce_OverlappingRunIsRejected(t *testing.T) {
	h := newHarness(t, token("a", "AAA", 400_000))
	ctx := context.Background()

	unlock, err := h.locks.Acquire(ctx, globalLockKey, time.Minute)
	require.NoError(t, err)

	_, err = h.sched.RunOnce(ctx)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	logs, _ := h.store.List(ctx, domain.ListOpts{})
	assert.Empty(t, logs)

	unlock()
	_, err = h.sched.RunOnce(ctx)
	assert.NoError(t, err)
}

func TestRunOnce_BattleRace(t *testing.T) {
	a := token("a", "AAA", 1_000_000)
	far := token("f", "FAR", 5_000_000)
	b := token("b", "BBB", 1_200_000)
	h := newHarness(t, a, far, b)
	h.seedLastType(t, domain.MarketTypeHolders)
	ctx := context.Background()

	entry, err := h.sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketTypeBattleRace, entry.QuestionType)
	assert.Equal(t, "a", entry.TokenAddress)
	assert.Equal(t, "b", entry.TokenAddress2)

	m, err := h.store.GetByID(ctx, entry.MarketID)
	require.NoError(t, err)
	assert.Equal(t, "Will $AAA reach a $2M market cap before $BBB?", m.Question)
	assert.Equal(t, "https://cdn.test/battles/"+m.ID+".png", m.ImageURL)
	assert.Equal(t, testNow.Add(72*time.Hour), *m.ExpiresAt)
}

func TestRunOnce_BattleDumpTarget(t *testing.T) {
	h := newHarness(t, token("a", "AAA", 1_000_000), token("b", "BBB", 1_200_000))
	h.seedLastType(t, domain.MarketTypeBattleRace)

	entry, err := h.sched.RunOnce(context.Background())
	require.NoError(t, err)
	tr, err := h.store.Get(context.Background(), entry.MarketID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketTypeBattleDump, tr.MarketType)
	assert.Equal(t, 500_000.0, tr.TargetValue)
}

func TestRunOnce_BattleMissingImageFailsRun(t *testing.T) {
	a := token("a", "AAA", 1_000_000)
	b := token("b", "BBB", 1_100_000)
	b.ImageURL = ""
	h := newHarness(t, a, b)
	h.seedLastType(t, domain.MarketTypeHolders)

	entry, err := h.sched.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrMissingImage)
	assert.False(t, entry.Success)
	assert.Zero(t, h.images.calls)
}

func TestRunOnce_BattleCompositeErrorFailsRun(t *testing.T) {
	h := newHarness(t, token("a", "AAA", 1_000_000), token("b", "BBB", 1_100_000))
	h.seedLastType(t, domain.MarketTypeHolders)
	h.images.err = errors.New("decode failed")

	_, err := h.sched.RunOnce(context.Background())
	require.Error(t, err)
	logs, _ := h.store.List(context.Background(), domain.ListOpts{})
	assert.Contains(t, logs[0].ErrorMessage, "decode failed")
}

func TestMatch(t *testing.T) {
	young := func(mc float64, age time.Duration) domain.TokenCandidate {
		return domain.TokenCandidate{MarketCap: mc, CreatedAt: testNow.Add(-age)}
	}
	cases := []struct {
		name string
		a, b domain.TokenCandidate
		want bool
	}{
		{"close caps unknown ages", domain.TokenCandidate{MarketCap: 100}, domain.TokenCandidate{MarketCap: 120}, true},
		{"caps too far apart", domain.TokenCandidate{MarketCap: 100}, domain.TokenCandidate{MarketCap: 200}, false},
		{"cap boundary", domain.TokenCandidate{MarketCap: 100}, domain.TokenCandidate{MarketCap: 135}, true},
		{"similar ages", young(100, 10*time.Hour), young(110, 12*time.Hour), true},
		{"ages too far apart", young(100, 10*time.Hour), young(110, 30*time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.a, tc.b, testNow, 0.30))
		})
	}
}

func TestSequences(t *testing.T) {
	nums := slices.Values([]int{1, 2, 3, 4, 5, 6})
	odd := func(n int) bool { return n%2 == 0 }

	assert.Equal(t, []int{1, 3, 5}, slices.Collect(Filter(nums, odd)))
	assert.Equal(t, []int{1, 3}, slices.Collect(Filter(Limit(nums, 4), odd)))
	assert.Len(t, slices.Collect(Limit(nums, 0)), 6)

	var pairs [][2]string
	for a, b := range Pairs([]string{"a", "b", "c"}) {
		pairs = append(pairs, [2]string{a, b})
	}
	assert.Equal(t, [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}}, pairs)
}

func TestQuestions(t *testing.T) {
	c := domain.TokenCandidate{Symbol: "DOGE"}
	assert.Equal(t, "Will $DOGE reach $2M in 24h trading volume within 24 hours?",
		singleQuestion(domain.MarketTypeVolume, c, 2_000_000, 24*time.Hour))
	assert.Equal(t, "Will $DOGE reach 1K holders within 24 hours?",
		singleQuestion(domain.MarketTypeHolders, c, 1_000, 24*time.Hour))
	assert.Equal(t, "Will $DOGE drop to a $500K market cap before $PEPE?",
		battleQuestion(domain.MarketTypeBattleDump, c, domain.TokenCandidate{Symbol: "PEPE"}, 500_000))
	assert.Equal(t, "3 days", describeWindow(72*time.Hour))
	assert.Equal(t, "90 minutes", describeWindow(90*time.Minute))
}

func TestRunOnce_BattleImageDiscardedWhenReservationLost(t *testing.T) {
	h := newHarness(t, token("a", "AAA", 1_000_000), token("b", "BBB", 1_100_000))
	h.seedLastType(t, domain.MarketTypeHolders)
	h.sched.deps.Markets = &lostRaceStore{Store: h.store}

	entry, err := h.sched.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrNoCandidate)
	assert.False(t, entry.Success)

	require.Equal(t, 1, h.images.calls)
	require.Len(t, h.images.discarded, 1)
	_, err = h.store.GetByID(context.Background(), h.images.discarded[0])
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunOnce_BattleImageKeptOnSuccess(t *testing.T) {
	h := newHarness(t, token("a", "AAA", 1_000_000), token("b", "BBB", 1_100_000))
	h.seedLastType(t, domain.MarketTypeHolders)

	_, err := h.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.images.discarded)
}
