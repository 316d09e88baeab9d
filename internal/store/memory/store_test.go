package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func creation(id, token string, typ, prev domain.MarketType, expires time.Time) domain.MarketCreation {
	return domain.MarketCreation{
		Market: domain.Market{
			ID:           id,
			Status:       domain.MarketStatusActive,
			TokenAddress: token,
			ExpiresAt:    &expires,
			IsAutomated:  true,
			CreatedAt:    expires.Add(-time.Hour),
		},
		Tracking: domain.ResolutionTracking{
			MarketID:     id,
			MarketType:   typ,
			TokenAddress: token,
			Status:       domain.TrackingPending,
		},
		PreviousType: prev,
	}
}

func TestCreateReservesTokensAndAdvancesType(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()

	require.NoError(t, s.Create(ctx, creation("m1", "tokA", domain.MarketTypeMarketCap, "", now.Add(2*time.Hour))))

	last, err := s.LastMarketType(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketTypeMarketCap, last)

	active, err := s.ActiveTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tokA": "m1"}, active)

	// Same token while the first market is live.
	err = s.Create(ctx, creation("m2", "tokA", domain.MarketTypeVolume, domain.MarketTypeMarketCap, now.Add(24*time.Hour)))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// Stale previous type.
	err = s.Create(ctx, creation("m3", "tokB", domain.MarketTypeVolume, "", now.Add(24*time.Hour)))
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestReservationHoldsPastExpiryUntilSettled(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()

	// m1 has already expired but has not been settled yet.
	require.NoError(t, s.Create(ctx, creation("m1", "tokA", domain.MarketTypeMarketCap, "", now.Add(-time.Minute))))

	err := s.Create(ctx, creation("m2", "tokA", domain.MarketTypeVolume, domain.MarketTypeMarketCap, now.Add(time.Hour)))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	active, err := s.ActiveTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", active["tokA"])

	require.NoError(t, s.Settle(ctx, domain.Settlement{
		MarketID: "m1", Status: domain.MarketStatusRefunded, Outcome: domain.OutcomeRefunded,
		TrackingStatus: domain.TrackingExpired, ResolvedAt: now,
	}))
	require.NoError(t, s.Create(ctx, creation("m2", "tokA", domain.MarketTypeVolume, domain.MarketTypeMarketCap, now.Add(time.Hour))))

	active, err = s.ActiveTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m2", active["tokA"])
}

func TestSettleIsOneWay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	require.NoError(t, s.Create(ctx, creation("m1", "tokA", domain.MarketTypeMarketCap, "", now.Add(time.Hour))))

	st := domain.Settlement{
		MarketID:       "m1",
		Status:         domain.MarketStatusResolved,
		Outcome:        domain.OutcomeYes,
		Probability:    60,
		CommitmentHash: "abc",
		TrackingStatus: domain.TrackingResolved,
		ResolvedAt:     now,
	}
	require.NoError(t, s.Settle(ctx, st))

	m, err := s.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeYes, m.ResolvedOutcome)
	require.NotNil(t, m.ResolvedAt)

	tr, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.TrackingResolved, tr.Status)

	active, err := s.ActiveTokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	st.Status = domain.MarketStatusRefunded
	assert.ErrorIs(t, s.Settle(ctx, st), domain.ErrStateConflict)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddBetUpdatesPools(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	require.NoError(t, s.Create(ctx, creation("m1", "tokA", domain.MarketTypeMarketCap, "", now.Add(time.Hour))))

	s.AddBet(domain.Bet{ID: "b1", MarketID: "m1", UserID: "u1", Position: domain.PositionYes, Amount: decimal.NewFromInt(30)})
	s.AddBet(domain.Bet{ID: "b2", MarketID: "m1", UserID: "u2", Position: domain.PositionNo, Amount: decimal.NewFromInt(70)})

	m, err := s.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.YesPool.Equal(decimal.NewFromInt(30)))
	assert.True(t, m.NoPool.Equal(decimal.NewFromInt(70)))

	bets, err := s.ListByMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, bets, 2)
}

func TestPayoutsAndBalances(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := s.Payouts()
	sig := "0x1"

	require.NoError(t, p.Record(ctx, []domain.PayoutResult{
		{MarketID: "m1", BetIDs: []string{"b1"}, UserID: "u1", Amount: decimal.NewFromInt(5), TxSignature: &sig},
		{MarketID: "m1", BetIDs: []string{"b2"}, UserID: "u2", Amount: decimal.NewFromInt(5), Error: "rpc down"},
	}))

	all, err := p.ListByMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := p.ListFailed(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, []string{"b2"}, failed[0].BetIDs)

	require.NoError(t, s.Credit(ctx, "u1", decimal.NewFromInt(3)))
	require.NoError(t, s.Credit(ctx, "u1", decimal.NewFromInt(4)))
	bal, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(7)))
}
