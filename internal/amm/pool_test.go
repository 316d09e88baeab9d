package amm

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestProbability(t *testing.T) {
	assert.Equal(t, 30, Probability(d("30"), d("70")))
	assert.Equal(t, 50, Probability(decimal.Zero, decimal.Zero))
	assert.Equal(t, 100, Probability(d("5"), decimal.Zero))
	assert.Equal(t, 0, Probability(decimal.Zero, d("5")))
	assert.Equal(t, 67, Probability(d("2"), d("1")))

	for y := 0; y <= 50; y += 7 {
		for n := 0; n <= 50; n += 11 {
			p := Probability(decimal.NewFromInt(int64(y)), decimal.NewFromInt(int64(n)))
			assert.GreaterOrEqual(t, p, 0)
			assert.LessOrEqual(t, p, 100)
		}
	}
}

func TestPotentialPayout(t *testing.T) {
	got, ok := PotentialPayout(d("5"), domain.PositionYes, d("10"), d("10"))
	require.True(t, ok)
	f, _ := got.Float64()
	assert.InDelta(t, 8.3333333, f, 1e-6)

	got, ok = PotentialPayout(d("10"), domain.PositionNo, d("30"), d("0"))
	require.True(t, ok)
	assert.True(t, got.Equal(d("40")))

	_, ok = PotentialPayout(decimal.Zero, domain.PositionNo, d("10"), decimal.Zero)
	assert.False(t, ok)
}

func TestSettlementShare(t *testing.T) {
	assert.True(t, SettlementShare(d("10"), d("40"), d("100")).Equal(d("25")))
	assert.True(t, SettlementShare(d("10"), decimal.Zero, d("100")).IsZero())

	// Full 18-place precision, rounded down.
	assert.Equal(t, "3.333333333333333333", SettlementShare(d("1"), d("3"), d("10")).String())
	assert.Equal(t, "6.666666666666666666", SettlementShare(d("2"), d("3"), d("10")).String())
}

func bet(id string, pos domain.Position, amount string) domain.Bet {
	return domain.Bet{ID: id, UserID: "u-" + id, Position: pos, Amount: d(amount)}
}

func TestSettle_ConservesPool(t *testing.T) {
	cases := [][]domain.Bet{
		{bet("1", domain.PositionYes, "10"), bet("2", domain.PositionNo, "20"), bet("3", domain.PositionYes, "5")},
		{bet("1", domain.PositionYes, "1"), bet("2", domain.PositionYes, "1"), bet("3", domain.PositionYes, "1"), bet("4", domain.PositionNo, "1")},
		{bet("1", domain.PositionNo, "0.333"), bet("2", domain.PositionNo, "7.1"), bet("3", domain.PositionYes, "13.37")},
	}

	for i, bets := range cases {
		for _, outcome := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
			t.Run(fmt.Sprintf("case%d/%s", i, outcome), func(t *testing.T) {
				s := Settle(bets, outcome)
				require.Equal(t, outcome, s.Outcome)

				sum := decimal.Zero
				for _, p := range s.Payouts {
					if p.Bet.Position.Outcome() != outcome {
						assert.True(t, p.Amount.IsZero(), "losing bet %s paid %s", p.Bet.ID, p.Amount)
						continue
					}
					sum = sum.Add(p.Amount)
				}
				assert.True(t, sum.Equal(s.TotalPool), "sum %s != pool %s", sum, s.TotalPool)
			})
		}
	}
}

func TestSettle_ProRata(t *testing.T) {
	bets := []domain.Bet{
		bet("1", domain.PositionYes, "10"),
		bet("2", domain.PositionYes, "30"),
		bet("3", domain.PositionNo, "60"),
	}
	s := Settle(bets, domain.OutcomeYes)

	assert.True(t, s.Payouts[0].Amount.Equal(d("25")))
	assert.True(t, s.Payouts[1].Amount.Equal(d("75")))
	assert.True(t, s.Payouts[2].Amount.IsZero())
	assert.Len(t, s.Payable(), 2)
}

func TestSettle_RefundReturnsStake(t *testing.T) {
	bets := []domain.Bet{
		bet("1", domain.PositionYes, "10"),
		bet("2", domain.PositionNo, "2.5"),
	}
	s := Settle(bets, domain.OutcomeRefunded)

	require.Equal(t, domain.OutcomeRefunded, s.Outcome)
	for _, p := range s.Payouts {
		assert.True(t, p.Amount.Equal(p.Bet.Amount))
	}
}

func TestSettle_EmptyWinningSideRefunds(t *testing.T) {
	bets := []domain.Bet{bet("1", domain.PositionNo, "4")}
	s := Settle(bets, domain.OutcomeYes)

	assert.Equal(t, domain.OutcomeRefunded, s.Outcome)
	assert.True(t, s.Payouts[0].Amount.Equal(d("4")))
}
