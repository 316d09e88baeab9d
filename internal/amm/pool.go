// Package amm implements the pooled-stake math behind binary markets:
// implied probability, potential payouts and proportional settlement.
package amm

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Scale is the number of decimal places payouts are rounded to. It matches
// the 18-decimal native unit of the treasury chain.
const Scale int32 = 18

var hundred = decimal.NewFromInt(100)

// Probability returns the yes-side share of the total pool as a percentage
// in [0, 100]. An empty pool reads as 50.
func Probability(yesPool, noPool decimal.Decimal) int {
	total := yesPool.Add(noPool)
	if !total.IsPositive() {
		return 50
	}
	p := yesPool.Div(total).Mul(hundred).Round(0).IntPart()
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}

// PotentialPayout returns what a new bet would receive if its side won,
// including its own stake in both the side pool and the total pool. The
// boolean is false when the resulting side pool is zero.
func PotentialPayout(amount decimal.Decimal, pos domain.Position, yesPool, noPool decimal.Decimal) (decimal.Decimal, bool) {
	side := yesPool
	if pos == domain.PositionNo {
		side = noPool
	}
	newPos := side.Add(amount)
	if newPos.IsZero() {
		return decimal.Zero, false
	}
	newTotal := yesPool.Add(noPool).Add(amount)
	return amount.Mul(newTotal).DivRound(newPos, Scale), true
}

// SettlementShare returns a winning bet's pro-rata share of the total pool.
// It is rounded down so that the sum of shares never exceeds the pool.
func SettlementShare(amount, winnerPool, totalPool decimal.Decimal) decimal.Decimal {
	if !winnerPool.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(totalPool).DivRound(winnerPool, Scale+2).Truncate(Scale)
}
