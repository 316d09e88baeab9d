package amm

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Payout is the settled amount owed for one bet. Losing bets carry a zero
// amount.
type Payout struct {
	Bet    domain.Bet
	Amount decimal.Decimal
}

// Settlement is the result of settling a set of bets.
type Settlement struct {
	// Outcome is the effective outcome. A yes/no outcome with no stake on
	// the winning side settles as a refund.
	Outcome   domain.Outcome
	Payouts   []Payout
	TotalPool decimal.Decimal
}

// Payable returns the payouts with a positive amount.
func (s Settlement) Payable() []Payout {
	out := make([]Payout, 0, len(s.Payouts))
	for _, p := range s.Payouts {
		if p.Amount.IsPositive() {
			out = append(out, p)
		}
	}
	return out
}

// Settle computes every bet's payout for outcome. Winners split the total
// pool pro rata to their stake and the last winner absorbs the rounding
// remainder, so the winner payouts sum exactly to the pool. In refund mode
// every bet gets back its stake.
func Settle(bets []domain.Bet, outcome domain.Outcome) Settlement {
	total := decimal.Zero
	winnerPool := decimal.Zero
	for _, b := range bets {
		total = total.Add(b.Amount)
		if outcome != domain.OutcomeRefunded && b.Position.Outcome() == outcome {
			winnerPool = winnerPool.Add(b.Amount)
		}
	}

	if outcome != domain.OutcomeRefunded && !winnerPool.IsPositive() {
		outcome = domain.OutcomeRefunded
	}

	s := Settlement{Outcome: outcome, TotalPool: total, Payouts: make([]Payout, len(bets))}

	if outcome == domain.OutcomeRefunded {
		for i, b := range bets {
			s.Payouts[i] = Payout{Bet: b, Amount: b.Amount}
		}
		return s
	}

	last := -1
	paid := decimal.Zero
	for i, b := range bets {
		if b.Position.Outcome() != outcome {
			s.Payouts[i] = Payout{Bet: b, Amount: decimal.Zero}
			continue
		}
		share := SettlementShare(b.Amount, winnerPool, total)
		s.Payouts[i] = Payout{Bet: b, Amount: share}
		paid = paid.Add(share)
		last = i
	}
	if last >= 0 {
		s.Payouts[last].Amount = s.Payouts[last].Amount.Add(total.Sub(paid))
	}
	return s
}
