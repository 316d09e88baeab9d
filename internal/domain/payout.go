package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutMode selects how settlement amounts reach bettors.
type PayoutMode string

const (
	PayoutModeOnChain PayoutMode = "onchain"
	PayoutModeLedger  PayoutMode = "ledger"
)

// PayoutResult records one attempted payout to one winner. BetIDs lists
// the winner's bets whose amounts were combined into it.
type PayoutResult struct {
	ID          string
	MarketID    string
	BetIDs      []string
	UserID      string
	Recipient   string
	Amount      decimal.Decimal
	Mode        PayoutMode
	TxSignature *string
	Error       string
	CreatedAt   time.Time
}

// Succeeded reports whether the payout reached the recipient.
func (r PayoutResult) Succeeded() bool {
	return r.Error == ""
}

// PayoutReport aggregates the results of one settlement.
type PayoutReport struct {
	MarketID  string
	Outcome   Outcome
	Results   []PayoutResult
	Succeeded int
	Failed    int
	Failures  []string
}
