package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusRefunded MarketStatus = "refunded"
)

// Outcome is the settled result of a market.
type Outcome string

const (
	OutcomeYes      Outcome = "yes"
	OutcomeNo       Outcome = "no"
	OutcomeRefunded Outcome = "refunded"
)

// Position is the side a bet was placed on.
type Position string

const (
	PositionYes Position = "yes"
	PositionNo  Position = "no"
)

// Outcome returns the outcome under which this position wins.
func (p Position) Outcome() Outcome {
	if p == PositionNo {
		return OutcomeNo
	}
	return OutcomeYes
}

// PayoutType selects how a resolved pool is distributed.
type PayoutType string

const (
	PayoutProportional   PayoutType = "proportional"
	PayoutWinnerTakesAll PayoutType = "winner_takes_all"
)

// Market is a binary prediction market backed by two stake pools.
type Market struct {
	ID               string
	Question         string
	Category         string
	Status           MarketStatus
	YesPool          decimal.Decimal
	NoPool           decimal.Decimal
	Probability      int // 0-100, cached at resolution
	ExpiresAt        *time.Time
	IsPrivate        bool
	PayoutType       PayoutType
	IsAutomated      bool
	TokenAddress     string
	TokenAddress2    string // battle markets only
	ImageURL         string
	ResolvedOutcome  Outcome
	CommitmentHash   string
	CommitmentSecret string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// TotalPool returns yesPool + noPool.
func (m Market) TotalPool() decimal.Decimal {
	return m.YesPool.Add(m.NoPool)
}

// IsActive reports whether the market can still be settled.
func (m Market) IsActive() bool {
	return m.Status == MarketStatusActive
}

// Expired reports whether the market has an expiry at or before now.
func (m Market) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Tokens returns the non-empty token addresses the market references.
func (m Market) Tokens() []string {
	out := make([]string, 0, 2)
	if m.TokenAddress != "" {
		out = append(out, m.TokenAddress)
	}
	if m.TokenAddress2 != "" {
		out = append(out, m.TokenAddress2)
	}
	return out
}

// Bet is a single stake on one side of a market.
type Bet struct {
	ID                 string
	MarketID           string
	UserID             string
	Wallet             string // payout address for on-chain transfers
	Position           Position
	Amount             decimal.Decimal
	ProbabilityAtEntry int
	CreatedAt          time.Time
}
