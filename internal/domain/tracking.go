package domain

import "time"

// MarketType identifies which metric an automated market resolves on.
type MarketType string

const (
	MarketTypeMarketCap  MarketType = "market_cap"
	MarketTypeVolume     MarketType = "volume"
	MarketTypeHolders    MarketType = "holders"
	MarketTypeBattleRace MarketType = "battle_race"
	MarketTypeBattleDump MarketType = "battle_dump"
)

// MarketTypeCycle is the fixed creation rotation.
var MarketTypeCycle = []MarketType{
	MarketTypeMarketCap,
	MarketTypeVolume,
	MarketTypeHolders,
	MarketTypeBattleRace,
	MarketTypeBattleDump,
}

// IsBattle reports whether the type pits two tokens against each other.
func (t MarketType) IsBattle() bool {
	return t == MarketTypeBattleRace || t == MarketTypeBattleDump
}

// Valid reports whether t is one of the known market types.
func (t MarketType) Valid() bool {
	for _, c := range MarketTypeCycle {
		if c == t {
			return true
		}
	}
	return false
}

// TrackingStatus is the resolution state of a tracked market.
type TrackingStatus string

const (
	TrackingPending  TrackingStatus = "pending"
	TrackingResolved TrackingStatus = "resolved"
	TrackingExpired  TrackingStatus = "expired"
)

// ResolutionTracking links a market to the metric, target and tokens that
// decide its outcome.
type ResolutionTracking struct {
	MarketID      string
	MarketType    MarketType
	TargetValue   float64
	TokenAddress  string
	TokenAddress2 string
	Status        TrackingStatus
	LastChecked   *time.Time
	CreatedAt     time.Time
}

// AutomatedMarketLog is an append-only record of one creation run.
type AutomatedMarketLog struct {
	ID            string
	ExecutionTime time.Time
	MarketID      string // empty when the run failed
	QuestionType  MarketType
	TokenAddress  string
	TokenAddress2 string
	Success       bool
	ErrorMessage  string
}
