package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketCreation is everything persisted when an automated market is
// created. Stores apply it in one transaction.
type MarketCreation struct {
	Market   Market
	Tracking ResolutionTracking
	// PreviousType is the last_market_type value the caller read. The store
	// rejects the creation with ErrStateConflict if it has since changed.
	PreviousType MarketType
}

// Settlement is the terminal transition of a market.
type Settlement struct {
	MarketID         string
	Status           MarketStatus
	Outcome          Outcome
	Probability      int
	CommitmentHash   string
	CommitmentSecret string
	TrackingStatus   TrackingStatus
	ResolvedAt       time.Time
}

// MarketStore persists markets and their creation/settlement transitions.
type MarketStore interface {
	// Create inserts the market and its tracking row, reserves its tokens
	// and advances last_market_type atomically. A token that is already
	// reserved yields ErrAlreadyExists.
	Create(ctx context.Context, c MarketCreation) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	// Settle moves an active market to a terminal status, closes its
	// tracking row and releases its token reservations. It returns
	// ErrStateConflict when the market is no longer active.
	Settle(ctx context.Context, s Settlement) error
}

// BetStore reads bets for settlement.
type BetStore interface {
	ListByMarket(ctx context.Context, marketID string) ([]Bet, error)
}

// TrackingStore reads and updates resolution tracking rows.
type TrackingStore interface {
	Get(ctx context.Context, marketID string) (ResolutionTracking, error)
	ListPending(ctx context.Context) ([]ResolutionTracking, error)
	Touch(ctx context.Context, marketID string, checkedAt time.Time) error
	// Close marks a pending row terminal without touching its market.
	Close(ctx context.Context, marketID string, status TrackingStatus) error
}

// EngineStateStore exposes the explicit rotation state.
type EngineStateStore interface {
	// LastMarketType returns the last successfully created type, or "" when
	// none exists yet.
	LastMarketType(ctx context.Context) (MarketType, error)
}

// ReservationStore reports which tokens are held by active automated
// markets. A token stays held until its market is settled, even past the
// market's expiry.
type ReservationStore interface {
	ActiveTokens(ctx context.Context) (map[string]string, error)
}

// AutomationLogStore persists the append-only creation run log.
type AutomationLogStore interface {
	Append(ctx context.Context, entry AutomatedMarketLog) error
	List(ctx context.Context, opts ListOpts) ([]AutomatedMarketLog, error)
}

// PayoutStore persists payout result records.
type PayoutStore interface {
	Record(ctx context.Context, results []PayoutResult) error
	ListByMarket(ctx context.Context, marketID string) ([]PayoutResult, error)
	ListFailed(ctx context.Context, opts ListOpts) ([]PayoutResult, error)
}

// BalanceStore applies ledger-only balance credits.
type BalanceStore interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal) error
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}
