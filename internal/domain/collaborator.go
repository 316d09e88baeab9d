package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TokenFeed is the token/price data source.
type TokenFeed interface {
	Candidates(ctx context.Context) ([]TokenCandidate, error)
	Metrics(ctx context.Context, address string) (TokenMetrics, error)
	Candles(ctx context.Context, address string, g Granularity, from, to time.Time) ([]Candle, error)
}

// Treasury sends native transfers from the platform signer.
type Treasury interface {
	Address() string
	// Transfer sends amount to the recipient and returns the transaction
	// signature. It never leaves the signer below its required reserve.
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (string, error)
}

// ImageCompositor combines two token images into one battle image and
// returns its public reference. Discard removes the stored image of a
// market that was never persisted.
type ImageCompositor interface {
	Composite(ctx context.Context, marketID, imageURL1, imageURL2 string) (string, error)
	Discard(ctx context.Context, marketID string) error
}

// EventPublisher is a fire-and-forget lifecycle event sink.
type EventPublisher interface {
	Publish(ctx context.Context, ev LifecycleEvent)
}
