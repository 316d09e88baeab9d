package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// EngineStateStore reads the rotation pointer and token reservations.
type EngineStateStore struct {
	pool *pgxpool.Pool
}

var (
	_ domain.EngineStateStore = (*EngineStateStore)(nil)
	_ domain.ReservationStore = (*EngineStateStore)(nil)
)

// NewEngineStateStore creates an EngineStateStore.
func NewEngineStateStore(pool *pgxpool.Pool) *EngineStateStore {
	return &EngineStateStore{pool: pool}
}

// LastMarketType returns the last created type, or "" before the first
// creation.
func (s *EngineStateStore) LastMarketType(ctx context.Context) (domain.MarketType, error) {
	var t string
	err := s.pool.QueryRow(ctx, `SELECT last_market_type FROM engine_state WHERE id = 1`).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("postgres: read engine state: %w", err)
	}
	return domain.MarketType(t), nil
}

// ActiveTokens maps each token held by an active market to that market.
func (s *EngineStateStore) ActiveTokens(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.token_address, r.market_id
		FROM token_reservations r
		JOIN markets m ON m.id = r.market_id
		WHERE m.status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reservations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var tok, marketID string
		if err := rows.Scan(&tok, &marketID); err != nil {
			return nil, fmt.Errorf("postgres: scan reservation: %w", err)
		}
		out[tok] = marketID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list reservations rows: %w", err)
	}
	return out, nil
}
