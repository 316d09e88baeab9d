package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// PayoutStore implements domain.PayoutStore.
type PayoutStore struct {
	pool *pgxpool.Pool
}

var _ domain.PayoutStore = (*PayoutStore)(nil)

// NewPayoutStore creates a PayoutStore.
func NewPayoutStore(pool *pgxpool.Pool) *PayoutStore {
	return &PayoutStore{pool: pool}
}

// Record inserts results in one batch.
func (s *PayoutStore) Record(ctx context.Context, results []domain.PayoutResult) error {
	if len(results) == 0 {
		return nil
	}

	const query = `
		INSERT INTO payout_results (
			id, market_id, bet_ids, user_id, recipient, amount, mode, tx_signature, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	batch := &pgx.Batch{}
	for _, r := range results {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(query,
			id, r.MarketID, r.BetIDs, r.UserID, r.Recipient, r.Amount,
			string(r.Mode), r.TxSignature, r.Error, r.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: record payout batch item %d: %w", i, err)
		}
	}
	return nil
}

const payoutCols = `id, market_id, bet_ids, user_id, recipient, amount, mode, tx_signature, error, created_at`

// ListByMarket returns a market's payouts in record order.
func (s *PayoutStore) ListByMarket(ctx context.Context, marketID string) ([]domain.PayoutResult, error) {
	return s.query(ctx, `SELECT `+payoutCols+` FROM payout_results WHERE market_id = $1 ORDER BY created_at, id`, marketID)
}

// ListFailed returns failed payouts, newest first, for manual
// reconciliation.
func (s *PayoutStore) ListFailed(ctx context.Context, opts domain.ListOpts) ([]domain.PayoutResult, error) {
	query, args := listQuery(`SELECT `+payoutCols+` FROM payout_results WHERE error <> ''`, nil, "created_at", "DESC", opts)
	return s.query(ctx, query, args...)
}

func (s *PayoutStore) query(ctx context.Context, query string, args ...any) ([]domain.PayoutResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payouts: %w", err)
	}
	defer rows.Close()

	var out []domain.PayoutResult
	for rows.Next() {
		var r domain.PayoutResult
		var mode string
		if err := rows.Scan(&r.ID, &r.MarketID, &r.BetIDs, &r.UserID, &r.Recipient,
			&r.Amount, &mode, &r.TxSignature, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		r.Mode = domain.PayoutMode(mode)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list payouts rows: %w", err)
	}
	return out, nil
}
