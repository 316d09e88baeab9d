package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a MarketStore.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Create writes the market, its tracking row, its token reservations and
// the new rotation state in one transaction.
func (s *MarketStore) Create(ctx context.Context, c domain.MarketCreation) error {
	m := c.Market
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create market %s: %w", m.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Compare-and-set on the rotation pointer. The row lock also orders
	// concurrent creators.
	tag, err := tx.Exec(ctx, `
		UPDATE engine_state
		SET last_market_type = $1, updated_at = NOW()
		WHERE id = 1 AND last_market_type = $2`,
		string(c.Tracking.MarketType), string(c.PreviousType))
	if err != nil {
		return fmt.Errorf("postgres: advance rotation for %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create market %s: last type is not %q: %w",
			m.ID, c.PreviousType, domain.ErrStateConflict)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO markets (
			id, question, category, status, yes_pool, no_pool, probability,
			expires_at, is_private, payout_type, is_automated,
			token_address, token_address_2, image_url, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.Question, m.Category, string(m.Status), m.YesPool, m.NoPool, m.Probability,
		m.ExpiresAt, m.IsPrivate, string(m.PayoutType), m.IsAutomated,
		m.TokenAddress, m.TokenAddress2, m.ImageURL, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}

	tr := c.Tracking
	_, err = tx.Exec(ctx, `
		INSERT INTO resolution_tracking (
			market_id, market_type, target_value, token_address, token_address_2, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.MarketID, string(tr.MarketType), tr.TargetValue, tr.TokenAddress, tr.TokenAddress2,
		string(tr.Status), tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create tracking %s: %w", m.ID, err)
	}

	expires := m.CreatedAt
	if m.ExpiresAt != nil {
		expires = *m.ExpiresAt
	}
	for _, tok := range m.Tokens() {
		// A row left behind by a settled market may be taken over. A row
		// whose market is still active blocks, even past its expiry.
		tag, err := tx.Exec(ctx, `
			INSERT INTO token_reservations (token_address, market_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (token_address) DO UPDATE
			SET market_id = EXCLUDED.market_id, expires_at = EXCLUDED.expires_at
			WHERE NOT EXISTS (
				SELECT 1 FROM markets
				WHERE markets.id = token_reservations.market_id AND markets.status = 'active'
			)`,
			tok, m.ID, expires)
		if err != nil {
			return fmt.Errorf("postgres: reserve token %s: %w", tok, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: reserve token %s: %w", tok, domain.ErrAlreadyExists)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create market %s: %w", m.ID, err)
	}
	return nil
}

const marketCols = `id, question, category, status, yes_pool, no_pool, probability,
	expires_at, is_private, payout_type, is_automated,
	token_address, token_address_2, image_url, resolved_outcome,
	commitment_hash, commitment_secret, created_at, resolved_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                     domain.Market
		status, payoutType    string
		outcome, hash, secret *string
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Category, &status, &m.YesPool, &m.NoPool, &m.Probability,
		&m.ExpiresAt, &m.IsPrivate, &payoutType, &m.IsAutomated,
		&m.TokenAddress, &m.TokenAddress2, &m.ImageURL, &outcome,
		&hash, &secret, &m.CreatedAt, &m.ResolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.PayoutType = domain.PayoutType(payoutType)
	m.ResolvedOutcome = domain.Outcome(deref(outcome))
	m.CommitmentHash = deref(hash)
	m.CommitmentSecret = deref(secret)
	return m, nil
}

// GetByID returns a market or domain.ErrNotFound.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListActive returns active markets, newest first.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := listQuery(`SELECT `+marketCols+` FROM markets WHERE status = 'active'`, nil, "created_at", "DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return markets, nil
}

// Settle moves an active market to its terminal state, closes its tracking
// row and releases its reservations. A market that already left the
// active state yields domain.ErrStateConflict.
func (s *MarketStore) Settle(ctx context.Context, st domain.Settlement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin settle %s: %w", st.MarketID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE markets
		SET status = $2, resolved_outcome = $3, probability = $4,
		    commitment_hash = $5, commitment_secret = $6, resolved_at = $7
		WHERE id = $1 AND status = 'active'`,
		st.MarketID, string(st.Status), string(st.Outcome), st.Probability,
		nullString(st.CommitmentHash), nullString(st.CommitmentSecret), st.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle market %s: %w", st.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, st.MarketID).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: settle market %s: %w", st.MarketID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: settle market %s: %w", st.MarketID, domain.ErrStateConflict)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE resolution_tracking SET status = $2, last_checked = $3
		WHERE market_id = $1 AND status = 'pending'`,
		st.MarketID, string(st.TrackingStatus), st.ResolvedAt,
	); err != nil {
		return fmt.Errorf("postgres: close tracking %s: %w", st.MarketID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM token_reservations WHERE market_id = $1`, st.MarketID); err != nil {
		return fmt.Errorf("postgres: release reservations %s: %w", st.MarketID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settle %s: %w", st.MarketID, err)
	}
	return nil
}
