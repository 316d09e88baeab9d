package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// TrackingStore implements domain.TrackingStore.
type TrackingStore struct {
	pool *pgxpool.Pool
}

var _ domain.TrackingStore = (*TrackingStore)(nil)

// NewTrackingStore creates a TrackingStore.
func NewTrackingStore(pool *pgxpool.Pool) *TrackingStore {
	return &TrackingStore{pool: pool}
}

const trackingCols = `market_id, market_type, target_value, token_address, token_address_2,
	status, last_checked, created_at`

func scanTracking(row pgx.Row) (domain.ResolutionTracking, error) {
	var tr domain.ResolutionTracking
	var mt, status string
	if err := row.Scan(
		&tr.MarketID, &mt, &tr.TargetValue, &tr.TokenAddress, &tr.TokenAddress2,
		&status, &tr.LastChecked, &tr.CreatedAt,
	); err != nil {
		return domain.ResolutionTracking{}, err
	}
	tr.MarketType = domain.MarketType(mt)
	tr.Status = domain.TrackingStatus(status)
	return tr, nil
}

// Get returns a tracking row or domain.ErrNotFound.
func (s *TrackingStore) Get(ctx context.Context, marketID string) (domain.ResolutionTracking, error) {
	tr, err := scanTracking(s.pool.QueryRow(ctx,
		`SELECT `+trackingCols+` FROM resolution_tracking WHERE market_id = $1`, marketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionTracking{}, domain.ErrNotFound
		}
		return domain.ResolutionTracking{}, fmt.Errorf("postgres: get tracking %s: %w", marketID, err)
	}
	return tr, nil
}

// ListPending returns pending rows, oldest first.
func (s *TrackingStore) ListPending(ctx context.Context) ([]domain.ResolutionTracking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+trackingCols+` FROM resolution_tracking WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending tracking: %w", err)
	}
	defer rows.Close()

	var out []domain.ResolutionTracking
	for rows.Next() {
		tr, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan tracking: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending tracking rows: %w", err)
	}
	return out, nil
}

// Touch records when a row was last evaluated.
func (s *TrackingStore) Touch(ctx context.Context, marketID string, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resolution_tracking SET last_checked = $2 WHERE market_id = $1`, marketID, checkedAt)
	if err != nil {
		return fmt.Errorf("postgres: touch tracking %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks a pending row terminal. Rows that are already terminal are
// left unchanged.
func (s *TrackingStore) Close(ctx context.Context, marketID string, status domain.TrackingStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE resolution_tracking SET status = $2 WHERE market_id = $1 AND status = 'pending'`,
		marketID, string(status))
	if err != nil {
		return fmt.Errorf("postgres: close tracking %s: %w", marketID, err)
	}
	return nil
}
