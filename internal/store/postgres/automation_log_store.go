package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// AutomationLogStore implements domain.AutomationLogStore.
type AutomationLogStore struct {
	pool *pgxpool.Pool
}

var _ domain.AutomationLogStore = (*AutomationLogStore)(nil)

// NewAutomationLogStore creates an AutomationLogStore.
func NewAutomationLogStore(pool *pgxpool.Pool) *AutomationLogStore {
	return &AutomationLogStore{pool: pool}
}

// Append inserts one run record.
func (s *AutomationLogStore) Append(ctx context.Context, e domain.AutomatedMarketLog) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO automated_market_logs (
			id, execution_time, market_id, question_type,
			token_address, token_address_2, success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ExecutionTime, nullString(e.MarketID), string(e.QuestionType),
		e.TokenAddress, e.TokenAddress2, e.Success, nullString(e.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("postgres: append automation log: %w", err)
	}
	return nil
}

// List returns run records, newest first.
func (s *AutomationLogStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AutomatedMarketLog, error) {
	query, args := listQuery(`
		SELECT id, execution_time, market_id, question_type,
		       token_address, token_address_2, success, error_message
		FROM automated_market_logs WHERE 1=1`, nil, "execution_time", "DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list automation logs: %w", err)
	}
	defer rows.Close()

	var out []domain.AutomatedMarketLog
	for rows.Next() {
		var (
			e             domain.AutomatedMarketLog
			qt            string
			marketID, msg *string
		)
		if err := rows.Scan(&e.ID, &e.ExecutionTime, &marketID, &qt,
			&e.TokenAddress, &e.TokenAddress2, &e.Success, &msg); err != nil {
			return nil, fmt.Errorf("postgres: scan automation log: %w", err)
		}
		e.MarketID = deref(marketID)
		e.QuestionType = domain.MarketType(qt)
		e.ErrorMessage = deref(msg)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list automation logs rows: %w", err)
	}
	return out, nil
}
