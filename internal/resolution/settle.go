package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketengine/internal/amm"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/fairness"
	"github.com/alanyoungcy/marketengine/internal/metrics"
)

// Distributor pays out a computed settlement.
type Distributor interface {
	Distribute(ctx context.Context, marketID string, s amm.Settlement) domain.PayoutReport
}

// Settler applies the terminal transition of a market: settlement amounts,
// fairness commitment, conditional status update and payouts.
type Settler struct {
	markets domain.MarketStore
	bets    domain.BetStore
	payouts Distributor
	events  domain.EventPublisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewSettler creates a Settler.
func NewSettler(markets domain.MarketStore, bets domain.BetStore, payouts Distributor, events domain.EventPublisher, logger *slog.Logger) *Settler {
	return &Settler{
		markets: markets,
		bets:    bets,
		payouts: payouts,
		events:  events,
		logger:  logger.With(slog.String("component", "settler")),
		now:     time.Now,
	}
}

// Settle resolves m to outcome and closes its tracking row with status.
// It returns domain.ErrStateConflict, wrapped, when another worker settled
// the market first; nothing is paid in that case.
func (s *Settler) Settle(ctx context.Context, m domain.Market, mt domain.MarketType, outcome domain.Outcome, status domain.TrackingStatus) (domain.PayoutReport, error) {
	bets, err := s.bets.ListByMarket(ctx, m.ID)
	if err != nil {
		return domain.PayoutReport{}, fmt.Errorf("resolution: list bets %s: %w", m.ID, err)
	}

	settlement := amm.Settle(bets, outcome)
	if settlement.Outcome != outcome {
		s.logger.InfoContext(ctx, "no stake on winning side, refunding",
			slog.String("market_id", m.ID),
			slog.String("outcome", string(outcome)),
		)
	}

	commit, err := fairness.Commit(settlement.Outcome, m.ID)
	if err != nil {
		return domain.PayoutReport{}, fmt.Errorf("resolution: commit %s: %w", m.ID, err)
	}
	if !commit.Verify() {
		s.logger.ErrorContext(ctx, "commitment self-check failed",
			slog.String("market_id", m.ID),
			slog.String("hash", commit.Hash),
		)
	}

	marketStatus := domain.MarketStatusResolved
	if settlement.Outcome == domain.OutcomeRefunded {
		marketStatus = domain.MarketStatusRefunded
	}
	now := s.now()
	err = s.markets.Settle(ctx, domain.Settlement{
		MarketID:         m.ID,
		Status:           marketStatus,
		Outcome:          settlement.Outcome,
		Probability:      amm.Probability(m.YesPool, m.NoPool),
		CommitmentHash:   commit.Hash,
		CommitmentSecret: commit.Secret,
		TrackingStatus:   status,
		ResolvedAt:       now,
	})
	if err != nil {
		return domain.PayoutReport{}, fmt.Errorf("resolution: settle %s: %w", m.ID, err)
	}
	metrics.MarketsSettled.WithLabelValues(string(mt), string(settlement.Outcome)).Inc()

	s.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", m.ID),
		slog.String("market_type", string(mt)),
		slog.String("outcome", string(settlement.Outcome)),
		slog.String("tracking_status", string(status)),
		slog.Int("bets", len(bets)),
	)
	s.events.Publish(ctx, domain.LifecycleEvent{
		Type:       domain.EventMarketResolved,
		MarketID:   m.ID,
		MarketType: mt,
		Outcome:    settlement.Outcome,
		Detail: map[string]any{
			"question":        m.Question,
			"commitment_hash": commit.Hash,
			"total_pool":      settlement.TotalPool.String(),
			"tracking_status": string(status),
		},
		At: now,
	})

	report := s.payouts.Distribute(ctx, m.ID, settlement)
	s.events.Publish(ctx, domain.LifecycleEvent{
		Type:       domain.EventPayoutCompleted,
		MarketID:   m.ID,
		MarketType: mt,
		Outcome:    settlement.Outcome,
		Detail: map[string]any{
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
			"failures":  report.Failures,
		},
		At: s.now(),
	})
	return report, nil
}
