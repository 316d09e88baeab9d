// Package payout turns a settlement into transfers or ledger credits, one
// independent attempt per winner.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketengine/internal/amm"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/metrics"
)

// Config selects the payout mode and dispatch width.
type Config struct {
	Mode    domain.PayoutMode
	Workers int
	// TransferTimeout bounds a single transfer including its receipt wait.
	TransferTimeout time.Duration
}

// Distributor applies settlement payouts. A failed payout is recorded with
// its reason and never affects the others.
type Distributor struct {
	cfg      Config
	treasury domain.Treasury
	balances domain.BalanceStore
	results  domain.PayoutStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewDistributor creates a Distributor. treasury is only needed in on-chain
// mode and balances only in ledger mode.
func NewDistributor(cfg Config, treasury domain.Treasury, balances domain.BalanceStore, results domain.PayoutStore, logger *slog.Logger) *Distributor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.PayoutModeLedger
	}
	return &Distributor{
		cfg:      cfg,
		treasury: treasury,
		balances: balances,
		results:  results,
		logger:   logger.With(slog.String("component", "payout")),
		now:      time.Now,
	}
}

// claim is the total owed to one recipient across its payable bets.
type claim struct {
	recipient string
	userID    string
	betIDs    []string
	amount    decimal.Decimal
}

// Distribute pays every winner of s once and returns the aggregate report.
// Results keep the order in which each winner's first bet appears.
func (d *Distributor) Distribute(ctx context.Context, marketID string, s amm.Settlement) domain.PayoutReport {
	claims := d.group(s.Payable())
	results := make([]domain.PayoutResult, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i, c := range claims {
		g.Go(func() error {
			results[i] = d.pay(gctx, marketID, c)
			return nil
		})
	}
	_ = g.Wait()

	if len(results) > 0 {
		if err := d.results.Record(ctx, results); err != nil {
			d.logger.ErrorContext(ctx, "failed to record payout results",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	report := domain.PayoutReport{MarketID: marketID, Outcome: s.Outcome, Results: results}
	for _, r := range results {
		if r.Succeeded() {
			report.Succeeded++
			metrics.Payouts.WithLabelValues(string(r.Mode), "success").Inc()
			continue
		}
		report.Failed++
		report.Failures = append(report.Failures, fmt.Sprintf("recipient %s: %s", r.Recipient, r.Error))
		metrics.Payouts.WithLabelValues(string(r.Mode), "error").Inc()
	}

	d.logger.InfoContext(ctx, "payouts distributed",
		slog.String("market_id", marketID),
		slog.String("outcome", string(s.Outcome)),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
	)
	return report
}

// group merges payable bets by recipient: the payout wallet on chain, the
// user in ledger mode. On chain, bets without a wallet are grouped by user
// so the failure is still reported once per winner.
func (d *Distributor) group(payable []amm.Payout) []claim {
	var claims []claim
	index := make(map[string]int)
	for _, p := range payable {
		key, recipient := "user:"+p.Bet.UserID, p.Bet.UserID
		if d.cfg.Mode == domain.PayoutModeOnChain {
			recipient = p.Bet.Wallet
			if recipient != "" {
				key = "wallet:" + strings.ToLower(recipient)
			}
		}
		i, ok := index[key]
		if !ok {
			i = len(claims)
			index[key] = i
			claims = append(claims, claim{recipient: recipient, userID: p.Bet.UserID, amount: decimal.Zero})
		}
		claims[i].betIDs = append(claims[i].betIDs, p.Bet.ID)
		claims[i].amount = claims[i].amount.Add(p.Amount)
	}
	return claims
}

func (d *Distributor) pay(ctx context.Context, marketID string, c claim) domain.PayoutResult {
	r := domain.PayoutResult{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		BetIDs:    c.betIDs,
		UserID:    c.userID,
		Recipient: c.recipient,
		Amount:    c.amount,
		Mode:      d.cfg.Mode,
		CreatedAt: d.now(),
	}

	var err error
	switch d.cfg.Mode {
	case domain.PayoutModeOnChain:
		var sig string
		sig, err = d.transfer(ctx, c)
		if err == nil {
			r.TxSignature = &sig
		}
	default:
		err = d.balances.Credit(ctx, c.userID, c.amount)
	}

	if err != nil {
		r.Error = err.Error()
		d.logger.WarnContext(ctx, "payout failed",
			slog.String("market_id", marketID),
			slog.String("recipient", c.recipient),
			slog.String("bets", strings.Join(c.betIDs, ",")),
			slog.String("amount", c.amount.String()),
			slog.String("error", err.Error()),
		)
	}
	return r
}

func (d *Distributor) transfer(ctx context.Context, c claim) (string, error) {
	if c.recipient == "" {
		return "", fmt.Errorf("user %s has no payout wallet: %w", c.userID, domain.ErrPayoutFailed)
	}
	if d.treasury == nil {
		return "", errors.New("no treasury configured")
	}
	if d.cfg.TransferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.TransferTimeout)
		defer cancel()
	}
	return d.treasury.Transfer(ctx, c.recipient, c.amount)
}
