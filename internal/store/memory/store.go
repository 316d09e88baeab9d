// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" storage driver used for local dry runs and gives
// tests the same atomic creation and settlement semantics as PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Store holds every record type behind one mutex.
type Store struct {
	mu           sync.Mutex
	markets      map[string]domain.Market
	tracking     map[string]domain.ResolutionTracking
	bets         map[string][]domain.Bet
	reservations map[string]string // token -> market
	lastType     domain.MarketType
	logs         []domain.AutomatedMarketLog
	payouts      []domain.PayoutResult
	balances     map[string]decimal.Decimal
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		markets:      make(map[string]domain.Market),
		tracking:     make(map[string]domain.ResolutionTracking),
		bets:         make(map[string][]domain.Bet),
		reservations: make(map[string]string),
		balances:     make(map[string]decimal.Decimal),
	}
}

// ---- MarketStore ----

// Create applies a MarketCreation atomically.
func (s *Store) Create(_ context.Context, c domain.MarketCreation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := c.Market
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	if s.lastType != c.PreviousType {
		return fmt.Errorf("memory: create market %s: last type is %q not %q: %w",
			m.ID, s.lastType, c.PreviousType, domain.ErrStateConflict)
	}
	// A reservation holds until its market leaves active, whatever its
	// expiry says.
	for _, tok := range m.Tokens() {
		if held, ok := s.reservations[tok]; ok && s.markets[held].IsActive() {
			return fmt.Errorf("memory: reserve token %s: %w", tok, domain.ErrAlreadyExists)
		}
	}
	for _, tok := range m.Tokens() {
		s.reservations[tok] = m.ID
	}
	s.markets[m.ID] = m
	s.tracking[m.ID] = c.Tracking
	s.lastType = c.Tracking.MarketType
	return nil
}

// GetByID returns a market or domain.ErrNotFound.
func (s *Store) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// ListActive returns active markets, newest first.
func (s *Store) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.IsActive() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

// Settle applies the terminal transition if the market is still active.
func (s *Store) Settle(_ context.Context, st domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[st.MarketID]
	if !ok {
		return domain.ErrNotFound
	}
	if !m.IsActive() {
		return fmt.Errorf("memory: settle market %s: %w", st.MarketID, domain.ErrStateConflict)
	}
	resolvedAt := st.ResolvedAt
	m.Status = st.Status
	m.ResolvedOutcome = st.Outcome
	m.Probability = st.Probability
	m.CommitmentHash = st.CommitmentHash
	m.CommitmentSecret = st.CommitmentSecret
	m.ResolvedAt = &resolvedAt
	s.markets[m.ID] = m

	if tr, ok := s.tracking[m.ID]; ok && tr.Status == domain.TrackingPending {
		tr.Status = st.TrackingStatus
		tr.LastChecked = &resolvedAt
		s.tracking[m.ID] = tr
	}
	for tok, held := range s.reservations {
		if held == m.ID {
			delete(s.reservations, tok)
		}
	}
	return nil
}

// ---- BetStore ----

// AddBet stores a bet and folds its amount into the market pools.
func (s *Store) AddBet(b domain.Bet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets[b.MarketID] = append(s.bets[b.MarketID], b)
	if m, ok := s.markets[b.MarketID]; ok {
		if b.Position == domain.PositionYes {
			m.YesPool = m.YesPool.Add(b.Amount)
		} else {
			m.NoPool = m.NoPool.Add(b.Amount)
		}
		s.markets[m.ID] = m
	}
}

// ListByMarket returns a market's bets in placement order.
func (s *Store) ListByMarket(_ context.Context, marketID string) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bets[marketID]), nil
}

// ---- TrackingStore ----

// Get returns a tracking row or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, marketID string) (domain.ResolutionTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tracking[marketID]
	if !ok {
		return domain.ResolutionTracking{}, domain.ErrNotFound
	}
	return tr, nil
}

// ListPending returns every pending row, oldest first.
func (s *Store) ListPending(_ context.Context) ([]domain.ResolutionTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ResolutionTracking
	for _, tr := range s.tracking {
		if tr.Status == domain.TrackingPending {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Touch records a check time on a pending row.
func (s *Store) Touch(_ context.Context, marketID string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tracking[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	tr.LastChecked = &checkedAt
	s.tracking[marketID] = tr
	return nil
}

// Close marks a pending row terminal.
func (s *Store) Close(_ context.Context, marketID string, status domain.TrackingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tracking[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	if tr.Status != domain.TrackingPending {
		return nil
	}
	tr.Status = status
	s.tracking[marketID] = tr
	return nil
}

// ---- EngineStateStore / ReservationStore ----

// LastMarketType returns the last created type.
func (s *Store) LastMarketType(_ context.Context) (domain.MarketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastType, nil
}

// ActiveTokens maps each token held by an active market to that market.
func (s *Store) ActiveTokens(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.reservations))
	for tok, marketID := range s.reservations {
		if s.markets[marketID].IsActive() {
			out[tok] = marketID
		}
	}
	return out, nil
}

// ---- AutomationLogStore ----

// Append adds a log entry, assigning an id when missing.
func (s *Store) Append(_ context.Context, entry domain.AutomatedMarketLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.logs = append(s.logs, entry)
	return nil
}

// List returns log entries newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AutomatedMarketLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.logs)
	slices.Reverse(out)
	return page(out, opts), nil
}

// ---- PayoutStore ----

// Payouts is the PayoutStore view of a Store.
type Payouts struct {
	s *Store
}

// Payouts returns the payout result view.
func (s *Store) Payouts() *Payouts {
	return &Payouts{s: s}
}

// Record appends payout results.
func (p *Payouts) Record(_ context.Context, results []domain.PayoutResult) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.payouts = append(p.s.payouts, results...)
	return nil
}

// ListByMarket returns the payouts of one market in record order.
func (p *Payouts) ListByMarket(_ context.Context, marketID string) ([]domain.PayoutResult, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []domain.PayoutResult
	for _, r := range p.s.payouts {
		if r.MarketID == marketID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListFailed returns failed payouts, newest first.
func (p *Payouts) ListFailed(_ context.Context, opts domain.ListOpts) ([]domain.PayoutResult, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []domain.PayoutResult
	for i := len(p.s.payouts) - 1; i >= 0; i-- {
		if !p.s.payouts[i].Succeeded() {
			out = append(out, p.s.payouts[i])
		}
	}
	return page(out, opts), nil
}

// ---- BalanceStore ----

// Credit adds amount to a user's ledger balance.
func (s *Store) Credit(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = s.balances[userID].Add(amount)
	return nil
}

// Balance returns a user's ledger balance.
func (s *Store) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func page[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && len(in) > opts.Limit {
		in = in[:opts.Limit]
	}
	return in
}

var (
	_ domain.MarketStore        = (*Store)(nil)
	_ domain.BetStore           = (*Store)(nil)
	_ domain.TrackingStore      = (*Store)(nil)
	_ domain.EngineStateStore   = (*Store)(nil)
	_ domain.ReservationStore   = (*Store)(nil)
	_ domain.AutomationLogStore = (*Store)(nil)
	_ domain.BalanceStore       = (*Store)(nil)
	_ domain.PayoutStore        = (*Payouts)(nil)
)
