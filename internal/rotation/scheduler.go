// Package rotation creates automated markets. Each run picks the next type
// in the fixed cycle, finds an unreserved token (or a matched token pair for
// battles), computes the target and persists the market together with its
// resolution tracking row.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/metrics"
	"github.com/alanyoungcy/marketengine/internal/targets"
)

// globalLockKey serializes creation runs across processes.
const globalLockKey = "automation:create"

// Config holds the creation parameters.
type Config struct {
	MaxAttempts    int
	MatchTolerance float64
	Windows        map[domain.MarketType]time.Duration
	// Epoch is the length of one creation slot. The per-type lock for a slot
	// is held for this long after a successful creation.
	Epoch        time.Duration
	RunTimeout   time.Duration
	Category     string
	FetchTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    20,
		MatchTolerance: 0.30,
		Windows: map[domain.MarketType]time.Duration{
			domain.MarketTypeMarketCap:  120 * time.Minute,
			domain.MarketTypeVolume:     24 * time.Hour,
			domain.MarketTypeHolders:    24 * time.Hour,
			domain.MarketTypeBattleRace: 72 * time.Hour,
			domain.MarketTypeBattleDump: 72 * time.Hour,
		},
		Epoch:        6 * time.Hour,
		RunTimeout:   5 * time.Minute,
		Category:     "crypto",
		FetchTimeout: 15 * time.Second,
	}
}

// Deps are the collaborators a Scheduler needs.
type Deps struct {
	Feed         domain.TokenFeed
	Markets      domain.MarketStore
	State        domain.EngineStateStore
	Reservations domain.ReservationStore
	Logs         domain.AutomationLogStore
	Locks        domain.LockManager
	Images       domain.ImageCompositor
	Events       domain.EventPublisher
	Targets      *targets.Calculator
}

// Scheduler runs market creation.
type Scheduler struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Scheduler.
func New(deps Deps, cfg Config, logger *slog.Logger) *Scheduler {
	if deps.Targets == nil {
		deps.Targets = targets.NewCalculator(targets.DefaultLadders())
	}
	return &Scheduler{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "rotation")),
		now:    time.Now,
	}
}

// RunLoop runs a creation immediately and then on every interval until ctx
// is cancelled.
func (s *Scheduler) RunLoop(ctx context.Context, interval time.Duration) error {
	s.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rotation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	entry, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		s.logger.InfoContext(ctx, "creation run skipped, another run holds the lock")
	case err != nil:
		s.logger.WarnContext(ctx, "creation run failed",
			slog.String("market_type", string(entry.QuestionType)),
			slog.String("error", err.Error()),
		)
	default:
		s.logger.InfoContext(ctx, "market created",
			slog.String("market_id", entry.MarketID),
			slog.String("market_type", string(entry.QuestionType)),
		)
	}
}

// RunOnce performs one creation run and returns its log entry. A run that
// could not take the creation locks returns domain.ErrLockHeld and writes no
// log entry; every other run writes exactly one.
func (s *Scheduler) RunOnce(ctx context.Context) (domain.AutomatedMarketLog, error) {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	unlock, err := s.deps.Locks.Acquire(ctx, globalLockKey, s.lockTTL())
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			metrics.CreationRuns.WithLabelValues("", "skipped").Inc()
		}
		return domain.AutomatedMarketLog{}, fmt.Errorf("rotation: acquire creation lock: %w", err)
	}
	defer unlock()

	now := s.now()
	prev, err := s.deps.State.LastMarketType(ctx)
	if err != nil {
		return domain.AutomatedMarketLog{}, fmt.Errorf("rotation: read last market type: %w", err)
	}
	next := NextType(prev)

	releaseSlot, err := s.deps.Locks.Acquire(ctx, s.slotKey(next, now), s.cfg.Epoch)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			metrics.CreationRuns.WithLabelValues(string(next), "skipped").Inc()
		}
		return domain.AutomatedMarketLog{QuestionType: next}, fmt.Errorf("rotation: acquire %s slot: %w", next, err)
	}

	entry := domain.AutomatedMarketLog{
		ID:            uuid.NewString(),
		ExecutionTime: now,
		QuestionType:  next,
	}

	var created domain.Market
	if next.IsBattle() {
		created, err = s.createBattle(ctx, next, prev, now)
	} else {
		created, err = s.createSingle(ctx, next, prev, now)
	}

	if err != nil {
		// Only a successful creation keeps the slot claimed.
		releaseSlot()
		entry.Success = false
		entry.ErrorMessage = err.Error()
		metrics.CreationRuns.WithLabelValues(string(next), "failure").Inc()
	} else {
		entry.Success = true
		entry.MarketID = created.ID
		entry.TokenAddress = created.TokenAddress
		entry.TokenAddress2 = created.TokenAddress2
		metrics.CreationRuns.WithLabelValues(string(next), "success").Inc()
	}

	if logErr := s.deps.Logs.Append(ctx, entry); logErr != nil {
		s.logger.ErrorContext(ctx, "failed to append automation log",
			slog.String("error", logErr.Error()),
		)
	}

	if err != nil {
		return entry, err
	}

	s.deps.Events.Publish(ctx, domain.LifecycleEvent{
		Type:       domain.EventMarketCreated,
		MarketID:   created.ID,
		MarketType: next,
		Detail: map[string]any{
			"question":   created.Question,
			"expires_at": created.ExpiresAt,
		},
		At: now,
	})
	return entry, nil
}

func (s *Scheduler) lockTTL() time.Duration {
	if s.cfg.RunTimeout > 0 {
		return s.cfg.RunTimeout + time.Minute
	}
	return 10 * time.Minute
}

func (s *Scheduler) slotKey(t domain.MarketType, now time.Time) string {
	epoch := int64(0)
	if s.cfg.Epoch > 0 {
		epoch = now.Truncate(s.cfg.Epoch).Unix()
	}
	return globalLockKey + ":" + string(t) + ":" + strconv.FormatInt(epoch, 10)
}

// candidates fetches the feed listing and the current reservations.
func (s *Scheduler) candidates(ctx context.Context) ([]domain.TokenCandidate, map[string]string, error) {
	fctx := ctx
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}
	cands, err := s.deps.Feed.Candidates(fctx)
	if err != nil {
		return nil, nil, fmt.Errorf("rotation: list candidates: %w", err)
	}
	reserved, err := s.deps.Reservations.ActiveTokens(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("rotation: list reservations: %w", err)
	}
	return cands, reserved, nil
}

// usable reports why a candidate cannot be used, or "" when it can.
func usable(c domain.TokenCandidate, reserved map[string]string) string {
	if !c.HasMetadata() {
		return "metadata"
	}
	if _, ok := reserved[c.Address]; ok {
		return "reserved"
	}
	return ""
}

func (s *Scheduler) createSingle(ctx context.Context, t domain.MarketType, prev domain.MarketType, now time.Time) (domain.Market, error) {
	cands, reserved, err := s.candidates(ctx)
	if err != nil {
		return domain.Market{}, err
	}

	skip := func(c domain.TokenCandidate) bool {
		reason := usable(c, reserved)
		if reason == "" {
			if _, err := s.deps.Targets.ForCandidate(t, c); err != nil {
				reason = "ineligible"
			}
		}
		if reason != "" {
			metrics.CandidatesSkipped.WithLabelValues(reason).Inc()
			return true
		}
		return false
	}

	window := s.cfg.Windows[t]
	for c := range Filter(Limit(slices.Values(cands), s.cfg.MaxAttempts), skip) {
		target, _ := s.deps.Targets.ForCandidate(t, c)
		m := s.newMarket(singleQuestion(t, c, target, window), window, now)
		m.TokenAddress = c.Address
		m.ImageURL = c.ImageURL

		err := s.persist(ctx, m, t, target, prev)
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Reserved by a concurrent creation since the scan.
			reserved[c.Address] = ""
			continue
		}
		if err != nil {
			return domain.Market{}, err
		}
		return m, nil
	}
	return domain.Market{}, fmt.Errorf("rotation: %s: no usable token in %d attempts: %w",
		t, s.cfg.MaxAttempts, domain.ErrNoCandidate)
}

func (s *Scheduler) createBattle(ctx context.Context, t domain.MarketType, prev domain.MarketType, now time.Time) (domain.Market, error) {
	cands, reserved, err := s.candidates(ctx)
	if err != nil {
		return domain.Market{}, err
	}

	skip := func(c domain.TokenCandidate) bool {
		reason := usable(c, reserved)
		if reason == "" && c.MarketCap <= 0 {
			reason = "ineligible"
		}
		if reason != "" {
			metrics.CandidatesSkipped.WithLabelValues(reason).Inc()
			return true
		}
		return false
	}
	pool := slices.Collect(Filter(slices.Values(cands), skip))

	window := s.cfg.Windows[t]
	for a, b := range Pairs(pool) {
		if !Match(a, b, now, s.cfg.MatchTolerance) {
			continue
		}
		if _, taken := reserved[a.Address]; taken {
			continue
		}
		if _, taken := reserved[b.Address]; taken {
			continue
		}
		target, err := s.deps.Targets.ForPair(t, a, b)
		if err != nil {
			return domain.Market{}, err
		}

		m := s.newMarket(battleQuestion(t, a, b, target), window, now)
		m.TokenAddress = a.Address
		m.TokenAddress2 = b.Address

		if a.ImageURL == "" || b.ImageURL == "" {
			return domain.Market{}, fmt.Errorf("rotation: battle %s vs %s: %w", a.Label(), b.Label(), domain.ErrMissingImage)
		}
		img, err := s.deps.Images.Composite(ctx, m.ID, a.ImageURL, b.ImageURL)
		if err != nil {
			return domain.Market{}, fmt.Errorf("rotation: composite battle image: %w", err)
		}
		m.ImageURL = img

		err = s.persist(ctx, m, t, target, prev)
		if err != nil {
			// Drop the image of a market that was not persisted.
			if derr := s.deps.Images.Discard(ctx, m.ID); derr != nil {
				s.logger.WarnContext(ctx, "failed to discard battle image",
					slog.String("market_id", m.ID),
					slog.String("error", derr.Error()),
				)
			}
		}
		if errors.Is(err, domain.ErrAlreadyExists) {
			reserved[a.Address] = ""
			reserved[b.Address] = ""
			continue
		}
		if err != nil {
			return domain.Market{}, err
		}
		return m, nil
	}
	return domain.Market{}, fmt.Errorf("rotation: %s: no matching pair among %d candidates: %w",
		t, len(pool), domain.ErrNoCandidate)
}

// Match reports whether two tokens are close enough in market cap and age
// to battle. Two unknown ages always match.
func Match(a, b domain.TokenCandidate, now time.Time, tolerance float64) bool {
	if relDiff(a.MarketCap, b.MarketCap) > tolerance {
		return false
	}
	ageA, ageB := a.AgeHours(now), b.AgeHours(now)
	if ageA == 0 && ageB == 0 {
		return true
	}
	return relDiff(ageA, ageB) <= tolerance
}

func relDiff(x, y float64) float64 {
	avg := (x + y) / 2
	if avg == 0 {
		return 0
	}
	return math.Abs(x-y) / avg
}

func (s *Scheduler) newMarket(question string, window time.Duration, now time.Time) domain.Market {
	expires := now.Add(window)
	return domain.Market{
		ID:          uuid.NewString(),
		Question:    question,
		Category:    s.cfg.Category,
		Status:      domain.MarketStatusActive,
		YesPool:     decimal.Zero,
		NoPool:      decimal.Zero,
		Probability: 50,
		ExpiresAt:   &expires,
		PayoutType:  domain.PayoutProportional,
		IsAutomated: true,
		CreatedAt:   now,
	}
}

func (s *Scheduler) persist(ctx context.Context, m domain.Market, t domain.MarketType, target float64, prev domain.MarketType) error {
	err := s.deps.Markets.Create(ctx, domain.MarketCreation{
		Market: m,
		Tracking: domain.ResolutionTracking{
			MarketID:      m.ID,
			MarketType:    t,
			TargetValue:   target,
			TokenAddress:  m.TokenAddress,
			TokenAddress2: m.TokenAddress2,
			Status:        domain.TrackingPending,
			CreatedAt:     m.CreatedAt,
		},
		PreviousType: prev,
	})
	if err != nil {
		return fmt.Errorf("rotation: create market %s: %w", m.ID, err)
	}
	return nil
}
