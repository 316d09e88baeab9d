// Package targets derives resolution targets for automated markets from live
// token metrics. Every function is pure.
package targets

import (
	"fmt"
	"math"
	"slices"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// MinHolders is the smallest holder count a holders market accepts.
const MinHolders = 100

// dumpStep is the rounding unit and floor for battle dump targets.
const dumpStep = 100_000

// Ladders holds the milestone ladders used for each metric.
type Ladders struct {
	MarketCap []float64
	Volume    []float64
	Holders   []float64
}

// DefaultLadders returns the standard milestone ladders.
func DefaultLadders() Ladders {
	money := []float64{
		250_000, 500_000, 750_000,
		1_000_000, 2_000_000, 3_000_000, 5_000_000,
		10_000_000, 20_000_000, 50_000_000, 100_000_000,
	}
	return Ladders{
		MarketCap: money,
		Volume:    slices.Clone(money),
		Holders: []float64{
			250, 500, 750, 1_000, 2_000, 3_000, 5_000,
			10_000, 20_000, 50_000, 100_000,
		},
	}
}

// Calculator computes targets against a fixed set of ladders.
type Calculator struct {
	ladders Ladders
}

// NewCalculator returns a Calculator using sorted copies of the ladders.
func NewCalculator(l Ladders) *Calculator {
	sorted := func(in []float64) []float64 {
		out := slices.Clone(in)
		slices.Sort(out)
		return out
	}
	return &Calculator{ladders: Ladders{
		MarketCap: sorted(l.MarketCap),
		Volume:    sorted(l.Volume),
		Holders:   sorted(l.Holders),
	}}
}

// RoundUpToMilestone returns the first milestone >= value, or the largest
// milestone when value exceeds all of them. milestones must be sorted
// ascending. An empty ladder yields 0.
func RoundUpToMilestone(value float64, milestones []float64) float64 {
	if len(milestones) == 0 {
		return 0
	}
	for _, m := range milestones {
		if m >= value {
			return m
		}
	}
	return milestones[len(milestones)-1]
}

// exceedsLadder reports whether value is above every milestone.
func exceedsLadder(value float64, milestones []float64) bool {
	return len(milestones) == 0 || value > milestones[len(milestones)-1]
}

// MarketCap returns the doubling target for a market-cap market.
func (c *Calculator) MarketCap(current float64) (float64, error) {
	return doublingTarget("market cap", current, c.ladders.MarketCap)
}

// Volume returns the doubling target for a 24h volume market.
func (c *Calculator) Volume(current float64) (float64, error) {
	return doublingTarget("volume", current, c.ladders.Volume)
}

func doublingTarget(metric string, current float64, ladder []float64) (float64, error) {
	if current <= 0 {
		return 0, fmt.Errorf("targets: %s %.0f: %w", metric, current, domain.ErrIneligible)
	}
	doubled := 2 * current
	if exceedsLadder(doubled, ladder) {
		return 0, fmt.Errorf("targets: %s %.0f beyond ladder: %w", metric, current, domain.ErrIneligible)
	}
	return RoundUpToMilestone(doubled, ladder), nil
}

// Holders returns the target for a holders market. The holder ladder clamps
// to its maximum instead of rejecting large tokens.
func (c *Calculator) Holders(current int64) (float64, error) {
	if current < MinHolders {
		return 0, fmt.Errorf("targets: %d holders below %d: %w", current, MinHolders, domain.ErrIneligible)
	}
	cur := float64(current)
	target := RoundUpToMilestone(2*cur, c.ladders.Holders)
	if target <= cur {
		bumped := math.Ceil(cur * 11 / 10)
		target = RoundUpToMilestone(bumped, c.ladders.Holders)
		if target <= cur {
			// Ladder exhausted; keep the target strictly above current.
			target = bumped
		}
	}
	return target, nil
}

// BattleRace returns the shared target for a race between two tokens.
func (c *Calculator) BattleRace(mc1, mc2 float64) float64 {
	return RoundUpToMilestone(2*math.Min(mc1, mc2), c.ladders.MarketCap)
}

// BattleDump returns the shared floor for a dump battle: half the smaller
// market cap, rounded to the nearest 100K and never below 100K.
func (c *Calculator) BattleDump(mc1, mc2 float64) float64 {
	half := math.Min(mc1*0.5, mc2*0.5)
	target := math.Round(half/dumpStep) * dumpStep
	return math.Max(target, dumpStep)
}

// ForCandidate computes the single-token target for t from the candidate's
// listed metrics.
func (c *Calculator) ForCandidate(t domain.MarketType, cand domain.TokenCandidate) (float64, error) {
	switch t {
	case domain.MarketTypeMarketCap:
		return c.MarketCap(cand.MarketCap)
	case domain.MarketTypeVolume:
		return c.Volume(cand.Volume24h)
	case domain.MarketTypeHolders:
		return c.Holders(cand.Holders)
	default:
		return 0, fmt.Errorf("targets: %s is not a single-token type", t)
	}
}

// ForPair computes the shared target for a battle type.
func (c *Calculator) ForPair(t domain.MarketType, a, b domain.TokenCandidate) (float64, error) {
	switch t {
	case domain.MarketTypeBattleRace:
		return c.BattleRace(a.MarketCap, b.MarketCap), nil
	case domain.MarketTypeBattleDump:
		return c.BattleDump(a.MarketCap, b.MarketCap), nil
	default:
		return 0, fmt.Errorf("targets: %s is not a battle type", t)
	}
}
