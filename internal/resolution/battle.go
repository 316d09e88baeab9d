package resolution

import (
	"time"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Hit is the first candle at which a token crossed the battle target.
type Hit struct {
	At time.Time
	OK bool
}

// FirstHit scans candles in time order and returns the earliest one that
// crosses target before deadline: high >= target for races, low <= target
// for dumps.
func FirstHit(candles []domain.Candle, t domain.MarketType, target float64, deadline time.Time) Hit {
	var first Hit
	for _, c := range candles {
		if !c.Time.Before(deadline) {
			continue
		}
		crossed := c.High >= target
		if t == domain.MarketTypeBattleDump {
			crossed = c.Low <= target
		}
		if !crossed {
			continue
		}
		if !first.OK || c.Time.Before(first.At) {
			first = Hit{At: c.Time, OK: true}
		}
	}
	return first
}

// Verdict is the comparison of two first hits.
type Verdict int

const (
	NoHit Verdict = iota
	FirstWins
	SecondWins
	Tied
)

// Compare orders two first hits. The first token is the "yes" side.
func Compare(a, b Hit) Verdict {
	switch {
	case !a.OK && !b.OK:
		return NoHit
	case a.OK && !b.OK:
		return FirstWins
	case !a.OK && b.OK:
		return SecondWins
	case a.At.Before(b.At):
		return FirstWins
	case b.At.Before(a.At):
		return SecondWins
	default:
		return Tied
	}
}

// Outcome maps a decisive verdict to the market outcome.
func (v Verdict) Outcome() domain.Outcome {
	switch v {
	case FirstWins:
		return domain.OutcomeYes
	case SecondWins:
		return domain.OutcomeNo
	default:
		return domain.OutcomeRefunded
	}
}
