package rotation

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/targets"
)

// NextType returns the successor of last in the creation cycle, or the
// first type when last is empty or unknown.
func NextType(last domain.MarketType) domain.MarketType {
	cycle := domain.MarketTypeCycle
	for i, t := range cycle {
		if t == last {
			return cycle[(i+1)%len(cycle)]
		}
	}
	return cycle[0]
}

// singleQuestion renders the question for a single-token market.
func singleQuestion(t domain.MarketType, c domain.TokenCandidate, target float64, window time.Duration) string {
	within := describeWindow(window)
	switch t {
	case domain.MarketTypeVolume:
		return fmt.Sprintf("Will %s reach $%s in 24h trading volume within %s?", c.Label(), targets.Format(target), within)
	case domain.MarketTypeHolders:
		return fmt.Sprintf("Will %s reach %s holders within %s?", c.Label(), targets.Format(target), within)
	default:
		return fmt.Sprintf("Will %s reach a $%s market cap within %s?", c.Label(), targets.Format(target), within)
	}
}

// battleQuestion renders the question for a battle market. The first token
// is the "yes" side.
func battleQuestion(t domain.MarketType, a, b domain.TokenCandidate, target float64) string {
	if t == domain.MarketTypeBattleDump {
		return fmt.Sprintf("Will %s drop to a $%s market cap before %s?", a.Label(), targets.Format(target), b.Label())
	}
	return fmt.Sprintf("Will %s reach a $%s market cap before %s?", a.Label(), targets.Format(target), b.Label())
}

func describeWindow(d time.Duration) string {
	switch {
	case d >= 48*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%d days", int(d/(24*time.Hour)))
	case d >= 2*time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d == time.Hour:
		return "1 hour"
	default:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
}
