package agent

import (
	"math"

	"replaybench/internal/config"
)

// Sizer stakes a prediction buy with fractional Kelly against a bankroll.
type Sizer struct {
	KellyFraction  float64
	MaxPositionPct float64
	MinBetAmount   float64
}

// SizerFromConfig returns the sizer for the threshold agent, or nil when
// kelly_fraction is zero and flat bets are used.
func SizerFromConfig(cfg config.ThresholdConfig) *Sizer {
	if cfg.KellyFraction <= 0 {
		return nil
	}
	return &Sizer{
		KellyFraction:  cfg.KellyFraction,
		MaxPositionPct: cfg.MaxPositionPct,
		MinBetAmount:   cfg.MinBetAmount,
	}
}

// Size returns the stake for buying outcome at yesPrice when the agent puts
// belief on that outcome winning. It returns 0 when there is no edge or the
// stake would fall under MinBetAmount.
//
// Kelly: f* = (bp - q) / b, where b is the net odds of the bet and p = belief.
func (s *Sizer) Size(outcome string, yesPrice, belief, bankroll float64) float64 {
	price := yesPrice
	if outcome == "NO" {
		price = 1 - yesPrice
	}
	if price <= 0 || price >= 1 || bankroll <= 0 {
		return 0
	}
	b := 1/price - 1
	f := (b*belief - (1 - belief)) / b
	if f <= 0 {
		return 0
	}

	amount := f * s.KellyFraction * bankroll
	if s.MaxPositionPct > 0 {
		amount = min(amount, s.MaxPositionPct*bankroll)
	}
	amount = math.Floor(min(amount, bankroll))
	if amount < s.MinBetAmount {
		return 0
	}
	return amount
}
