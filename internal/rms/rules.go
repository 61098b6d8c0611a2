package rms

import (
	"math"

	"straddle-core/internal/strategy"
)

// Rules are the exit thresholds shared by every tracked config.
type Rules struct {
	RatioThreshold    float64
	UnderlyingMovePct float64
}

// DefaultRules returns the production thresholds.
func DefaultRules() Rules {
	return Rules{RatioThreshold: 1.25, UnderlyingMovePct: 2}
}

// CheckExit evaluates the exit rules in priority order and returns the first
// reason that fires. Configs that are already exiting or exited never fire.
func (r Rules) CheckExit(cfg *strategy.Config) (string, bool) {
	if cfg.ExitStatus != strategy.ExitActive {
		return "", false
	}
	if r.ratioBreached(cfg) {
		return strategy.ReasonRatioThreshold, true
	}
	if r.underlyingMoved(cfg) {
		return strategy.ReasonUnderlyingMove, true
	}
	return pnlExit(cfg)
}

func (r Rules) ratioBreached(cfg *strategy.Config) bool {
	if r.RatioThreshold <= 0 {
		return false
	}
	for _, l := range cfg.Legs() {
		if l.ValueRatio >= r.RatioThreshold {
			return true
		}
	}
	return false
}

func (r Rules) underlyingMoved(cfg *strategy.Config) bool {
	u := cfg.Underlying
	if r.UnderlyingMovePct <= 0 || u.EntryPrice <= 0 || u.LivePrice <= 0 {
		return false
	}
	move := math.Abs(u.LivePrice-u.EntryPrice) / u.EntryPrice * 100
	return move >= r.UnderlyingMovePct
}

func pnlExit(cfg *strategy.Config) (string, bool) {
	if cfg.ProfitBookingPct > 0 && cfg.TotalPnLPct >= cfg.ProfitBookingPct {
		return strategy.ReasonProfitBooking, true
	}
	if cfg.StoplossBookingPct > 0 && cfg.TotalPnLPct <= -cfg.StoplossBookingPct {
		return strategy.ReasonStoplossBooking, true
	}
	return "", false
}
