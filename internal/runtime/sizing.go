package runtime

import (
	"math"
	"strings"

	"straddle-core/internal/converge"
)

// maxRatio is the largest ratio weight a leg may carry.
const maxRatio = 9

// derivativeExchanges are the segments whose legs roll strikes.
var derivativeExchanges = map[string]bool{"NFO": true, "BFO": true, "MCX": true}

// indexSymbols names the underlying of well-known index tokens.
var indexSymbols = map[string]string{
	"NSE|26000": "NIFTY",
	"BSE|1":     "SENSEX",
	"NSE|26009": "BANKNIFTY",
}

// IsDerivative reports whether legs on exch are option/future contracts.
func IsDerivative(exch string) bool {
	return derivativeExchanges[strings.ToUpper(strings.TrimSpace(exch))]
}

// TargetStrike offsets spot by otmPct percent (down for PE, up otherwise) and
// rounds to the nearest step.
func TargetStrike(spot, otmPct float64, optionType string, step float64) float64 {
	diff := spot * otmPct / 100
	strike := spot + diff
	if strings.EqualFold(optionType, "PE") {
		strike = spot - diff
	}
	return RoundStrike(strike, step)
}

// RoundStrike rounds v to the nearest multiple of step.
func RoundStrike(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step) * step
}

// LegQuantity sizes a leg in lots from a notional amount. A fractional part
// above one half rounds up; anything else rounds down.
func LegQuantity(amount, price float64, lotSize int64) (int64, bool) {
	if amount <= 0 || price <= 0 || lotSize <= 0 {
		return 0, false
	}
	raw := amount / (float64(lotSize) * price)
	whole := math.Floor(raw)
	if raw-whole > 0.5 {
		whole++
	}
	return int64(whole), true
}

// NormalizeRatios reduces two lot quantities to integer ratio weights: divided by
// their GCD, scaled down by ceil(max/9) when the larger exceeds 9, floored at 1.
func NormalizeRatios(qtyA, qtyB int64) (int64, int64) {
	g := converge.GCD(qtyA, qtyB)
	if g == 0 {
		return 1, 1
	}
	ra, rb := converge.Abs(qtyA)/g, converge.Abs(qtyB)/g
	if hi := converge.Max(ra, rb); hi > maxRatio {
		scale := (hi + maxRatio - 1) / maxRatio
		ra, rb = ra/scale, rb/scale
	}
	return converge.Max(ra, 1), converge.Max(rb, 1)
}
