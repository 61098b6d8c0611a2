package rms

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"straddle-core/internal/converge"
	"straddle-core/internal/exchangedata"
	"straddle-core/internal/market"
	"straddle-core/internal/strategy"
	exchange "straddle-core/pkg/exchanges/common"
	"straddle-core/pkg/exchanges/noren"
)

// Valuation is what one recompute pass learned about a config.
type Valuation struct {
	// HasOpenPosition is true when either leg has a nonzero net quantity.
	HasOpenPosition bool
	// Priced is false when an open leg had no usable price; exit rules are skipped then.
	Priced bool
}

// valuate rewrites cfg's runtime block from the latest ticks, positions and trades.
func valuate(cfg *strategy.Config, ticks TickReader, positions []exchange.Position, trades []exchange.Trade, now time.Time) Valuation {
	v := Valuation{Priced: true}
	live, invested, pnl := decimal.Zero, decimal.Zero, decimal.Zero

	for _, leg := range cfg.Legs() {
		var net int64
		if p, ok := exchangedata.FindPosition(positions, leg.Exchange, leg.Token); ok {
			net = p.NetQty
		}
		if net == 0 {
			leg.ResetRuntime()
			continue
		}
		v.HasOpenPosition = true
		leg.OpenNetQty = net

		tick, hasTick := ticks.Get(leg.Exchange, leg.Token)
		exitPrice, ok := tick.ExitPrice(net)
		if !hasTick || !ok {
			v.Priced = false
			leg.ResetRuntime()
			leg.OpenNetQty = net
			continue
		}

		qty := decimal.NewFromInt(converge.Abs(net))
		avg := AvgPriceFromTrades(trades, leg.Exchange, leg.Token, net)
		legLive := decimal.NewFromFloat(exitPrice).Mul(qty)
		legInvested := avg.Mul(qty)
		legPnL := legLive.Sub(legInvested)
		if net < 0 {
			legPnL = legPnL.Neg()
		}

		leg.LivePrice = exitPrice
		leg.AvgEntryPrice = avg.InexactFloat64()
		leg.LiveValue = legLive.InexactFloat64()
		leg.InvestedValue = legInvested.InexactFloat64()
		leg.LivePnL = legPnL.InexactFloat64()

		live = live.Add(legLive)
		invested = invested.Add(legInvested)
		pnl = pnl.Add(legPnL)
	}

	updateUnderlying(cfg, ticks, now)

	cfg.LiveValue = live.InexactFloat64()
	cfg.InvestedValue = invested.InexactFloat64()
	cfg.TotalPnL = pnl.InexactFloat64()
	cfg.TotalPnLPct = 0
	if !invested.IsZero() {
		cfg.TotalPnLPct = pnl.Div(invested).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	cfg.Ratio = aggregateRatio(invested.Abs(), live.Abs())
	updateValueRatios(cfg)
	return v
}

// AvgPriceFromTrades is the volume-weighted price of the newest fills that make up
// the open position: trades on the position's side are walked newest first until
// |netQty| is covered. Older round trips on the same token are ignored.
func AvgPriceFromTrades(trades []exchange.Trade, exch, token string, netQty int64) decimal.Decimal {
	if netQty == 0 || len(trades) == 0 {
		return decimal.Zero
	}
	want := exchange.SideBuy
	if netQty < 0 {
		want = exchange.SideSell
	}

	matched := make([]exchange.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Token == token && strings.EqualFold(t.Exchange, exch) && t.Side == want && t.FilledQty > 0 {
			matched = append(matched, t)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ExchangeTime.After(matched[j].ExchangeTime)
	})

	remaining := converge.Abs(netQty)
	var qty int64
	value := decimal.Zero
	for _, t := range matched {
		if remaining <= 0 {
			break
		}
		used := t.FilledQty
		if used > remaining {
			used = remaining
		}
		value = value.Add(decimal.NewFromFloat(t.FilledPrice).Mul(decimal.NewFromInt(used)))
		qty += used
		remaining -= used
	}
	if qty == 0 {
		return decimal.Zero
	}
	return value.Div(decimal.NewFromInt(qty))
}

// updateValueRatios sets each leg's live value over the other leg's (0 when the other is 0).
func updateValueRatios(cfg *strategy.Config) {
	a := decimal.NewFromFloat(cfg.LegA.LiveValue).Abs()
	b := decimal.NewFromFloat(cfg.LegB.LiveValue).Abs()
	cfg.LegA.ValueRatio = ratioOf(a, b)
	cfg.LegB.ValueRatio = ratioOf(b, a)
}

func ratioOf(num, den decimal.Decimal) float64 {
	if den.IsZero() {
		return 0
	}
	return num.Div(den).InexactFloat64()
}

func aggregateRatio(x, y decimal.Decimal) float64 {
	hi, lo := decimal.Max(x, y), decimal.Min(x, y)
	return ratioOf(hi, lo)
}

// updateUnderlying latches the first underlying price and tracks the latest.
func updateUnderlying(cfg *strategy.Config, ticks TickReader, now time.Time) {
	tick, ok := ticks.Get(cfg.Exchange, cfg.Token)
	if !ok {
		return
	}
	lp, ok := tick.LTP()
	if !ok {
		return
	}
	now = now.In(noren.IST)
	cfg.LTP = lp
	if cfg.Underlying.EntryPrice <= 0 {
		cfg.Underlying.EntryPrice = lp
		cfg.Underlying.EntryTime = now
	}
	cfg.Underlying.LivePrice = lp
	cfg.Underlying.LiveTime = now
}

var _ TickReader = (*market.Snapshot)(nil)
