package market

import (
	"time"

	exchange "straddle-core/pkg/exchanges/common"
	noren "straddle-core/pkg/market/noren"
)

// MarketTick is the last known quote for one (exchange, token).
// A nil field was never carried by any update for that key.
type MarketTick struct {
	Exchange  string    `json:"e"`
	Token     string    `json:"tk"`
	LastPrice *float64  `json:"lp,omitempty"`
	ChangePct *float64  `json:"pc,omitempty"`
	Volume    *float64  `json:"v,omitempty"`
	Open      *float64  `json:"o,omitempty"`
	High      *float64  `json:"h,omitempty"`
	Low       *float64  `json:"l,omitempty"`
	Close     *float64  `json:"c,omitempty"`
	AvgPrice  *float64  `json:"ap,omitempty"`
	OI        *float64  `json:"oi,omitempty"`
	PrevOI    *float64  `json:"poi,omitempty"`
	TotalOI   *float64  `json:"toi,omitempty"`
	BidQty    *float64  `json:"bq1,omitempty"`
	BidPrice  *float64  `json:"bp1,omitempty"`
	AskQty    *float64  `json:"sq1,omitempty"`
	AskPrice  *float64  `json:"sp1,omitempty"`
	UpdatedAt time.Time `json:"ts"`
}

// F returns a pointer to v, for building ticks.
func F(v float64) *float64 { return &v }

// Key returns the snapshot key of the tick.
func (t MarketTick) Key() string { return exchange.Key(t.Exchange, t.Token) }

// Merge overlays the fields carried by u onto t. Fields absent in u keep t's value.
// Pointers from u are copied so the result never aliases the update.
func (t MarketTick) Merge(u MarketTick) MarketTick {
	out := t
	if out.Exchange == "" {
		out.Exchange = u.Exchange
	}
	if out.Token == "" {
		out.Token = u.Token
	}
	overlay(&out.LastPrice, u.LastPrice)
	overlay(&out.ChangePct, u.ChangePct)
	overlay(&out.Volume, u.Volume)
	overlay(&out.Open, u.Open)
	overlay(&out.High, u.High)
	overlay(&out.Low, u.Low)
	overlay(&out.Close, u.Close)
	overlay(&out.AvgPrice, u.AvgPrice)
	overlay(&out.OI, u.OI)
	overlay(&out.PrevOI, u.PrevOI)
	overlay(&out.TotalOI, u.TotalOI)
	overlay(&out.BidQty, u.BidQty)
	overlay(&out.BidPrice, u.BidPrice)
	overlay(&out.AskQty, u.AskQty)
	overlay(&out.AskPrice, u.AskPrice)
	if u.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = u.UpdatedAt
	}
	return out
}

func overlay(dst **float64, src *float64) {
	if src == nil {
		return
	}
	v := *src
	*dst = &v
}

func positive(p *float64) (float64, bool) {
	if p == nil || *p <= 0 {
		return 0, false
	}
	return *p, true
}

// LTP returns the last traded price when known.
func (t MarketTick) LTP() (float64, bool) { return positive(t.LastPrice) }

// ExitPrice is the price a position of netQty would close at:
// best bid for longs, best ask for shorts, last price when that side is empty.
func (t MarketTick) ExitPrice(netQty int64) (float64, bool) {
	switch {
	case netQty > 0:
		if p, ok := positive(t.BidPrice); ok {
			return p, true
		}
	case netQty < 0:
		if p, ok := positive(t.AskPrice); ok {
			return p, true
		}
	default:
		return 0, false
	}
	return t.LTP()
}

// EntryPrice is the price an order on side would pay: ask for BUY, bid for SELL,
// last price when that side is empty.
func (t MarketTick) EntryPrice(side exchange.Side) (float64, bool) {
	src := t.BidPrice
	if side == exchange.SideBuy {
		src = t.AskPrice
	}
	if p, ok := positive(src); ok {
		return p, true
	}
	return t.LTP()
}

// FromStream converts a venue stream frame into a partial tick.
func FromStream(st noren.Tick) MarketTick {
	ts := st.FeedTime
	if ts.IsZero() {
		ts = time.Now()
	}
	return MarketTick{
		Exchange:  st.Exchange,
		Token:     st.Token,
		LastPrice: st.LP,
		ChangePct: st.PC,
		Volume:    st.Volume,
		Open:      st.Open,
		High:      st.High,
		Low:       st.Low,
		Close:     st.Close,
		AvgPrice:  st.AvgPrice,
		OI:        st.OI,
		PrevOI:    st.PrevOI,
		TotalOI:   st.TotalOI,
		BidQty:    st.BidQty,
		BidPrice:  st.BidPrice,
		AskQty:    st.AskQty,
		AskPrice:  st.AskPrice,
		UpdatedAt: ts,
	}
}
