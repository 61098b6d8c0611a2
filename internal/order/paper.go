package order

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"straddle-core/internal/market"
	exchange "straddle-core/pkg/exchanges/common"
)

// QuoteBook is the snapshot the paper venue prices fills from.
type QuoteBook interface {
	Get(exch, token string) (market.MarketTick, bool)
}

// PaperVenue is an in-process venue for dry runs. Every order fills in full
// immediately at the touch, so positions move as soon as PlaceOrder returns.
type PaperVenue struct {
	quotes  QuoteBook
	lotSize func(exch, token string) int64

	mu        sync.Mutex
	positions map[string]*exchange.Position
	orders    []exchange.Order // newest first
	trades    []exchange.Trade // newest first

	now func() time.Time
}

var _ exchange.Venue = (*PaperVenue)(nil)

// NewPaperVenue creates a paper venue. lotSize may be nil.
func NewPaperVenue(quotes QuoteBook, lotSize func(exch, token string) int64) *PaperVenue {
	return &PaperVenue{
		quotes:    quotes,
		lotSize:   lotSize,
		positions: make(map[string]*exchange.Position),
		now:       time.Now,
	}
}

// PlaceOrder fills req at the opposite-side quote (MKT) or at its limit price (LMT).
// Orders with no price available are booked as REJECTED.
func (p *PaperVenue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderResult{}, err
	}
	if req.Qty <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("paper: non-positive quantity %d", req.Qty)
	}
	exch := strings.ToUpper(strings.TrimSpace(req.Exchange))
	price := req.Price
	if req.PriceType != exchange.PriceLimit || price <= 0 {
		if tick, ok := p.quotes.Get(exch, req.Token); ok {
			if px, ok := tick.EntryPrice(req.Side); ok {
				price = px
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	ord := exchange.Order{
		OrderID:       uuid.NewString(),
		Token:         req.Token,
		Exchange:      exch,
		TradingSymbol: req.TradingSymbol,
		Side:          req.Side,
		Qty:           req.Qty,
		Price:         req.Price,
		Time:          now,
	}

	if price <= 0 {
		ord.Status = exchange.StatusRejected
		ord.RejectReason = "no price available"
		p.orders = append([]exchange.Order{ord}, p.orders...)
		log.Printf("paper: ⚠️ rejected %s %s x%d: no price", req.Side, req.TradingSymbol, req.Qty)
		return exchange.OrderResult{OrderID: ord.OrderID, Status: ord.Status}, nil
	}

	ord.ExchangeOrderID = "P" + ord.OrderID[:8]
	ord.Status = exchange.StatusComplete
	ord.FilledQty = req.Qty
	ord.AvgPrice = price
	ord.ExchangeTime = now
	p.orders = append([]exchange.Order{ord}, p.orders...)
	p.trades = append([]exchange.Trade{{
		OrderID:         ord.OrderID,
		ExchangeOrderID: ord.ExchangeOrderID,
		FillID:          uuid.NewString(),
		Token:           req.Token,
		Exchange:        exch,
		Side:            req.Side,
		FilledQty:       req.Qty,
		FilledPrice:     price,
		ExchangeTime:    now,
	}}, p.trades...)
	p.applyFill(exch, req, price)

	return exchange.OrderResult{OrderID: ord.OrderID, Status: ord.Status}, nil
}

func (p *PaperVenue) applyFill(exch string, req exchange.OrderRequest, price float64) {
	key := exchange.Key(exch, req.Token)
	pos, ok := p.positions[key]
	if !ok {
		lot := int64(1)
		if p.lotSize != nil {
			lot = p.lotSize(exch, req.Token)
		}
		pos = &exchange.Position{
			Token:         req.Token,
			Exchange:      exch,
			TradingSymbol: req.TradingSymbol,
			LotSize:       lot,
			Product:       req.Product.Code(),
		}
		p.positions[key] = pos
	}

	delta := req.Qty * req.Side.Sign()
	next := pos.NetQty + delta
	switch {
	case next == 0:
		pos.AvgPrice = 0
	case pos.NetQty == 0 || (pos.NetQty > 0) != (next > 0):
		pos.AvgPrice = price
	case (pos.NetQty > 0) == (delta > 0):
		// adding to the position
		pos.AvgPrice = (pos.AvgPrice*math.Abs(float64(pos.NetQty)) + price*float64(req.Qty)) / math.Abs(float64(next))
	}
	pos.NetQty = next
}

func (p *PaperVenue) OrderBook(ctx context.Context) ([]exchange.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]exchange.Order(nil), p.orders...), nil
}

func (p *PaperVenue) TradeBook(ctx context.Context) ([]exchange.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]exchange.Trade(nil), p.trades...), nil
}

// PositionBook returns every position touched today, flat ones included.
func (p *PaperVenue) PositionBook(ctx context.Context) ([]exchange.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.positions))
	for k := range p.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]exchange.Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, *p.positions[k])
	}
	return out, nil
}

func (p *PaperVenue) GetQuote(ctx context.Context, exch, token string) (exchange.Quote, error) {
	tick, ok := p.quotes.Get(exch, token)
	if !ok {
		return exchange.Quote{}, fmt.Errorf("paper: no quote for %s", exchange.Key(exch, token))
	}
	q := exchange.Quote{Exchange: tick.Exchange, Token: tick.Token, Status: "Ok"}
	if tick.BidPrice != nil {
		q.BestBid = *tick.BidPrice
	}
	if tick.AskPrice != nil {
		q.BestAsk = *tick.AskPrice
	}
	if tick.LastPrice != nil {
		q.LastPrice = *tick.LastPrice
	}
	return q, nil
}

// TimePriceSeries synthesizes one-minute bars around the last known price.
// The same window always yields the same bars.
func (p *PaperVenue) TimePriceSeries(ctx context.Context, exch, token string, start, end time.Time) ([]exchange.Candle, error) {
	tick, ok := p.quotes.Get(exch, token)
	if !ok {
		return nil, nil
	}
	base, ok := tick.LTP()
	if !ok {
		return nil, nil
	}
	if now := p.now(); end.After(now) {
		end = now
	}

	h := fnv.New64a()
	h.Write([]byte(exchange.Key(exch, token)))
	seed := int64(h.Sum64())

	var out []exchange.Candle
	price := base
	for t := start.Truncate(time.Minute); !t.After(end); t = t.Add(time.Minute) {
		rng := rand.New(rand.NewSource(seed ^ t.Unix()))
		open := price
		closePx := open * (1 + (rng.Float64()*2-1)*0.001)
		high := math.Max(open, closePx) * (1 + rng.Float64()*0.0005)
		low := math.Min(open, closePx) * (1 - rng.Float64()*0.0005)
		out = append(out, exchange.Candle{
			Time: t, Open: open, High: high, Low: low, Close: closePx,
			Volume: float64(rng.Intn(1000)),
		})
		price = closePx
	}
	return out, nil
}
