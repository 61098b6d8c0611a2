package execution

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"straddle-core/internal/converge"
	"straddle-core/internal/order"
	"straddle-core/internal/strategy"
	exchange "straddle-core/pkg/exchanges/common"
)

// Outcome is how a convergence pass ended.
type Outcome string

const (
	OutcomeConverged        Outcome = "CONVERGED"
	OutcomeStuck            Outcome = "STUCK"
	OutcomeStalled          Outcome = "STALLED"
	OutcomeRejected         Outcome = "REJECTED"
	OutcomePriceUnavailable Outcome = "PRICE_UNAVAILABLE"
	OutcomeMaxIterations    Outcome = "MAX_ITERATIONS"
	OutcomeFault            Outcome = "FAULT"
)

// Batch is one pair of orders placed in an iteration.
type Batch struct {
	Iteration int   `json:"iteration"`
	LotsA     int64 `json:"lotsA"`
	LotsB     int64 `json:"lotsB"`
	QtyA      int64 `json:"qtyA"`
	QtyB      int64 `json:"qtyB"`
	Failed    int   `json:"failed"`
}

// Result summarizes one convergence pass.
type Result struct {
	Key        string    `json:"key"`
	ConfigID   string    `json:"configId"`
	Outcome    Outcome   `json:"outcome"`
	Iterations int       `json:"iterations"`
	Batches    []Batch   `json:"batches"`
	Detail     string    `json:"detail,omitempty"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

// ConvergeLegPair moves both legs toward QuantityLots in ratio-sized batches.
// Positions are re-read before every decision; the pass ends on convergence,
// a stall, a recent rejection, a missing price, or the iteration cap.
func (e *Engine) ConvergeLegPair(ctx context.Context, cfg strategy.Config) (res Result) {
	res = Result{Key: cfg.ExecutionKey(), ConfigID: cfg.ID, Started: e.now()}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("execution: ❌ panic in %s: %v\n%s", res.Key, r, debug.Stack())
			res.Outcome = OutcomeFault
			res.Detail = fmt.Sprint(r)
		}
		res.Finished = e.now()
	}()

	legA, legB := cfg.LegA, cfg.LegB
	lotA, lotB := e.lotSize(legA), e.lotSize(legB)
	signA, signB := legA.Side.Sign(), legB.Side.Sign()

	for iter := 1; iter <= e.opts.MaxIterations; iter++ {
		res.Iterations = iter

		netA := e.netUnits(legA.Exchange, legA.Token)
		netB := e.netUnits(legB.Exchange, legB.Token)
		remA := converge.RemainingLots(legA.QuantityLots, netA, signA, lotA)
		remB := converge.RemainingLots(legB.QuantityLots, netB, signB, lotB)

		log.Printf("execution: %s iter %d net lots A:%d B:%d remaining A:%d B:%d",
			res.Key, iter, converge.NetLots(netA, signA, lotA), converge.NetLots(netB, signB, lotB), remA, remB)

		if remA == 0 && remB == 0 {
			res.Outcome = OutcomeConverged
			return res
		}

		batch := Batch{
			Iteration: iter,
			LotsA:     converge.Min(legA.Ratio, remA),
			LotsB:     converge.Min(legB.Ratio, remB),
		}
		batch.QtyA = batch.LotsA * lotA
		batch.QtyB = batch.LotsB * lotB
		if batch.QtyA <= 0 && batch.QtyB <= 0 {
			res.Outcome = OutcomeStuck
			return res
		}

		priceA, priceB, err := e.resolvePrices(ctx, legA, legB, batch.QtyA > 0, batch.QtyB > 0)
		if err != nil {
			log.Printf("execution: ⚠️ %s price unavailable, nothing placed: %v", res.Key, err)
			res.Outcome = OutcomePriceUnavailable
			res.Detail = err.Error()
			return res
		}

		var reqs []exchange.OrderRequest
		if batch.QtyA > 0 {
			reqs = append(reqs, e.entryRequest(cfg, legA, batch.QtyA, priceA, "A"))
		}
		if batch.QtyB > 0 {
			reqs = append(reqs, e.entryRequest(cfg, legB, batch.QtyB, priceB, "B"))
		}
		placed := order.PlaceConcurrently(ctx, e.placer, reqs...)
		for _, p := range placed {
			if p.Err != nil {
				batch.Failed++
				log.Printf("execution: ⚠️ %s place %s %s x%d failed: %v", res.Key, p.Request.Side, p.Request.TradingSymbol, p.Request.Qty, p.Err)
			}
		}
		res.Batches = append(res.Batches, batch)

		if order.AllFailed(placed) {
			converge.Sleep(ctx, e.opts.RetryDelay)
			continue
		}

		changed := converge.Until(ctx, e.opts.PollInterval, e.opts.ConfirmTimeout, func() bool {
			return e.netUnits(legA.Exchange, legA.Token) != netA || e.netUnits(legB.Exchange, legB.Token) != netB
		})
		if !changed {
			log.Printf("execution: 🚨 %s position did not update; stopping to prevent duplicate execution", res.Key)
			res.Outcome = OutcomeStalled
			return res
		}

		if o, ok := e.recentRejection(legA, legB); ok {
			log.Printf("execution: 🚨 %s recent rejection on %s (%s); stopping", res.Key, o.TradingSymbol, o.RejectReason)
			res.Outcome = OutcomeRejected
			res.Detail = o.RejectReason
			return res
		}
	}

	res.Outcome = OutcomeMaxIterations
	return res
}

func (e *Engine) entryRequest(cfg strategy.Config, leg strategy.Leg, qty int64, price float64, tag string) exchange.OrderRequest {
	req := exchange.OrderRequest{
		StrategyID:    cfg.ID,
		Side:          leg.Side,
		Product:       cfg.Product(leg),
		Exchange:      leg.Exchange,
		TradingSymbol: leg.TradingSymbol,
		Token:         leg.Token,
		Qty:           qty,
		PriceType:     exchange.PriceMarket,
		Remarks:       "AUTO STRADDLE " + tag,
	}
	if e.opts.PriceMode == exchange.PriceLimit {
		req.PriceType = exchange.PriceLimit
		req.Price = price
	}
	return req
}

// resolvePrices fetches limit prices for the legs being traded. In MKT mode it is a no-op.
// Both prices must resolve or neither is used.
func (e *Engine) resolvePrices(ctx context.Context, a, b strategy.Leg, needA, needB bool) (float64, float64, error) {
	if e.opts.PriceMode != exchange.PriceLimit {
		return 0, 0, nil
	}
	var pa, pb float64
	var err error
	if needA {
		if pa, err = e.touchPrice(ctx, a); err != nil {
			return 0, 0, err
		}
	}
	if needB {
		if pb, err = e.touchPrice(ctx, b); err != nil {
			return 0, 0, err
		}
	}
	return pa, pb, nil
}

func (e *Engine) touchPrice(ctx context.Context, l strategy.Leg) (float64, error) {
	if e.quotes == nil {
		return 0, fmt.Errorf("no quote source for %s", l.Key())
	}
	q, err := e.quotes.GetQuote(ctx, l.Exchange, l.Token)
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", l.Key(), err)
	}
	price := q.BestBid
	if l.Side == exchange.SideBuy {
		price = q.BestAsk
	}
	if price <= 0 {
		return 0, fmt.Errorf("no %s-side price for %s", l.Side, l.Key())
	}
	return price, nil
}

// recentRejection finds a REJECTED order on either leg stamped within the reject window.
func (e *Engine) recentRejection(a, b strategy.Leg) (exchange.Order, bool) {
	cutoff := e.now().Add(-e.opts.RejectWindow)
	for _, o := range e.positions.Orders() {
		if !strings.EqualFold(o.Status, exchange.StatusRejected) {
			continue
		}
		if !onLeg(o, a) && !onLeg(o, b) {
			continue
		}
		ts := o.Timestamp()
		if ts.IsZero() || ts.Before(cutoff) {
			continue
		}
		return o, true
	}
	return exchange.Order{}, false
}

func onLeg(o exchange.Order, l strategy.Leg) bool {
	return strings.TrimSpace(o.Token) == l.Token && strings.EqualFold(strings.TrimSpace(o.Exchange), l.Exchange)
}
