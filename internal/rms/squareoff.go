package rms

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"straddle-core/internal/converge"
	"straddle-core/internal/events"
	"straddle-core/internal/exchangedata"
	"straddle-core/internal/order"
	"straddle-core/internal/strategy"
	exchange "straddle-core/pkg/exchanges/common"
)

// ExitOutcome is how an exit convergence ended.
type ExitOutcome string

const (
	ExitFlat           ExitOutcome = "FLAT"
	ExitSingleLegFlat  ExitOutcome = "SINGLE_LEG_FLAT"
	ExitLotSizeMissing ExitOutcome = "LOT_SIZE_MISSING"
	ExitBelowOneLot    ExitOutcome = "BELOW_ONE_LOT"
	ExitStalled        ExitOutcome = "STALLED"
	ExitMaxIterations  ExitOutcome = "MAX_ITERATIONS"
	ExitFault          ExitOutcome = "FAULT"
)

// ExitBatch is one pair of closing orders.
type ExitBatch struct {
	Iteration int   `json:"iteration"`
	RatioMode bool  `json:"ratioMode"`
	NetA      int64 `json:"netA"`
	NetB      int64 `json:"netB"`
	QtyA      int64 `json:"qtyA"`
	QtyB      int64 `json:"qtyB"`
}

// ExitResult summarizes one exit convergence.
type ExitResult struct {
	ConfigID   string      `json:"configId"`
	Reason     string      `json:"reason"`
	Outcome    ExitOutcome `json:"outcome"`
	Iterations int         `json:"iterations"`
	Batches    []ExitBatch `json:"batches"`
	Started    time.Time   `json:"started"`
	Finished   time.Time   `json:"finished"`
}

// SquareOff exits config id synchronously. It fails with ErrExitInProgress when
// another exit holds the config and with ErrAlreadyExited when it is already EXITED.
func (e *Engine) SquareOff(ctx context.Context, id, reason string) (ExitResult, error) {
	release, ok := e.exits.TryAcquire(id)
	if !ok {
		log.Printf("rms: ⚠️ exit already locked %s", id)
		return ExitResult{}, fmt.Errorf("%w: %s", ErrExitInProgress, id)
	}
	defer release()
	return e.runExit(context.WithoutCancel(ctx), id, reason)
}

// trigger starts an exit in the background. It reports false when the lock is taken.
func (e *Engine) trigger(ctx context.Context, id, reason string) bool {
	release, ok := e.exits.TryAcquire(id)
	if !ok {
		log.Printf("rms: ⚠️ exit already locked %s", id)
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer release()
		if _, err := e.runExit(context.WithoutCancel(ctx), id, reason); err != nil {
			log.Printf("rms: exit %s not run: %v", id, err)
		}
	}()
	return true
}

// runExit must be called with the exit lock of id held.
func (e *Engine) runExit(ctx context.Context, id, reason string) (ExitResult, error) {
	e.mu.Lock()
	cfg, ok := e.tracked[id]
	if !ok {
		e.mu.Unlock()
		return ExitResult{}, fmt.Errorf("%w: %s", ErrUnknownConfig, id)
	}
	if cfg.ExitStatus == strategy.ExitExited {
		e.mu.Unlock()
		return ExitResult{}, fmt.Errorf("%w: %s", ErrAlreadyExited, id)
	}
	if cfg.ExitStatus == strategy.ExitActive {
		cfg.ExitReason = reason
	}
	cfg.ExitStatus = cfg.ExitStatus.Advance(strategy.ExitExiting)
	snap := *cfg
	e.mu.Unlock()

	log.Printf("rms: 🚨 exit (%s) %s [%s]", reason, id, snap.StrategyName)
	if e.metrics != nil {
		e.metrics.IncrementExits()
	}
	e.persist(ctx, snap)
	e.publish(events.EventExitTriggered, events.ExitNotice{
		ConfigID: id, StrategyName: snap.StrategyName, Reason: reason,
		Status: string(strategy.ExitExiting), At: e.now(),
	})

	res := e.RatioClose(ctx, snap, reason)

	e.mu.Lock()
	if cur, ok := e.tracked[id]; ok {
		cur.ExitStatus = cur.ExitStatus.Advance(strategy.ExitExited)
		cur.ExitOutcome = string(res.Outcome)
		snap = *cur
	} else {
		snap.ExitStatus = strategy.ExitExited
		snap.ExitOutcome = string(res.Outcome)
	}
	e.mu.Unlock()

	e.persist(ctx, snap)
	e.publish(events.EventExitCompleted, events.ExitNotice{
		ConfigID: id, StrategyName: snap.StrategyName, Reason: reason,
		Status: string(strategy.ExitExited), Iterations: res.Iterations,
		Outcome: string(res.Outcome), At: e.now(),
	})
	log.Printf("rms: exit %s finished %s after %d iterations", id, res.Outcome, res.Iterations)
	return res, nil
}

// RatioClose flattens both legs in ratio-preserving batches. It never closes one leg
// alone: once either leg is flat while the other is open, it stops.
func (e *Engine) RatioClose(ctx context.Context, cfg strategy.Config, reason string) (res ExitResult) {
	res = ExitResult{ConfigID: cfg.ID, Reason: reason, Started: e.now()}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rms: ❌ exit %s panicked: %v\n%s", cfg.ID, r, debug.Stack())
			res.Outcome = ExitFault
		}
		res.Finished = e.now()
	}()

	legA, legB := cfg.LegA, cfg.LegB
	for iter := 1; iter <= e.opts.MaxExitIterations; iter++ {
		res.Iterations = iter

		positions := e.positions.NetPositions()
		pa, _ := exchangedata.FindPosition(positions, legA.Exchange, legA.Token)
		pb, _ := exchangedata.FindPosition(positions, legB.Exchange, legB.Token)
		netA, netB := pa.NetQty, pb.NetQty

		if netA == 0 && netB == 0 {
			log.Printf("rms: ✅ exit fully completed %s", cfg.ID)
			res.Outcome = ExitFlat
			return res
		}
		if netA == 0 || netB == 0 {
			log.Printf("rms: 🚨 %s one leg flat while the other is open (A:%d B:%d); stopping to avoid a naked leg", cfg.ID, netA, netB)
			res.Outcome = ExitSingleLegFlat
			return res
		}
		if pa.LotSize <= 0 || pb.LotSize <= 0 {
			log.Printf("rms: ❌ %s lot size missing from net position", cfg.ID)
			res.Outcome = ExitLotSizeMissing
			return res
		}

		remA, remB := converge.Abs(netA)/pa.LotSize, converge.Abs(netB)/pb.LotSize
		if remA <= 0 || remB <= 0 {
			log.Printf("rms: ⚠️ %s remaining below one lot; stopping", cfg.ID)
			res.Outcome = ExitBelowOneLot
			return res
		}

		lotsA, lotsB, ratioMode := ExitBatchLots(remA, remB, legA.Ratio, legB.Ratio, e.opts.MaxOrderLots)
		batch := ExitBatch{
			Iteration: iter,
			RatioMode: ratioMode,
			NetA:      netA,
			NetB:      netB,
			QtyA:      converge.Min(lotsA*pa.LotSize, converge.Abs(netA)),
			QtyB:      converge.Min(lotsB*pb.LotSize, converge.Abs(netB)),
		}
		if batch.QtyA <= 0 && batch.QtyB <= 0 {
			res.Outcome = ExitBelowOneLot
			return res
		}
		log.Printf("rms: exit batch %s | netA=%d qtyA=%d | netB=%d qtyB=%d | ratio=%t",
			cfg.ID, netA, batch.QtyA, netB, batch.QtyB, ratioMode)

		var reqs []exchange.OrderRequest
		if batch.QtyA > 0 {
			reqs = append(reqs, exitRequest(cfg, legA, netA, batch.QtyA, fmt.Sprintf("AUTO STRADDLE EXIT A (%s)", reason)))
		}
		if batch.QtyB > 0 {
			reqs = append(reqs, exitRequest(cfg, legB, netB, batch.QtyB, fmt.Sprintf("AUTO STRADDLE EXIT B (%s)", reason)))
		}
		for _, p := range order.PlaceConcurrently(ctx, e.placer, reqs...) {
			if p.Err != nil {
				log.Printf("rms: ⚠️ exit order %s %s x%d failed: %v", p.Request.Side, p.Request.TradingSymbol, p.Request.Qty, p.Err)
			}
		}
		res.Batches = append(res.Batches, batch)

		reduced := converge.Until(ctx, e.opts.PollInterval, e.opts.ConfirmTimeout, func() bool {
			positions := e.positions.NetPositions()
			a, _ := exchangedata.FindPosition(positions, legA.Exchange, legA.Token)
			b, _ := exchangedata.FindPosition(positions, legB.Exchange, legB.Token)
			return converge.Abs(a.NetQty) < converge.Abs(netA) || converge.Abs(b.NetQty) < converge.Abs(netB)
		})
		if !reduced {
			log.Printf("rms: 🚨 %s position not updated after exit batch; manual attention required", cfg.ID)
			res.Outcome = ExitStalled
			return res
		}
	}

	log.Printf("rms: ❌ exit max loop reached %s", cfg.ID)
	res.Outcome = ExitMaxIterations
	return res
}

// ExitBatchLots sizes one exit batch in lots. The ratio-preserving batch is
// min(remA/ratioA, remB/ratioB), capped at maxLots/max(ratioA, ratioB). When no
// ratio-preserving batch fits, each leg closes independently up to maxLots.
func ExitBatchLots(remA, remB, ratioA, ratioB, maxLots int64) (lotsA, lotsB int64, ratioMode bool) {
	ratioA, ratioB = converge.Max(ratioA, 1), converge.Max(ratioB, 1)
	batch := converge.Min(remA/ratioA, remB/ratioB)
	if batch > 0 {
		batch = converge.Min(batch, maxLots/converge.Max(ratioA, ratioB))
	}
	if batch > 0 {
		return batch * ratioA, batch * ratioB, true
	}
	return converge.Min(remA, maxLots), converge.Min(remB, maxLots), false
}

func exitRequest(cfg strategy.Config, leg strategy.Leg, net, qty int64, remarks string) exchange.OrderRequest {
	side := exchange.SideSell
	if net < 0 {
		side = exchange.SideBuy
	}
	return exchange.OrderRequest{
		StrategyID:    cfg.ID,
		Side:          side,
		Product:       cfg.Product(leg),
		Exchange:      leg.Exchange,
		TradingSymbol: leg.TradingSymbol,
		Token:         leg.Token,
		Qty:           qty,
		PriceType:     exchange.PriceMarket,
		Remarks:       remarks,
	}
}

// ManualSquareOff triggers an exit for every tracked config on the underlying
// (exch, token) that has an open position and is still ACTIVE. Exits run in the
// background; the count of exits started is returned.
func (e *Engine) ManualSquareOff(ctx context.Context, token, exch string) (int, error) {
	key := exchange.Key(exch, token)
	log.Printf("rms: 🚨 manual squareoff request for %s", key)

	e.mu.RLock()
	ids := e.index.ByUnderlying(exch, token)
	candidates := make([]strategy.Config, 0, len(ids))
	for _, id := range ids {
		if cfg, ok := e.tracked[id]; ok {
			candidates = append(candidates, *cfg)
		}
	}
	e.mu.RUnlock()

	if len(candidates) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoConfigs, key)
	}

	positions := e.positions.NetPositions()
	triggered := 0
	for _, cfg := range candidates {
		if cfg.ExitStatus != strategy.ExitActive {
			log.Printf("rms: skipping %s, exit already %s", cfg.ID, cfg.ExitStatus)
			continue
		}
		if !hasOpenPosition(&cfg, positions) {
			log.Printf("rms: skipping %s, no open positions", cfg.ID)
			continue
		}
		if e.trigger(ctx, cfg.ID, strategy.ReasonManual) {
			triggered++
		}
	}
	return triggered, nil
}

func hasOpenPosition(cfg *strategy.Config, positions []exchange.Position) bool {
	for _, l := range cfg.Legs() {
		if p, ok := exchangedata.FindPosition(positions, l.Exchange, l.Token); ok && p.NetQty != 0 {
			return true
		}
	}
	return false
}

func (e *Engine) persist(ctx context.Context, cfg strategy.Config) {
	if e.store != nil {
		if err := e.store.Update(ctx, cfg.ID, cfg); err != nil {
			log.Printf("rms: ⚠️ persist %s: %v", cfg.ID, err)
		}
	}
	e.publish(events.EventConfigUpdated, cfg)
}

func (e *Engine) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}
