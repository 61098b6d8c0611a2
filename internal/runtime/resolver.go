package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"straddle-core/internal/instrument"
	"straddle-core/internal/market"
	"straddle-core/internal/strategy"
	exchange "straddle-core/pkg/exchanges/common"
)

// defaultStrikeStep applies when a config has no strike step.
const defaultStrikeStep = 100

// ConfigStore lists active configs and writes resolved legs back.
type ConfigStore interface {
	FindActive(ctx context.Context) ([]strategy.Config, error)
	Update(ctx context.Context, id string, cfg strategy.Config) error
}

// Catalog resolves contracts by their terms.
type Catalog interface {
	Find(q instrument.Query) (instrument.Instrument, error)
}

// TickReader reads the shared market snapshot.
type TickReader interface {
	Get(exch, token string) (market.MarketTick, bool)
}

// PositionChecker reports open positions from the latest venue sync.
type PositionChecker interface {
	HasOpenPosition(exch, token string) bool
}

// Resolver rolls each leg to the strike nearest the underlying plus the OTM
// offset, resizes it from the per-leg amount and rebalances ratio weights.
// Legs with an open position keep their contract.
type Resolver struct {
	store     ConfigStore
	catalog   Catalog
	ticks     TickReader
	positions PositionChecker
	interval  time.Duration

	running atomic.Bool
}

// NewResolver creates a strike resolver that runs every interval.
func NewResolver(store ConfigStore, catalog Catalog, ticks TickReader, positions PositionChecker, interval time.Duration) *Resolver {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Resolver{store: store, catalog: catalog, ticks: ticks, positions: positions, interval: interval}
}

// Start runs RunOnce on every interval until ctx is done.
func (r *Resolver) Start(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.Printf("runtime: resolve cycle failed: %v", err)
			}
		}
	}
}

// RunOnce resolves every active config and stores the ones that changed.
// A cycle that starts while another is still running is skipped.
func (r *Resolver) RunOnce(ctx context.Context) (int, error) {
	if !r.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer r.running.Store(false)

	configs, err := r.store.FindActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active configs: %w", err)
	}

	var errs []error
	updated := 0
	for i := range configs {
		cfg := configs[i]
		if !r.Resolve(&cfg) {
			continue
		}
		if err := r.store.Update(ctx, cfg.ID, cfg); err != nil {
			errs = append(errs, fmt.Errorf("update %s: %w", cfg.ID, err))
			continue
		}
		updated++
	}
	return updated, errors.Join(errs...)
}

// Resolve updates cfg in place and reports whether any leg changed.
// Only ACTIVE configs with a priced underlying are touched.
func (r *Resolver) Resolve(cfg *strategy.Config) (changed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("runtime: ❌ resolve %s panicked: %v", cfg.ID, rec)
			changed = false
		}
	}()

	if cfg.ExitStatus != strategy.ExitActive {
		return false
	}
	tick, ok := r.ticks.Get(cfg.Exchange, cfg.Token)
	if !ok {
		return false
	}
	spot, ok := tick.LTP()
	if !ok {
		return false
	}

	before := *cfg
	cfg.LTP = spot

	resized := false
	for _, leg := range cfg.Legs() {
		if r.resolveLeg(cfg, leg, spot) {
			resized = true
		}
	}
	if resized {
		cfg.LegA.Ratio, cfg.LegB.Ratio = NormalizeRatios(cfg.LegA.QuantityLots, cfg.LegB.QuantityLots)
	}
	return cfg.LTP != before.LTP || cfg.LegA != before.LegA || cfg.LegB != before.LegB
}

// resolveLeg rolls one leg and reports whether it was resized.
func (r *Resolver) resolveLeg(cfg *strategy.Config, leg *strategy.Leg, spot float64) bool {
	if !IsDerivative(leg.Exchange) {
		return false
	}
	step := cfg.StrikeStep
	if step <= 0 {
		step = defaultStrikeStep
	}
	strike := TargetStrike(spot, cfg.OTMDifference, leg.OptionType, step)

	inst, err := r.catalog.Find(instrument.Query{
		Exchange:   leg.Exchange,
		Instrument: leg.Instrument,
		OptionType: leg.OptionType,
		Expiry:     leg.Expiry,
		Strike:     strike,
		Symbol:     underlyingSymbol(cfg),
	})
	if err != nil {
		return false
	}

	if leg.Token != "" && r.positions != nil && r.positions.HasOpenPosition(leg.Exchange, leg.Token) {
		if leg.Token != inst.Token {
			log.Printf("runtime: strike locked for %s, position already open", leg.TradingSymbol)
		}
		return false
	}

	leg.Token = inst.Token
	leg.TradingSymbol = inst.TradingSymbol

	if t, ok := r.ticks.Get(leg.Exchange, inst.Token); ok {
		if p, ok := t.EntryPrice(leg.Side); ok {
			leg.LegLTP = p
		}
	}
	if lots, ok := LegQuantity(cfg.AmountPerLeg, leg.LegLTP, inst.LotSize); ok {
		leg.QuantityLots = lots
	}
	return true
}

func underlyingSymbol(cfg *strategy.Config) string {
	if cfg.UnderlyingSymbol != "" {
		return cfg.UnderlyingSymbol
	}
	return indexSymbols[exchange.Key(cfg.Exchange, cfg.Token)]
}
