package rms

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"straddle-core/internal/converge"
	"straddle-core/internal/events"
	"straddle-core/internal/market"
	"straddle-core/internal/monitor"
	"straddle-core/internal/order"
	"straddle-core/internal/strategy"
	"straddle-core/internal/tickindex"
	exchange "straddle-core/pkg/exchanges/common"
)

var (
	// ErrExitInProgress is returned when another exit already owns the config.
	ErrExitInProgress = errors.New("exit already in progress")
	// ErrAlreadyExited is returned when the config has already been squared off.
	ErrAlreadyExited = errors.New("config already exited")
	// ErrUnknownConfig is returned for ids the engine does not track.
	ErrUnknownConfig = errors.New("config not tracked")
	// ErrNoConfigs is returned when no tracked config uses the requested underlying.
	ErrNoConfigs = errors.New("no straddle configs mapped to underlying")
)

// ConfigStore loads active configs and records exit transitions.
type ConfigStore interface {
	FindActive(ctx context.Context) ([]strategy.Config, error)
	Update(ctx context.Context, id string, cfg strategy.Config) error
}

// PositionReader exposes the latest synced venue state.
type PositionReader interface {
	NetPositions() []exchange.Position
	Trades() []exchange.Trade
}

// TickReader reads the last known tick of a key.
type TickReader interface {
	Get(exch, token string) (market.MarketTick, bool)
}

// TickStore is the shared market snapshot.
type TickStore interface {
	TickReader
	Apply(u market.MarketTick) market.MarketTick
}

// Options tune the RMS loops.
type Options struct {
	Rules             Rules
	RefreshInterval   time.Duration
	MaxExitIterations int
	MaxOrderLots      int64
	PollInterval      time.Duration
	ConfirmTimeout    time.Duration
	SnapshotDir       string
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		Rules:             DefaultRules(),
		RefreshInterval:   5 * time.Second,
		MaxExitIterations: 50,
		MaxOrderLots:      25,
		PollInterval:      500 * time.Millisecond,
		ConfirmTimeout:    4 * time.Second,
	}
}

// Engine values tracked configs on every relevant tick and squares them off
// when an exit rule fires.
type Engine struct {
	store     ConfigStore
	positions PositionReader
	ticks     TickStore
	placer    order.Placer
	bus       *events.Bus
	metrics   *monitor.SystemMetrics
	opts      Options
	files     SnapshotFiles

	mu      sync.RWMutex
	tracked map[string]*strategy.Config
	index   *tickindex.Index

	exits *converge.KeySet
	wg    sync.WaitGroup
	now   func() time.Time
}

// New creates an RMS engine. Zero option fields take their defaults.
func New(store ConfigStore, positions PositionReader, ticks TickStore, placer order.Placer, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Rules == (Rules{}) {
		opts.Rules = def.Rules
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = def.RefreshInterval
	}
	if opts.MaxExitIterations <= 0 {
		opts.MaxExitIterations = def.MaxExitIterations
	}
	if opts.MaxOrderLots <= 0 {
		opts.MaxOrderLots = def.MaxOrderLots
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = def.ConfirmTimeout
	}
	return &Engine{
		store:     store,
		positions: positions,
		ticks:     ticks,
		placer:    placer,
		opts:      opts,
		files:     SnapshotFiles{Dir: opts.SnapshotDir},
		tracked:   make(map[string]*strategy.Config),
		index:     tickindex.Build(nil),
		exits:     converge.NewKeySet(),
		now:       time.Now,
	}
}

// SetBus enables exit and config events.
func (e *Engine) SetBus(bus *events.Bus) { e.bus = bus }

// SetMetrics enables tick, recompute and exit metrics.
func (e *Engine) SetMetrics(m *monitor.SystemMetrics) { e.metrics = m }

// Start loads configs, then follows price ticks from the bus and reloads
// configs every RefreshInterval until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	if err := e.files.Ensure(); err != nil {
		log.Printf("rms: ⚠️ snapshot dir %s: %v", e.files.Dir, err)
	}
	if err := e.Refresh(ctx); err != nil {
		log.Printf("rms: initial refresh failed: %v", err)
	}

	var ticks <-chan any
	if e.bus != nil {
		stream, unsub := e.bus.Subscribe(events.EventPriceTick, 1024)
		defer unsub()
		ticks = stream
	}

	refresh := time.NewTicker(e.opts.RefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if err := e.Refresh(ctx); err != nil {
				log.Printf("rms: refresh failed: %v", err)
			}
		case msg, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			if tick, isTick := msg.(market.MarketTick); isTick {
				e.HandleTick(ctx, tick)
			}
		}
	}
}

// Refresh reloads the active configs, carries runtime state of configs already
// tracked, rebuilds the tick index and recomputes every config.
func (e *Engine) Refresh(ctx context.Context) error {
	loaded, err := e.store.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("load active configs: %w", err)
	}

	e.mu.Lock()
	next := make(map[string]*strategy.Config, len(loaded))
	for i := range loaded {
		cfg := loaded[i]
		if prev, ok := e.tracked[cfg.ID]; ok {
			carryRuntime(&cfg, prev)
		}
		next[cfg.ID] = &cfg
	}
	for id, prev := range e.tracked {
		if _, ok := next[id]; !ok && e.exits.Held(id) {
			next[id] = prev
		}
	}
	list := make([]strategy.Config, 0, len(next))
	for _, cfg := range next {
		list = append(list, *cfg)
	}
	e.tracked = next
	e.index = tickindex.Build(list)
	ids := sortedIDs(next)
	e.mu.Unlock()

	if e.metrics != nil {
		var dropped int64
		if e.bus != nil {
			dropped = e.bus.Dropped()
		}
		e.metrics.SetGauges(len(ids), dropped)
	}

	e.recompute(ctx, ids)
	return nil
}

// carryRuntime keeps engine-owned state across a reload. Exit status only moves forward.
func carryRuntime(cfg, prev *strategy.Config) {
	if prev.Underlying.EntryPrice > 0 {
		cfg.Underlying = prev.Underlying
	}
	status := cfg.ExitStatus.Advance(prev.ExitStatus)
	if status != cfg.ExitStatus {
		cfg.ExitReason = prev.ExitReason
		cfg.ExitOutcome = prev.ExitOutcome
	}
	cfg.ExitStatus = status
}

// HandleTick merges a tick into the snapshot and recomputes every config that references it.
func (e *Engine) HandleTick(ctx context.Context, tick market.MarketTick) {
	if tick.Exchange == "" || tick.Token == "" {
		return
	}
	merged := e.ticks.Apply(tick)
	if e.metrics != nil {
		e.metrics.IncrementTicks()
	}

	e.mu.RLock()
	ids := e.index.ByToken(merged.Exchange, merged.Token)
	e.mu.RUnlock()
	if len(ids) == 0 {
		return
	}
	e.recompute(ctx, ids)
}

// RecomputeConfig revalues one config and applies its snapshot and exit decisions.
// It reports whether the config has an open position.
func (e *Engine) RecomputeConfig(ctx context.Context, id string) (bool, error) {
	acts := e.recompute(ctx, []string{id})
	if len(acts) == 0 {
		return false, fmt.Errorf("%w: %s", ErrUnknownConfig, id)
	}
	return acts[0].open, nil
}

type action struct {
	cfg    strategy.Config
	open   bool
	reason string
	fire   bool
}

func (e *Engine) recompute(ctx context.Context, ids []string) []action {
	if e.metrics != nil {
		defer monitor.NewTimer(e.metrics.RecomputeLatency).Stop()
	}
	positions := e.positions.NetPositions()
	trades := e.positions.Trades()

	acts := make([]action, 0, len(ids))
	e.mu.Lock()
	for _, id := range ids {
		cfg, ok := e.tracked[id]
		if !ok {
			continue
		}
		if a, ok := e.recomputeOne(cfg, positions, trades); ok {
			acts = append(acts, a)
		}
	}
	e.mu.Unlock()

	for _, a := range acts {
		e.writeSnapshot(a.cfg, a.open)
		if a.fire {
			e.trigger(ctx, a.cfg.ID, a.reason)
		}
	}
	return acts
}

func (e *Engine) recomputeOne(cfg *strategy.Config, positions []exchange.Position, trades []exchange.Trade) (a action, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rms: ❌ recompute %s panicked: %v", cfg.ID, r)
			if e.metrics != nil {
				e.metrics.IncrementErrors()
			}
			ok = false
		}
	}()

	val := valuate(cfg, e.ticks, positions, trades, e.now())
	a = action{open: val.HasOpenPosition}
	if val.HasOpenPosition && val.Priced && !e.exits.Held(cfg.ID) {
		a.reason, a.fire = e.opts.Rules.CheckExit(cfg)
	}
	a.cfg = *cfg
	return a, true
}

func (e *Engine) writeSnapshot(cfg strategy.Config, open bool) {
	if open {
		if err := e.files.Save(cfg); err != nil {
			log.Printf("rms: ⚠️ %v", err)
		}
		return
	}
	removed, err := e.files.Remove(cfg.ID)
	if err != nil {
		log.Printf("rms: ⚠️ %v", err)
		return
	}
	if removed {
		log.Printf("rms: 🧹 removed closed trade file %s", cfg.ID)
	}
}

// ExitLocked reports whether an exit currently owns config id.
func (e *Engine) ExitLocked(id string) bool { return e.exits.Held(id) }

// Config returns a copy of one tracked config.
func (e *Engine) Config(id string) (strategy.Config, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.tracked[id]
	if !ok {
		return strategy.Config{}, false
	}
	return *cfg, true
}

// Configs returns copies of every tracked config ordered by id.
func (e *Engine) Configs() []strategy.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]strategy.Config, 0, len(e.tracked))
	for _, id := range sortedIDs(e.tracked) {
		out = append(out, *e.tracked[id])
	}
	return out
}

// Keys lists every instrument key the tracked configs reference.
func (e *Engine) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Keys()
}

// Wait blocks until every running exit has finished.
func (e *Engine) Wait() { e.wg.Wait() }

func sortedIDs(m map[string]*strategy.Config) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
