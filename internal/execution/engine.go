package execution

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"straddle-core/internal/converge"
	"straddle-core/internal/exchangedata"
	"straddle-core/internal/monitor"
	"straddle-core/internal/order"
	"straddle-core/internal/strategy"
	exchange "straddle-core/pkg/exchanges/common"
)

// ConfigSource lists the active strategy configs.
type ConfigSource interface {
	FindActive(ctx context.Context) ([]strategy.Config, error)
}

// PositionReader exposes the latest synced venue state.
type PositionReader interface {
	NetPositions() []exchange.Position
	Orders() []exchange.Order
}

// LotSizer resolves an instrument's lot size.
type LotSizer interface {
	LotSize(exch, token string) int64
}

// ExitGuard reports whether an exit currently owns a config.
type ExitGuard interface {
	ExitLocked(configID string) bool
}

// Options tune the convergence loop.
type Options struct {
	PriceMode      exchange.PriceType
	MaxIterations  int
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	RejectWindow   time.Duration
	RetryDelay     time.Duration
}

// DefaultOptions returns the production loop settings.
func DefaultOptions() Options {
	return Options{
		PriceMode:      exchange.PriceMarket,
		MaxIterations:  10,
		PollInterval:   500 * time.Millisecond,
		ConfirmTimeout: 8 * time.Second,
		RejectWindow:   60 * time.Second,
		RetryDelay:     time.Second,
	}
}

// Engine converges strategy positions toward their configured lot targets.
type Engine struct {
	configs   ConfigSource
	positions PositionReader
	placer    order.Placer
	quotes    exchange.QuoteSource
	lots      LotSizer
	guard     ExitGuard
	metrics   *monitor.SystemMetrics
	opts      Options

	keys *converge.KeySet
	wg   sync.WaitGroup
	now  func() time.Time

	mu      sync.Mutex
	results []Result
}

// New creates an execution engine. quotes is only needed in LMT mode.
func New(configs ConfigSource, positions PositionReader, placer order.Placer, quotes exchange.QuoteSource, lots LotSizer, opts Options) *Engine {
	def := DefaultOptions()
	if opts.PriceMode == "" {
		opts.PriceMode = def.PriceMode
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = def.ConfirmTimeout
	}
	if opts.RejectWindow <= 0 {
		opts.RejectWindow = def.RejectWindow
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &Engine{
		configs:   configs,
		positions: positions,
		placer:    placer,
		quotes:    quotes,
		lots:      lots,
		opts:      opts,
		keys:      converge.NewKeySet(),
		now:       time.Now,
	}
}

// SetExitGuard makes entry refuse configs an exit currently owns.
func (e *Engine) SetExitGuard(g ExitGuard) { e.guard = g }

// SetMetrics enables pass counters.
func (e *Engine) SetMetrics(m *monitor.SystemMetrics) { e.metrics = m }

// Active lists execution keys with a convergence pass in flight.
func (e *Engine) Active() []string { return e.keys.Active() }

// Wait blocks until every started pass has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// Results returns finished pass results, oldest first.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// ExecuteSignal starts one convergence pass for every active config matching
// (strategyName, token, exchange, side), skipping keys already in flight.
// It returns the number of passes started.
func (e *Engine) ExecuteSignal(ctx context.Context, strategyName, token, exch string, side exchange.Side) (int, error) {
	configs, err := e.configs.FindActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active configs: %w", err)
	}

	started := 0
	for _, cfg := range configs {
		if !cfg.Matches(strategyName, token, exch, side) {
			continue
		}
		if !cfg.Tradable() {
			log.Printf("execution: ⚠️ %s has unresolved leg tokens, skipping", cfg.ID)
			continue
		}
		if cfg.ExitStatus != strategy.ExitActive {
			log.Printf("execution: ⚠️ %s is %s, entry refused", cfg.ID, cfg.ExitStatus)
			continue
		}
		if e.guard != nil && e.guard.ExitLocked(cfg.ID) {
			log.Printf("execution: ⚠️ %s exit in progress, entry refused", cfg.ID)
			continue
		}

		key := cfg.ExecutionKey()
		release, ok := e.keys.TryAcquire(key)
		if !ok {
			log.Printf("execution: ⚠️ convergence already running for %s, trigger dropped", key)
			continue
		}

		started++
		if e.metrics != nil {
			e.metrics.IncrementEntryPasses()
		}
		e.wg.Add(1)
		go func(cfg strategy.Config) {
			defer e.wg.Done()
			defer release()
			res := e.ConvergeLegPair(context.WithoutCancel(ctx), cfg)
			e.record(res)
		}(cfg)
	}

	if started == 0 {
		log.Printf("execution: no pass started for %s %s|%s %s", strategyName, strings.ToUpper(exch), token, side)
	}
	return started, nil
}

func (e *Engine) record(res Result) {
	log.Printf("execution: %s finished %s after %d iterations (%d batches)", res.Key, res.Outcome, res.Iterations, len(res.Batches))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, res)
	if len(e.results) > 100 {
		e.results = e.results[len(e.results)-100:]
	}
}

func (e *Engine) netUnits(exch, token string) int64 {
	p, ok := exchangedata.FindPosition(e.positions.NetPositions(), exch, token)
	if !ok {
		return 0
	}
	return p.NetQty
}

func (e *Engine) lotSize(l strategy.Leg) int64 {
	if e.lots == nil {
		return 1
	}
	if ls := e.lots.LotSize(l.Exchange, l.Token); ls > 0 {
		return ls
	}
	return 1
}
