package main

import (
	"context"
	"log"
	"time"

	"straddle-core/internal/events"
	"straddle-core/internal/exchangedata"
	"straddle-core/internal/execution"
	"straddle-core/internal/instrument"
	"straddle-core/internal/market"
	"straddle-core/internal/order"
	"straddle-core/internal/rms"
	"straddle-core/internal/strategy"
	"straddle-core/pkg/db"
	exchange "straddle-core/pkg/exchanges/common"
)

// dry_run_demo enters one straddle against the paper venue and squares it off.
// It uses an in-memory database and never touches the live venue.
//
// Usage:
//   go run ./scripts/dry_run_demo
//
// It will:
//   1) Converge a 2:1 BUY/SELL pair to its lot targets.
//   2) Value it through the RMS engine.
//   3) Square it off manually and print the venue books.

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("=== DRY-RUN straddle demo starting ===")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	catalog := instrument.New([]instrument.Instrument{
		{Exchange: "NFO", Token: "111", Symbol: "NIFTY", TradingSymbol: "NIFTY28OCT26C26300", Instrument: "OPTIDX", OptionType: "CE", StrikePrice: 26300, LotSize: 75},
		{Exchange: "NFO", Token: "222", Symbol: "NIFTY", TradingSymbol: "NIFTY28OCT26P25700", Instrument: "OPTIDX", OptionType: "PE", StrikePrice: 25700, LotSize: 75},
	})

	snapshot := market.NewSnapshot()
	for _, t := range []market.MarketTick{
		{Exchange: "NSE", Token: "26000", LastPrice: market.F(26000)},
		{Exchange: "NFO", Token: "111", LastPrice: market.F(120), BidPrice: market.F(119.5), AskPrice: market.F(120.5)},
		{Exchange: "NFO", Token: "222", LastPrice: market.F(95), BidPrice: market.F(94.5), AskPrice: market.F(95.5)},
	} {
		snapshot.Apply(t)
	}

	bus := events.NewBus()
	venue := order.NewPaperVenue(snapshot, catalog.LotSize)
	executor := order.NewExecutor(database, bus, venue, "paper")

	positions := exchangedata.NewService(venue, database, bus, nil, 100*time.Millisecond)
	positions.Start(ctx)

	store := strategy.NewStore(database)
	cfg := strategy.Config{
		ID: "demo-1", StrategyName: "NIFTY_DEMO", Exchange: "NSE", Token: "26000", Side: exchange.SideBuy,
		IsActive: true, ProductType: "INTRADAY", ProfitBookingPct: 50, StoplossBookingPct: 50,
		LegA: strategy.Leg{Exchange: "NFO", Instrument: "OPTIDX", OptionType: "CE", Side: exchange.SideBuy,
			TradingSymbol: "NIFTY28OCT26C26300", Token: "111", QuantityLots: 4, Ratio: 2},
		LegB: strategy.Leg{Exchange: "NFO", Instrument: "OPTIDX", OptionType: "PE", Side: exchange.SideSell,
			TradingSymbol: "NIFTY28OCT26P25700", Token: "222", QuantityLots: 2, Ratio: 1},
	}
	cfg.Normalize()
	if err := store.Upsert(ctx, cfg); err != nil {
		log.Fatalf("seed config: %v", err)
	}

	log.Println("[SCENARIO 1] Entry convergence")
	opts := execution.DefaultOptions()
	opts.PollInterval = 50 * time.Millisecond
	opts.ConfirmTimeout = 2 * time.Second
	entry := execution.New(store, positions, executor, venue, catalog, opts)
	res := entry.ConvergeLegPair(ctx, cfg)
	log.Printf("entry: %s after %d iterations, %d batches", res.Outcome, res.Iterations, len(res.Batches))

	log.Println("[SCENARIO 2] RMS valuation")
	rmsOpts := rms.DefaultOptions()
	rmsOpts.PollInterval = 50 * time.Millisecond
	rmsOpts.ConfirmTimeout = 2 * time.Second
	risk := rms.New(store, positions, snapshot, executor, rmsOpts)
	risk.SetBus(bus)
	if err := positions.ForceSync(ctx); err != nil {
		log.Fatalf("sync: %v", err)
	}
	if err := risk.Refresh(ctx); err != nil {
		log.Fatalf("rms refresh: %v", err)
	}
	if live, ok := risk.Config(cfg.ID); ok {
		log.Printf("rms: invested=%.2f live=%.2f pnl=%.2f (%.2f%%) ratio=%.3f",
			live.InvestedValue, live.LiveValue, live.TotalPnL, live.TotalPnLPct, live.Ratio)
	}

	log.Println("[SCENARIO 3] Manual square off")
	exit, err := risk.SquareOff(ctx, cfg.ID, strategy.ReasonManual)
	if err != nil {
		log.Fatalf("squareoff: %v", err)
	}
	log.Printf("exit: %s after %d iterations", exit.Outcome, exit.Iterations)

	log.Println("[SCENARIO DONE] Final paper books:")
	book, err := venue.PositionBook(ctx)
	if err != nil {
		log.Fatalf("position book: %v", err)
	}
	for _, p := range book {
		log.Printf("  %s net=%d", exchange.Key(p.Exchange, p.Token), p.NetQty)
	}
	log.Println("=== DRY-RUN straddle demo finished ===")
}
