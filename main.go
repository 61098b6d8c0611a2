package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"straddle-core/internal/api"
	"straddle-core/internal/data"
	"straddle-core/internal/events"
	"straddle-core/internal/exchangedata"
	"straddle-core/internal/execution"
	"straddle-core/internal/instrument"
	"straddle-core/internal/market"
	"straddle-core/internal/monitor"
	"straddle-core/internal/order"
	"straddle-core/internal/rms"
	"straddle-core/internal/runtime"
	"straddle-core/internal/strategy"
	"straddle-core/pkg/config"
	"straddle-core/pkg/db"
	exchange "straddle-core/pkg/exchanges/common"
	"straddle-core/pkg/exchanges/noren"
	"straddle-core/pkg/i18n"
	marketnoren "straddle-core/pkg/market/noren"
)

// indexStartPrices seeds the mock feed near real index levels.
var indexStartPrices = map[string]float64{
	"NSE|26000": 25800,
	"BSE|1":     84000,
	"NSE|26009": 57500,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	issueToken := flag.String("issue-token", "", "print an operator JWT for this name and exit")
	tokenTTL := flag.Duration("token-ttl", 72*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))

	if *issueToken != "" {
		token, err := api.IssueToken(*issueToken, cfg.JWTSecret, *tokenTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	sysMetrics := monitor.NewSystemMetrics()
	log.Println(i18n.Get("SystemMetricsInit"))

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}

	// Reference data
	catalog, err := instrument.LoadFile(cfg.InstrumentsPath)
	if err != nil {
		log.Printf(i18n.Get("InstrumentsLoadFailed"), err)
		catalog = nil
	} else {
		log.Printf(i18n.Get("InstrumentsLoaded"), catalog.Len(), cfg.InstrumentsPath)
	}

	store := strategy.NewStore(database)
	seedStrategies(ctx, store, cfg.StrategiesPath)

	// Venue selection
	snapshot := market.NewSnapshot()
	var venue exchange.Venue
	venueName := "paper"
	if cfg.DryRun {
		venue = order.NewPaperVenue(snapshot, catalog.LotSize)
		log.Println(i18n.Get("DryRunMode"))
	} else {
		venue = noren.New(noren.Config{
			BaseURL:      cfg.NorenAPIURL,
			UserID:       cfg.NorenUserID,
			AccountID:    cfg.NorenAccountID,
			SessionToken: cfg.NorenSessionToken,
			RateLimit:    cfg.NorenRateLimit,
		})
		venueName = "noren"
		log.Printf(i18n.Get("LiveVenueMode"), cfg.NorenAPIURL)
	}

	executor := order.NewExecutor(database, bus, venue, venueName)
	executor.Metrics = sysMetrics

	positions := exchangedata.NewService(venue, database, bus, sysMetrics, cfg.PositionSyncInterval)
	positions.Start(ctx)
	log.Printf(i18n.Get("PositionSyncStarted"), cfg.PositionSyncInterval)

	// RMS
	rmsOpts := rms.DefaultOptions()
	rmsOpts.Rules.RatioThreshold = cfg.RatioThreshold
	rmsOpts.Rules.UnderlyingMovePct = cfg.UnderlyingMoveExitPc
	rmsOpts.RefreshInterval = cfg.RMSRefreshInterval
	rmsOpts.SnapshotDir = cfg.SnapshotDir
	riskEngine := rms.New(store, positions, snapshot, executor, rmsOpts)
	riskEngine.SetBus(bus)
	riskEngine.SetMetrics(sysMetrics)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		riskEngine.Start(ctx)
	}()
	log.Printf(i18n.Get("RMSStarted"), rmsOpts.RefreshInterval)
	log.Printf(i18n.Get("RMSThresholds"), rmsOpts.Rules.RatioThreshold, rmsOpts.Rules.UnderlyingMovePct)

	// Entry execution
	execOpts := execution.DefaultOptions()
	execOpts.PriceMode = exchange.PriceType(cfg.OrderPriceMode)
	if execOpts.PriceMode != exchange.PriceLimit {
		execOpts.PriceMode = exchange.PriceMarket
	}
	execEngine := execution.New(store, positions, executor, venue, catalog, execOpts)
	execEngine.SetExitGuard(riskEngine)
	execEngine.SetMetrics(sysMetrics)
	if cfg.ExecutionEnabled {
		log.Println(i18n.Get("ExecutionEnabled"))
	} else {
		log.Println(i18n.Get("ExecutionDisabled"))
	}
	log.Printf(i18n.Get("OrderPriceMode"), execOpts.PriceMode)

	// Strike resolution needs the instrument master.
	if catalog != nil {
		resolver := runtime.NewResolver(store, catalog, snapshot, positions, cfg.StrikeResolveInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolver.Start(ctx)
		}()
		log.Printf(i18n.Get("StrikeResolverStarted"), cfg.StrikeResolveInterval)
	}

	// Market data
	if cfg.UseMockFeed {
		feed := &market.MockFeed{
			Bus:         bus,
			Static:      cfg.FeedSubscriptions,
			Keys:        riskEngine.Keys,
			StartPrices: indexStartPrices,
		}
		feed.Start(ctx)
		log.Println(i18n.Get("MockFeedStarted"))
	} else {
		feed := &market.Feed{
			Stream: marketnoren.NewStreamClient(cfg.NorenWSURL, cfg.NorenUserID, cfg.NorenAccountID, cfg.NorenSessionToken),
			Bus:    bus,
			Static: cfg.FeedSubscriptions,
			Keys:   riskEngine.Keys,
		}
		feed.Start(ctx)
		log.Println(i18n.Get("VenueFeedStarted"))
	}

	alerts := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{}}
	alerts.Start(ctx)

	history := data.NewHistoricalDataService(venue, database)

	// API
	server := api.NewServer(api.Deps{
		Bus:       bus,
		Metrics:   sysMetrics,
		Execution: execEngine,
		RMS:       riskEngine,
		Positions: positions,
		History:   history,
		Quotes:    snapshot,
	}, api.SystemMeta{
		DryRun:           cfg.DryRun,
		ExecutionEnabled: cfg.ExecutionEnabled,
		Venue:            venueName,
		UseMockFeed:      cfg.UseMockFeed,
		Version:          buildVersion,
	}, cfg.JWTSecret)
	httpServer := server.HTTPServer(":" + cfg.Port)
	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	cancel()
	wg.Wait()
	// Exits and entry passes in flight finish on their own contexts.
	execEngine.Wait()
	riskEngine.Wait()
	log.Println(i18n.Get("ShutdownComplete"))
}

// seedStrategies upserts the YAML seed when present. Stored exit state is kept.
func seedStrategies(ctx context.Context, store *strategy.Store, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}
	configs, err := strategy.LoadConfig(path)
	if err != nil {
		log.Printf(i18n.Get("StrategyConfigLoadFailed"), err)
		return
	}
	if err := strategy.SyncConfigToStore(ctx, store, configs); err != nil {
		log.Printf(i18n.Get("StrategySyncFailed"), err)
		return
	}
	log.Printf(i18n.Get("StrategySeedComplete"), len(configs))
}
