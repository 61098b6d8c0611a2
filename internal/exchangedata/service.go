package exchangedata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"straddle-core/internal/events"
	"straddle-core/internal/monitor"
	"straddle-core/pkg/db"
	exchange "straddle-core/pkg/exchanges/common"
	"straddle-core/pkg/exchanges/noren"
)

// ErrNoSource is returned by Sync when no venue book source is configured.
var ErrNoSource = errors.New("no venue book source configured")

// Service is the Position Source: a periodically refreshed snapshot of the
// venue's orders, trades, and net positions.
type Service struct {
	source   exchange.BookSource
	database *db.Database
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
	interval time.Duration

	// queue serializes sync cycles; at most one is in flight.
	queue sync.Mutex

	mu        sync.RWMutex
	orders    []exchange.Order
	trades    []exchange.Trade
	positions []exchange.Position
	lastSync  time.Time
	lastErr   error

	now func() time.Time
}

// NewService creates a Position Source. database, bus and metrics may be nil.
func NewService(source exchange.BookSource, database *db.Database, bus *events.Bus, metrics *monitor.SystemMetrics, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Service{
		source:   source,
		database: database,
		bus:      bus,
		metrics:  metrics,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs Sync, waits the interval after it completes, and repeats until ctx is done.
func (s *Service) Start(ctx context.Context) {
	go func() {
		for {
			if err := s.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("exchangedata: ❌ sync error: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
		}
	}()

	log.Printf("exchangedata: ✓ position source started (interval: %v)", s.interval)
}

// ForceSync runs a sync now, queued behind any cycle already running.
func (s *Service) ForceSync(ctx context.Context) error {
	return s.Sync(ctx)
}

// Sync refreshes orders, then trades, then positions. Each book is replaced
// wholesale on success; a failed fetch keeps that book's previous snapshot.
func (s *Service) Sync(ctx context.Context) error {
	s.queue.Lock()
	defer s.queue.Unlock()

	if s.source == nil {
		return ErrNoSource
	}
	if s.metrics != nil {
		s.metrics.IncrementSyncs()
		defer monitor.NewTimer(s.metrics.SyncLatency).Stop()
	}

	var errs []error
	tradeDate := s.now().In(noren.IST).Format("2006-01-02")

	if orders, err := s.source.OrderBook(ctx); err != nil {
		errs = append(errs, fmt.Errorf("order book: %w", err))
	} else {
		s.mu.Lock()
		s.orders = orders
		s.mu.Unlock()
		s.mirror(ctx, "orders", func() error { return s.database.UpsertVenueOrders(ctx, tradeDate, venueOrders(orders)) })
	}

	if trades, err := s.source.TradeBook(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trade book: %w", err))
	} else {
		s.mu.Lock()
		s.trades = trades
		s.mu.Unlock()
		s.mirror(ctx, "trades", func() error { return s.database.UpsertVenueTrades(ctx, tradeDate, venueTrades(trades)) })
	}

	if positions, err := s.source.PositionBook(ctx); err != nil {
		errs = append(errs, fmt.Errorf("position book: %w", err))
	} else {
		s.mu.Lock()
		s.positions = positions
		s.mu.Unlock()
		s.mirror(ctx, "positions", func() error { return s.database.ReplaceVenuePositions(ctx, venuePositions(positions)) })
	}

	err := errors.Join(errs...)
	s.mu.Lock()
	s.lastSync = s.now()
	s.lastErr = err
	notice := events.SyncNotice{Orders: len(s.orders), Trades: len(s.trades), Positions: len(s.positions), At: s.lastSync}
	s.mu.Unlock()

	if err != nil {
		notice.Err = err.Error()
		if s.metrics != nil {
			s.metrics.IncrementErrors()
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.EventPositionSync, notice)
	}
	return err
}

func (s *Service) mirror(ctx context.Context, what string, fn func() error) {
	if s.database == nil || ctx.Err() != nil {
		return
	}
	if err := fn(); err != nil {
		log.Printf("exchangedata: mirror %s failed: %v", what, err)
	}
}

// NetPositions returns the latest position snapshot. Callers must not modify it.
func (s *Service) NetPositions() []exchange.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions
}

// Orders returns the latest order book snapshot. Callers must not modify it.
func (s *Service) Orders() []exchange.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders
}

// Trades returns the latest trade book snapshot. Callers must not modify it.
func (s *Service) Trades() []exchange.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trades
}

// LastSync reports when the last cycle finished and its error, if any.
func (s *Service) LastSync() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync, s.lastErr
}

// Position finds the position row for (exchange, token).
func (s *Service) Position(exch, token string) (exchange.Position, bool) {
	return FindPosition(s.NetPositions(), exch, token)
}

// HasOpenPosition reports whether any product row for (exchange, token) has a
// nonzero net quantity.
func (s *Service) HasOpenPosition(exch, token string) bool {
	open := false
	eachPosition(s.NetPositions(), exch, token, func(p exchange.Position) {
		if p.NetQty != 0 {
			open = true
		}
	})
	return open
}

// FindPosition merges every product row for (exchange, token) into one
// position: net quantities are summed, lot size comes from the first row that
// carries one, and the remaining fields come from the first open row.
func FindPosition(positions []exchange.Position, exch, token string) (exchange.Position, bool) {
	var (
		merged exchange.Position
		found  bool
		netQty int64
		lot    int64
		open   bool
	)
	eachPosition(positions, exch, token, func(p exchange.Position) {
		if !found || (!open && p.NetQty != 0) {
			merged = p
			open = p.NetQty != 0
		}
		found = true
		netQty += p.NetQty
		if lot == 0 {
			lot = p.LotSize
		}
	})
	if !found {
		return exchange.Position{}, false
	}
	merged.NetQty = netQty
	merged.LotSize = lot
	return merged, true
}

// eachPosition calls fn for every row matching exchange (case-insensitive) and token.
func eachPosition(positions []exchange.Position, exch, token string, fn func(exchange.Position)) {
	exch = strings.ToUpper(strings.TrimSpace(exch))
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	for _, p := range positions {
		if strings.TrimSpace(p.Token) == token && strings.EqualFold(strings.TrimSpace(p.Exchange), exch) {
			fn(p)
		}
	}
}

func venueOrders(orders []exchange.Order) []db.VenueOrder {
	out := make([]db.VenueOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, db.VenueOrder{
			OrderID:       o.OrderID,
			ExchOrderID:   o.ExchangeOrderID,
			Status:        o.Status,
			Exchange:      o.Exchange,
			Token:         o.Token,
			TradingSymbol: o.TradingSymbol,
			Side:          string(o.Side),
			Qty:           o.Qty,
			FilledQty:     o.FilledQty,
			Price:         o.Price,
			AvgPrice:      o.AvgPrice,
			RejectReason:  o.RejectReason,
			OrderTime:     o.Time,
			ExchTime:      o.ExchangeTime,
		})
	}
	return out
}

func venueTrades(trades []exchange.Trade) []db.VenueTrade {
	out := make([]db.VenueTrade, 0, len(trades))
	for _, t := range trades {
		out = append(out, db.VenueTrade{
			OrderID:     t.OrderID,
			ExchOrderID: t.ExchangeOrderID,
			FillID:      t.FillID,
			Exchange:    t.Exchange,
			Token:       t.Token,
			Side:        string(t.Side),
			FilledQty:   t.FilledQty,
			FilledPrice: t.FilledPrice,
			ExchTime:    t.ExchangeTime,
		})
	}
	return out
}

func venuePositions(positions []exchange.Position) []db.VenuePosition {
	out := make([]db.VenuePosition, 0, len(positions))
	for _, p := range positions {
		out = append(out, db.VenuePosition{
			Exchange:      p.Exchange,
			Token:         p.Token,
			TradingSymbol: p.TradingSymbol,
			NetQty:        p.NetQty,
			LotSize:       p.LotSize,
			AvgPrice:      p.AvgPrice,
			Product:       p.Product,
		})
	}
	return out
}
