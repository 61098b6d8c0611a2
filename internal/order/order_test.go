package order

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-core/internal/events"
	"straddle-core/internal/market"
	"straddle-core/internal/monitor"
	"straddle-core/pkg/db"
	exchange "straddle-core/pkg/exchanges/common"
)

type gatewayFunc func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error)

func (f gatewayFunc) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return f(ctx, req)
}

func newDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestExecutorAuditsAndPublishes(t *testing.T) {
	database := newDB(t)
	bus := events.NewBus()
	submitted, unsubS := bus.Subscribe(events.EventOrderSubmitted, 4)
	rejected, unsubR := bus.Subscribe(events.EventOrderRejected, 4)
	defer unsubS()
	defer unsubR()

	gw := gatewayFunc(func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
		if req.TradingSymbol == "BAD" {
			return exchange.OrderResult{}, errors.New("margin shortfall")
		}
		return exchange.OrderResult{OrderID: "26101900001", Status: exchange.StatusOpen}, nil
	})
	exec := NewExecutor(database, bus, gw, "test")
	exec.Metrics = monitor.NewSystemMetrics()
	ctx := context.Background()

	res, err := exec.PlaceOrder(ctx, exchange.OrderRequest{
		StrategyID: "c1", Side: exchange.SideSell, Product: exchange.ProductIntraday,
		Exchange: "NFO", TradingSymbol: "NIFTY28OCT26P25500", Token: "43210", Qty: 75, PriceType: exchange.PriceMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, "26101900001", res.OrderID)

	_, err = exec.PlaceOrder(ctx, exchange.OrderRequest{Side: exchange.SideBuy, Exchange: "NFO", TradingSymbol: "BAD", Token: "1", Qty: 75, PriceType: exchange.PriceMarket})
	require.Error(t, err)

	n := (<-submitted).(Notice)
	assert.NotEmpty(t, n.ClientID)
	assert.Equal(t, "c1", n.StrategyID)
	r := (<-rejected).(Notice)
	assert.Contains(t, r.Error, "margin shortfall")

	audit, err := database.ListOrderAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	statuses := map[string]string{}
	for _, a := range audit {
		statuses[a.TradingSymbol] = a.Status
	}
	assert.Equal(t, "SUBMITTED", statuses["NIFTY28OCT26P25500"])
	assert.Equal(t, "FAILED", statuses["BAD"])

	snap := exec.Metrics.GetSnapshot()
	assert.Equal(t, uint64(1), snap.OrdersPlaced)
	assert.Equal(t, uint64(1), snap.OrderFailures)
}

func TestExecutorTreatsRejectedAckAsError(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
		return exchange.OrderResult{OrderID: "x", Status: exchange.StatusRejected}, nil
	})
	_, err := NewExecutor(nil, nil, gw, "test").PlaceOrder(context.Background(), exchange.OrderRequest{Qty: 1, Side: exchange.SideBuy})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = NewExecutor(nil, nil, gw, "test").PlaceOrder(context.Background(), exchange.OrderRequest{Qty: 0})
	assert.Error(t, err)
}

func TestPlaceConcurrentlyIsolatesFailures(t *testing.T) {
	var inFlight, peak atomic.Int32
	gw := gatewayFunc(func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		switch req.Token {
		case "A":
			return exchange.OrderResult{}, errors.New("leg A failed")
		case "P":
			panic("boom")
		}
		return exchange.OrderResult{OrderID: req.Token}, nil
	})

	out := PlaceConcurrently(context.Background(), gw,
		exchange.OrderRequest{Token: "A"},
		exchange.OrderRequest{Token: "B"},
		exchange.OrderRequest{Token: "P"},
	)
	require.Len(t, out, 3)
	assert.Error(t, out[0].Err)
	assert.NoError(t, out[1].Err)
	assert.Equal(t, "B", out[1].Result.OrderID)
	assert.Error(t, out[2].Err)
	assert.Equal(t, "P", out[2].Request.Token)
	assert.False(t, AllFailed(out))
	assert.GreaterOrEqual(t, peak.Load(), int32(2))

	assert.True(t, AllFailed([]Placement{{Err: errors.New("x")}}))
}

func TestPaperVenueFillsAtTouch(t *testing.T) {
	snap := market.NewSnapshot()
	snap.Apply(market.MarketTick{Exchange: "NFO", Token: "43210", LastPrice: market.F(100), BidPrice: market.F(99.5), AskPrice: market.F(100.5)})
	venue := NewPaperVenue(snap, func(string, string) int64 { return 75 })
	ctx := context.Background()

	_, err := venue.PlaceOrder(ctx, exchange.OrderRequest{Side: exchange.SideSell, Exchange: "nfo", Token: "43210", Qty: 150, PriceType: exchange.PriceMarket})
	require.NoError(t, err)
	_, err = venue.PlaceOrder(ctx, exchange.OrderRequest{Side: exchange.SideSell, Exchange: "NFO", Token: "43210", Qty: 150, PriceType: exchange.PriceLimit, Price: 101.5})
	require.NoError(t, err)

	positions, err := venue.PositionBook(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(-300), positions[0].NetQty)
	assert.Equal(t, int64(75), positions[0].LotSize)
	assert.InDelta(t, 100.5, positions[0].AvgPrice, 1e-9)

	trades, _ := venue.TradeBook(ctx)
	require.Len(t, trades, 2)
	assert.Equal(t, 101.5, trades[0].FilledPrice, "newest first")
	assert.Equal(t, 99.5, trades[1].FilledPrice)

	_, err = venue.PlaceOrder(ctx, exchange.OrderRequest{Side: exchange.SideBuy, Exchange: "NFO", Token: "43210", Qty: 300, PriceType: exchange.PriceMarket})
	require.NoError(t, err)
	positions, _ = venue.PositionBook(ctx)
	assert.Equal(t, int64(0), positions[0].NetQty)
}

func TestPaperVenueRejectsWithoutPrice(t *testing.T) {
	venue := NewPaperVenue(market.NewSnapshot(), nil)
	res, err := venue.PlaceOrder(context.Background(), exchange.OrderRequest{Side: exchange.SideBuy, Exchange: "NFO", Token: "1", Qty: 1, PriceType: exchange.PriceMarket})
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusRejected, res.Status)

	orders, _ := venue.OrderBook(context.Background())
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.StatusRejected, orders[0].Status)
	assert.False(t, orders[0].Timestamp().IsZero())
}

func TestPaperVenueQuoteAndSeries(t *testing.T) {
	snap := market.NewSnapshot()
	snap.Apply(market.MarketTick{Exchange: "NSE", Token: "26000", LastPrice: market.F(25900), BidPrice: market.F(25899), AskPrice: market.F(25901)})
	venue := NewPaperVenue(snap, nil)
	ctx := context.Background()

	q, err := venue.GetQuote(ctx, "NSE", "26000")
	require.NoError(t, err)
	assert.Equal(t, 25899.0, q.BestBid)
	assert.Equal(t, 25901.0, q.BestAsk)

	_, err = venue.GetQuote(ctx, "NSE", "1")
	assert.Error(t, err)

	end := time.Now().Add(-time.Minute).Truncate(time.Minute)
	start := end.Add(-9 * time.Minute)
	a, err := venue.TimePriceSeries(ctx, "NSE", "26000", start, end)
	require.NoError(t, err)
	b, _ := venue.TimePriceSeries(ctx, "NSE", "26000", start, end)
	require.Len(t, a, 10)
	assert.Equal(t, a, b)
	for _, c := range a {
		assert.LessOrEqual(t, c.Low, c.High)
	}
}
