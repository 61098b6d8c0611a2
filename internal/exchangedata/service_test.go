package exchangedata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-core/internal/events"
	"straddle-core/internal/monitor"
	"straddle-core/pkg/db"
	exchange "straddle-core/pkg/exchanges/common"
)

type fakeBooks struct {
	mu        sync.Mutex
	orders    []exchange.Order
	trades    []exchange.Trade
	positions []exchange.Position
	posErr    error
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	delay     time.Duration
}

func (f *fakeBooks) enter() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(f.delay)
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeBooks) OrderBook(ctx context.Context) ([]exchange.Order, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders, nil
}

func (f *fakeBooks) TradeBook(ctx context.Context) ([]exchange.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades, nil
}

func (f *fakeBooks) PositionBook(ctx context.Context) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posErr != nil {
		return nil, f.posErr
	}
	return f.positions, nil
}

func newDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestSyncSwapsBooksAndMirrors(t *testing.T) {
	books := &fakeBooks{
		orders:    []exchange.Order{{OrderID: "1", ExchangeOrderID: "x1", Status: "COMPLETE", Exchange: "NFO", Token: "43210", Side: exchange.SideSell}},
		trades:    []exchange.Trade{{OrderID: "1", ExchangeOrderID: "x1", FillID: "f1", Exchange: "NFO", Token: "43210", Side: exchange.SideSell, FilledQty: 75, FilledPrice: 100}},
		positions: []exchange.Position{{Exchange: "NFO", Token: "43210", NetQty: -75, LotSize: 75}},
	}
	database := newDB(t)
	bus := events.NewBus()
	notices, unsub := bus.Subscribe(events.EventPositionSync, 1)
	defer unsub()
	metrics := monitor.NewSystemMetrics()

	svc := NewService(books, database, bus, metrics, time.Second)
	require.NoError(t, svc.Sync(context.Background()))

	assert.Len(t, svc.Orders(), 1)
	assert.Len(t, svc.Trades(), 1)
	assert.True(t, svc.HasOpenPosition("nfo", " 43210"))
	assert.False(t, svc.HasOpenPosition("NFO", "99999"))
	p, ok := svc.Position("NFO", "43210")
	require.True(t, ok)
	assert.Equal(t, int64(-75), p.NetQty)

	orders, fills, positions, err := database.CountVenueRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, []int{orders, fills, positions})

	notice := (<-notices).(events.SyncNotice)
	assert.Equal(t, 1, notice.Positions)
	assert.Empty(t, notice.Err)
	assert.Equal(t, uint64(1), metrics.GetSnapshot().Syncs)
}

func TestSyncFailureKeepsPreviousSnapshot(t *testing.T) {
	books := &fakeBooks{positions: []exchange.Position{{Exchange: "NFO", Token: "1", NetQty: 50}}}
	svc := NewService(books, nil, nil, nil, time.Second)
	require.NoError(t, svc.Sync(context.Background()))

	books.mu.Lock()
	books.posErr = errors.New("session expired")
	books.orders = []exchange.Order{{OrderID: "2"}}
	books.mu.Unlock()

	err := svc.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "position book")
	assert.Len(t, svc.NetPositions(), 1, "failed book keeps last snapshot")
	assert.Len(t, svc.Orders(), 1, "other books still refresh")

	_, lastErr := svc.LastSync()
	assert.Error(t, lastErr)
}

func TestSyncIsSerialized(t *testing.T) {
	books := &fakeBooks{delay: 20 * time.Millisecond}
	svc := NewService(books, nil, nil, nil, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.ForceSync(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), books.maxFlight.Load())
}

func TestSyncWithoutSource(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, 0)
	assert.ErrorIs(t, svc.Sync(context.Background()), ErrNoSource)
}

func TestStartRefreshesInBackground(t *testing.T) {
	books := &fakeBooks{}
	svc := NewService(books, nil, nil, nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	books.mu.Lock()
	books.positions = []exchange.Position{{Exchange: "NSE", Token: "26000", NetQty: 1}}
	books.mu.Unlock()

	require.Eventually(t, func() bool { return svc.HasOpenPosition("NSE", "26000") }, time.Second, 5*time.Millisecond)
}

func TestPositionsMergeProductRows(t *testing.T) {
	rows := []exchange.Position{
		{Exchange: "NFO", Token: "43210", NetQty: 0, Product: "I"},
		{Exchange: "NFO", Token: "43210", NetQty: 150, LotSize: 75, AvgPrice: 101, Product: "M"},
		{Exchange: "NFO", Token: "55555", NetQty: 75, LotSize: 75},
		{Exchange: "nfo", Token: "66666", NetQty: 75, LotSize: 75, Product: "I"},
		{Exchange: "NFO", Token: "66666", NetQty: -75, Product: "M"},
	}
	svc := NewService(&fakeBooks{positions: rows}, nil, nil, nil, time.Second)
	require.NoError(t, svc.Sync(context.Background()))

	tests := []struct {
		name    string
		token   string
		netQty  int64
		lotSize int64
		product string
		open    bool
	}{
		{"open row behind a flat row", "43210", 150, 75, "M", true},
		{"single row", "55555", 75, 75, "", true},
		{"offsetting rows", "66666", 0, 75, "I", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := svc.Position("NFO", tt.token)
			require.True(t, ok)
			assert.Equal(t, tt.netQty, p.NetQty)
			assert.Equal(t, tt.lotSize, p.LotSize)
			assert.Equal(t, tt.product, p.Product)
			assert.Equal(t, tt.open, svc.HasOpenPosition("NFO", tt.token))
		})
	}

	_, ok := FindPosition(rows, "NFO", "99999")
	assert.False(t, ok)
	assert.False(t, svc.HasOpenPosition("NFO", ""))
}
