package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-core/internal/events"
	exchange "straddle-core/pkg/exchanges/common"
	noren "straddle-core/pkg/market/noren"
)

func TestMergeKeepsFieldsTheUpdateDoesNotCarry(t *testing.T) {
	snap := NewSnapshot()
	snap.Apply(MarketTick{Exchange: "nfo", Token: "43210", LastPrice: F(100), BidPrice: F(99), AskPrice: F(101)})

	got := snap.Apply(MarketTick{Exchange: "NFO", Token: "43210", LastPrice: F(105)})

	require.NotNil(t, got.LastPrice)
	assert.Equal(t, 105.0, *got.LastPrice)
	assert.Equal(t, 99.0, *got.BidPrice)
	assert.Equal(t, 101.0, *got.AskPrice)
	assert.Nil(t, got.OI)

	stored, ok := snap.Get("NFO", "43210")
	require.True(t, ok)
	assert.Equal(t, got, stored)
	assert.Equal(t, 1, snap.Stats().TotalItems)
}

func TestMergeDoesNotAliasUpdate(t *testing.T) {
	lp := 100.0
	merged := MarketTick{}.Merge(MarketTick{LastPrice: &lp})
	lp = 1
	assert.Equal(t, 100.0, *merged.LastPrice)
}

func TestExitAndEntryPrice(t *testing.T) {
	full := MarketTick{LastPrice: F(100), BidPrice: F(99), AskPrice: F(101)}
	lpOnly := MarketTick{LastPrice: F(100), BidPrice: F(0)}

	cases := []struct {
		name string
		tick MarketTick
		net  int64
		want float64
		ok   bool
	}{
		{"long uses bid", full, 50, 99, true},
		{"short uses ask", full, -50, 101, true},
		{"flat has no price", full, 0, 0, false},
		{"long falls back to last", lpOnly, 50, 100, true},
		{"short falls back to last", lpOnly, -50, 100, true},
		{"nothing known", MarketTick{}, 50, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.tick.ExitPrice(tc.net)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	p, ok := full.EntryPrice(exchange.SideBuy)
	assert.True(t, ok)
	assert.Equal(t, 101.0, p)
	p, _ = full.EntryPrice(exchange.SideSell)
	assert.Equal(t, 99.0, p)
	p, _ = lpOnly.EntryPrice(exchange.SideSell)
	assert.Equal(t, 100.0, p)
}

func TestSnapshotConcurrentApply(t *testing.T) {
	snap := NewSnapshot()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				snap.Apply(MarketTick{Exchange: "NSE", Token: "26000", BidPrice: F(1)})
			} else {
				snap.Apply(MarketTick{Exchange: "NSE", Token: "26000", AskPrice: F(2)})
			}
		}(i)
	}
	wg.Wait()

	got, ok := snap.Get("NSE", "26000")
	require.True(t, ok)
	assert.Equal(t, 1.0, *got.BidPrice)
	assert.Equal(t, 2.0, *got.AskPrice)
}

func TestFromStream(t *testing.T) {
	lp := 25900.5
	tick := FromStream(noren.Tick{Exchange: "NSE", Token: "26000", LP: &lp, FeedTime: time.Unix(1760845500, 0)})
	assert.Equal(t, "NSE|26000", tick.Key())
	assert.Equal(t, lp, *tick.LastPrice)
	assert.Nil(t, tick.BidPrice)
	assert.Equal(t, int64(1760845500), tick.UpdatedAt.Unix())
}

func TestMockFeedPublishesEveryKey(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.EventPriceTick, 16)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := &MockFeed{
		Bus:         bus,
		Static:      []string{"NSE|26000"},
		Keys:        func() []string { return []string{"NFO|43210", "NSE|26000"} },
		StartPrices: map[string]float64{"NSE|26000": 25900},
		Interval:    5 * time.Millisecond,
	}
	feed.Start(ctx)

	seen := map[string]MarketTick{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case msg := <-ch:
			tick := msg.(MarketTick)
			seen[tick.Key()] = tick
		case <-deadline:
			t.Fatalf("only saw %v", seen)
		}
	}
	idx := seen["NSE|26000"]
	assert.InDelta(t, 25900, *idx.LastPrice, 100)
	assert.Less(t, *idx.BidPrice, *idx.AskPrice)
}

func TestNewKeysDedupes(t *testing.T) {
	got := newKeys(map[string]bool{"NSE|1": true}, []string{"NSE|1", "NFO|2", "", "NFO|2", "BSE|1"})
	assert.Equal(t, []string{"BSE|1", "NFO|2"}, got)
}
