package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-core/internal/instrument"
	"straddle-core/internal/market"
	"straddle-core/internal/strategy"
	exchange "straddle-core/pkg/exchanges/common"
)

func TestNormalizeRatios(t *testing.T) {
	cases := []struct {
		name         string
		a, b         int64
		wantA, wantB int64
	}{
		{"gcd reduction", 12, 8, 3, 2},
		{"already coprime", 9, 4, 9, 4},
		{"rescaled above nine", 20, 3, 6, 1},
		{"floor of one after rescale", 30, 1, 7, 1},
		{"one side zero", 0, 5, 1, 1},
		{"both zero", 0, 0, 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, b := NormalizeRatios(tc.a, tc.b)
			assert.Equal(t, tc.wantA, a)
			assert.Equal(t, tc.wantB, b)
		})
	}
}

func TestLegQuantity(t *testing.T) {
	cases := []struct {
		name   string
		amount float64
		price  float64
		lot    int64
		want   int64
		ok     bool
	}{
		{"exact", 15000, 100, 75, 2, true},
		{"half rounds down", 11250, 100, 75, 1, true},
		{"above half rounds up", 11300, 100, 75, 2, true},
		{"below one lot", 3000, 100, 75, 0, true},
		{"no price", 15000, 0, 75, 0, false},
		{"no amount", 0, 100, 75, 0, false},
		{"no lot size", 15000, 100, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := LegQuantity(tc.amount, tc.price, tc.lot)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTargetStrike(t *testing.T) {
	assert.Equal(t, 26300.0, TargetStrike(26000, 1, "CE", 100))
	assert.Equal(t, 25700.0, TargetStrike(26000, 1, "pe", 100))
	assert.Equal(t, 26050.0, TargetStrike(26040, 0, "CE", 50))
	assert.Equal(t, 123.4, RoundStrike(123.4, 0))
	assert.True(t, IsDerivative(" nfo "))
	assert.False(t, IsDerivative("NSE"))
}

type memStore struct {
	mu      sync.Mutex
	cfgs    []strategy.Config
	updates int
}

func (s *memStore) FindActive(context.Context) ([]strategy.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]strategy.Config(nil), s.cfgs...), nil
}

func (s *memStore) Update(_ context.Context, id string, cfg strategy.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cfgs {
		if s.cfgs[i].ID == id {
			s.cfgs[i] = cfg
			s.updates++
			return nil
		}
	}
	return strategy.ErrNotFound
}

func (s *memStore) get(id string) strategy.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cfgs {
		if c.ID == id {
			return c
		}
	}
	return strategy.Config{}
}

type openSet map[string]bool

func (o openSet) HasOpenPosition(exch, token string) bool { return o[exchange.Key(exch, token)] }

func optionRow(token, optType string, strike float64) instrument.Instrument {
	return instrument.Instrument{
		Exchange: "NFO", Token: token, Symbol: "NIFTY", TradingSymbol: "NIFTY" + token,
		Expiry: "28-OCT-2026", Instrument: "OPTIDX", OptionType: optType, StrikePrice: strike, LotSize: 75,
	}
}

func TestResolverRollsAndLocks(t *testing.T) {
	ctx := context.Background()
	catalog := instrument.New([]instrument.Instrument{
		optionRow("111", "CE", 26300),
		optionRow("222", "PE", 25700),
		optionRow("333", "CE", 26400),
	})

	leg := func(opt string) strategy.Leg {
		return strategy.Leg{Exchange: "NFO", Instrument: "OPTIDX", OptionType: opt, Expiry: "28-OCT-2026", Side: exchange.SideBuy, Ratio: 1}
	}
	cfg := strategy.Config{
		ID: "cfg-1", StrategyName: "NIFTY_STRADDLE", Exchange: "NSE", Token: "26000", Side: exchange.SideBuy,
		IsActive: true, OTMDifference: 1, StrikeStep: 100, AmountPerLeg: 15000,
		LegA: leg("CE"), LegB: leg("PE"),
	}
	cfg.Normalize()
	exited := cfg
	exited.ID = "cfg-exited"
	exited.ExitStatus = strategy.ExitExited

	store := &memStore{cfgs: []strategy.Config{cfg, exited}}
	snap := market.NewSnapshot()
	open := openSet{}
	r := NewResolver(store, catalog, snap, open, 0)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing resolves without an underlying price")

	snap.Apply(market.MarketTick{Exchange: "NSE", Token: "26000", LastPrice: market.F(26000)})
	snap.Apply(market.MarketTick{Exchange: "NFO", Token: "111", AskPrice: market.F(100), LastPrice: market.F(99)})
	snap.Apply(market.MarketTick{Exchange: "NFO", Token: "222", AskPrice: market.F(50)})

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := store.get("cfg-1")
	assert.Equal(t, "111", got.LegA.Token)
	assert.Equal(t, "NIFTY111", got.LegA.TradingSymbol)
	assert.Equal(t, "222", got.LegB.Token)
	assert.Equal(t, 100.0, got.LegA.LegLTP, "buy leg priced at the ask")
	assert.Equal(t, int64(2), got.LegA.QuantityLots)
	assert.Equal(t, int64(4), got.LegB.QuantityLots)
	assert.Equal(t, int64(1), got.LegA.Ratio)
	assert.Equal(t, int64(2), got.LegB.Ratio)
	assert.Equal(t, strategy.ExitExited, store.get("cfg-exited").ExitStatus)
	assert.Empty(t, store.get("cfg-exited").LegA.Token, "exited configs never roll")

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "unchanged configs are not rewritten")

	open["NFO|111"] = true
	snap.Apply(market.MarketTick{Exchange: "NSE", Token: "26000", LastPrice: market.F(26100)})
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got = store.get("cfg-1")
	assert.Equal(t, "111", got.LegA.Token, "open leg keeps its strike")
	assert.Equal(t, 26100.0, got.LTP)
	assert.Equal(t, "222", got.LegB.Token, "no contract at the new PE strike")
}
