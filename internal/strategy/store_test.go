package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-core/pkg/db"
	exchange "straddle-core/pkg/exchanges/common"
)

func sampleConfig(id string) Config {
	return Config{
		ID:           id,
		StrategyName: "NIFTY_STRANGLE",
		Exchange:     "nse",
		Token:        "26000",
		Side:         "B",
		IsActive:     true,
		LegA:         Leg{Exchange: "nfo", Side: exchange.SideSell, Token: "43210", OptionType: "pe", QuantityLots: 3, Ratio: 3},
		LegB:         Leg{Exchange: "NFO", Side: exchange.SideSell, Token: "43211", OptionType: "CE", QuantityLots: 2, Ratio: 2},
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return NewStore(database)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"well formed", func(*Config) {}, true},
		{"missing id", func(c *Config) { c.ID = "" }, false},
		{"bad side", func(c *Config) { c.Side = "HOLD" }, false},
		{"leg without exchange", func(c *Config) { c.LegB.Exchange = "" }, false},
		{"negative ratio", func(c *Config) { c.LegA.Ratio = -1 }, false},
		{"zero ratio defaults to one", func(c *Config) { c.LegA.Ratio = 0 }, true},
		{"negative lots", func(c *Config) { c.LegA.QuantityLots = -2 }, false},
		{"unknown exit status", func(c *Config) { c.ExitStatus = "DONE" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := sampleConfig("c1")
			tc.mutate(&cfg)
			cfg.Normalize()
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestNormalizeAndKeys(t *testing.T) {
	cfg := sampleConfig("c1")
	cfg.Normalize()

	assert.Equal(t, exchange.SideBuy, cfg.Side)
	assert.Equal(t, ExitActive, cfg.ExitStatus)
	assert.Equal(t, "NSE|26000", cfg.UnderlyingKey())
	assert.Equal(t, "NFO|43210", cfg.LegA.Key())
	assert.Equal(t, "PE", cfg.LegA.OptionType)
	assert.Equal(t, "NIFTY_STRANGLE|NFO|43210|NFO|43211", cfg.ExecutionKey())
	assert.True(t, cfg.Matches("NIFTY_STRANGLE", " 26000", "nse", exchange.SideBuy))
	assert.False(t, cfg.Matches("NIFTY_STRANGLE", "26000", "NSE", exchange.SideSell))
}

func TestExitStatusAdvance(t *testing.T) {
	assert.Equal(t, ExitExiting, ExitActive.Advance(ExitExiting))
	assert.Equal(t, ExitExited, ExitExited.Advance(ExitActive))
	assert.Equal(t, ExitExited, ExitExited.Advance(ExitExiting))
	assert.Equal(t, ExitActive, ExitStatus("").Advance(""))
}

func TestStoreRoundTripAndMonotonicExit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleConfig("c1")))
	inactive := sampleConfig("c2")
	inactive.IsActive = false
	require.NoError(t, store.Upsert(ctx, inactive))

	active, err := store.FindActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c1", active[0].ID)
	assert.Equal(t, int64(3), active[0].LegA.Ratio)

	cfg := active[0]
	cfg.ExitStatus = ExitExited
	cfg.ExitReason = ReasonRatioThreshold
	cfg.ExitOutcome = "FLAT"
	require.NoError(t, store.Update(ctx, cfg.ID, cfg))

	// A stale writer still holding ACTIVE must neither reopen the config nor
	// overwrite what the exit recorded.
	stale := active[0]
	stale.LegA.TradingSymbol = "NIFTY28OCT26P25500"
	require.NoError(t, store.Update(ctx, stale.ID, stale))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ExitExited, got.ExitStatus)
	assert.Equal(t, ReasonRatioThreshold, got.ExitReason)
	assert.Equal(t, "FLAT", got.ExitOutcome)
	assert.Empty(t, got.LegA.TradingSymbol)

	// Writers at the same stage still land.
	cfg.LegB.TradingSymbol = "NIFTY28OCT26C26500"
	require.NoError(t, store.Update(ctx, cfg.ID, cfg))
	got, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "NIFTY28OCT26C26500", got.LegB.TradingSymbol)
	assert.Equal(t, "FLAT", got.ExitOutcome)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, "missing", sampleConfig("x")), ErrNotFound)

	bad := sampleConfig("c3")
	bad.LegA.Ratio = -3
	assert.ErrorIs(t, store.Upsert(ctx, bad), ErrInvalidConfig)
}

func TestLoadConfigAndSync(t *testing.T) {
	yamlDoc := `
strategies:
  - id: nifty-1
    strategyName: NIFTY_STRANGLE
    exchange: NSE
    tokenNumber: "26000"
    side: BUY
    isActive: true
    productType: INTRADAY
    otmDifference: 1.5
    amountForLotCalEachLeg: 50000
    profitBookingPercentage: 20
    legA:
      exch: NFO
      instrument: OPTIDX
      optionType: PE
      expiry: 28-OCT-2026
      side: SELL
    legB:
      exch: NFO
      instrument: OPTIDX
      optionType: CE
      expiry: 28-OCT-2026
      side: SELL
`
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	configs, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, int64(1), configs[0].LegA.Ratio)
	assert.Equal(t, 1.5, configs[0].OTMDifference)
	assert.False(t, configs[0].Tradable())
	assert.Equal(t, exchange.ProductIntraday, configs[0].Product(configs[0].LegA))

	store := newStore(t)
	require.NoError(t, SyncConfigToStore(context.Background(), store, configs))
	got, err := store.Get(context.Background(), "nifty-1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.ProfitBookingPct)
}
