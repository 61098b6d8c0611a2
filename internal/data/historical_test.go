package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-core/pkg/db"
	exchange "straddle-core/pkg/exchanges/common"
	"straddle-core/pkg/exchanges/noren"
)

type fakeSeries struct {
	bars  []exchange.Candle
	err   error
	calls int
	start time.Time
	end   time.Time
}

func (f *fakeSeries) TimePriceSeries(_ context.Context, _, _ string, start, end time.Time) ([]exchange.Candle, error) {
	f.calls++
	f.start, f.end = start, end
	return f.bars, f.err
}

func newStore(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func bar(at time.Time, high, low float64) exchange.Candle {
	return exchange.Candle{Time: at, Open: low, High: high, Low: low, Close: high, Volume: 10}
}

func TestGetHighLowFromTimeSeries(t *testing.T) {
	ctx := context.Background()
	open := time.Date(2026, 10, 19, 9, 15, 0, 0, noren.IST)
	series := &fakeSeries{bars: []exchange.Candle{
		bar(open, 100, 95),
		bar(open.Add(time.Minute), 104, 97),
		bar(open.Add(2*time.Minute), 104, 92),
		bar(open.Add(3*time.Minute), 101, 92),
	}}
	store := newStore(t)
	svc := NewHistoricalDataService(series, store)
	svc.now = func() time.Time { return open.Add(3 * time.Hour) }

	hl, err := svc.GetHighLowFromTimeSeries(ctx, "nse", "26000", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 104.0, hl.High)
	assert.True(t, hl.HighTime.Equal(open.Add(time.Minute)), "first bar to reach the high wins")
	assert.Equal(t, 92.0, hl.Low)
	assert.True(t, hl.LowTime.Equal(open.Add(2*time.Minute)))
	assert.Equal(t, 4, hl.Candles)
	assert.Equal(t, "NSE", hl.Exchange)

	assert.True(t, series.start.Equal(open), "defaults to session open")
	assert.True(t, series.end.Equal(time.Date(2026, 10, 19, 15, 30, 0, 0, noren.IST)))

	cached, err := store.CandlesBetween(ctx, "NSE", "26000", open, open.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, cached, 4)

	t.Run("falls back to cached bars", func(t *testing.T) {
		series.err = errors.New("venue down")
		hl, err := svc.GetHighLowFromTimeSeries(ctx, "NSE", "26000", open, open.Add(90*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 104.0, hl.High)
		assert.Equal(t, 95.0, hl.Low)
		assert.Equal(t, 2, hl.Candles)
	})

	t.Run("nothing cached surfaces the venue error", func(t *testing.T) {
		series.err = errors.New("venue down")
		_, err := svc.GetHighLowFromTimeSeries(ctx, "NSE", "99999", open, open.Add(time.Hour))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "venue down")
	})
}

func TestGetHighLowRejectsBadWindows(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, noren.IST)

	cases := []struct {
		name       string
		bars       []exchange.Candle
		start, end time.Time
		wantNone   bool
	}{
		{"empty series", nil, at, at.Add(time.Hour), true},
		{"zero prices only", []exchange.Candle{bar(at, 0, 0)}, at, at.Add(time.Hour), true},
		{"end before start", nil, at.Add(time.Hour), at, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewHistoricalDataService(&fakeSeries{bars: tc.bars}, nil)
			_, err := svc.GetHighLowFromTimeSeries(ctx, "NSE", "26000", tc.start, tc.end)
			require.Error(t, err)
			assert.Equal(t, tc.wantNone, errors.Is(err, ErrNoCandles))
		})
	}
}

func TestSessionWindow(t *testing.T) {
	late := time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC) // already the 20th in IST
	open, closeAt := SessionWindow(late)
	assert.Equal(t, 20, open.Day())
	assert.Equal(t, 9, open.Hour())
	assert.Equal(t, 15, open.Minute())
	assert.Equal(t, 15, closeAt.Hour())
	assert.Equal(t, 30, closeAt.Minute())
}
