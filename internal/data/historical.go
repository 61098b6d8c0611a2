package data

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"straddle-core/pkg/db"
	exchange "straddle-core/pkg/exchanges/common"
	"straddle-core/pkg/exchanges/noren"
)

// ErrNoCandles is returned when a window holds no usable bars.
var ErrNoCandles = errors.New("no candles in window")

// Session bounds used when a caller gives no window.
const (
	sessionOpenHour, sessionOpenMinute   = 9, 15
	sessionCloseHour, sessionCloseMinute = 15, 30
)

// CandleStore caches bars fetched from the venue.
type CandleStore interface {
	SaveCandles(ctx context.Context, candles []db.Candle) error
	CandlesBetween(ctx context.Context, exchange, token string, start, end time.Time) ([]db.Candle, error)
}

// HighLow is the extreme range of one instrument over a window.
type HighLow struct {
	Exchange string    `json:"exchange"`
	Token    string    `json:"token"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	High     float64   `json:"high"`
	HighTime time.Time `json:"highTime"`
	Low      float64   `json:"low"`
	LowTime  time.Time `json:"lowTime"`
	Candles  int       `json:"candles"`
}

// HistoricalDataService answers range queries over venue time series.
type HistoricalDataService struct {
	series exchange.SeriesSource
	store  CandleStore
	now    func() time.Time
}

// NewHistoricalDataService creates a service. store may be nil to disable caching.
func NewHistoricalDataService(series exchange.SeriesSource, store CandleStore) *HistoricalDataService {
	return &HistoricalDataService{series: series, store: store, now: time.Now}
}

// SessionWindow returns the trading session bounds of the IST day containing t.
func SessionWindow(t time.Time) (time.Time, time.Time) {
	d := t.In(noren.IST)
	y, m, day := d.Date()
	return time.Date(y, m, day, sessionOpenHour, sessionOpenMinute, 0, 0, noren.IST),
		time.Date(y, m, day, sessionCloseHour, sessionCloseMinute, 0, 0, noren.IST)
}

// GetHighLowFromTimeSeries returns the highest high and lowest low between start and end.
// A zero bound defaults to today's session. When the venue cannot be reached, bars
// cached by earlier queries are used instead.
func (s *HistoricalDataService) GetHighLowFromTimeSeries(ctx context.Context, exch, token string, start, end time.Time) (HighLow, error) {
	exch = strings.ToUpper(strings.TrimSpace(exch))
	token = strings.TrimSpace(token)
	openAt, closeAt := SessionWindow(s.now())
	if start.IsZero() {
		start = openAt
	}
	if end.IsZero() {
		end = closeAt
	}
	if end.Before(start) {
		return HighLow{}, fmt.Errorf("invalid window: end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	candles, err := s.candles(ctx, exch, token, start, end)
	if err != nil {
		return HighLow{}, err
	}

	hl := HighLow{Exchange: exch, Token: token, Start: start, End: end}
	for _, c := range candles {
		if c.Time.Before(start) || c.Time.After(end) {
			continue
		}
		if c.High > 0 && (hl.HighTime.IsZero() || c.High > hl.High) {
			hl.High, hl.HighTime = c.High, c.Time
		}
		if c.Low > 0 && (hl.LowTime.IsZero() || c.Low < hl.Low) {
			hl.Low, hl.LowTime = c.Low, c.Time
		}
		hl.Candles++
	}
	if hl.Candles == 0 || hl.HighTime.IsZero() || hl.LowTime.IsZero() {
		return HighLow{}, fmt.Errorf("%w: %s", ErrNoCandles, exchange.Key(exch, token))
	}
	return hl, nil
}

func (s *HistoricalDataService) candles(ctx context.Context, exch, token string, start, end time.Time) ([]exchange.Candle, error) {
	var fetchErr error
	if s.series != nil {
		bars, err := s.series.TimePriceSeries(ctx, exch, token, start, end)
		if err == nil {
			s.cache(ctx, exch, token, bars)
			return bars, nil
		}
		fetchErr = err
		log.Printf("data: ⚠️ time series %s failed, using cached bars: %v", exchange.Key(exch, token), err)
	}
	if s.store == nil {
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch time series: %w", fetchErr)
		}
		return nil, nil
	}

	stored, err := s.store.CandlesBetween(ctx, exch, token, start, end)
	if err != nil {
		return nil, errors.Join(fetchErr, err)
	}
	if len(stored) == 0 && fetchErr != nil {
		return nil, fmt.Errorf("fetch time series: %w", fetchErr)
	}
	out := make([]exchange.Candle, 0, len(stored))
	for _, c := range stored {
		out = append(out, exchange.Candle{Time: c.Time, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume})
	}
	return out, nil
}

func (s *HistoricalDataService) cache(ctx context.Context, exch, token string, bars []exchange.Candle) {
	if s.store == nil || len(bars) == 0 {
		return
	}
	rows := make([]db.Candle, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, db.Candle{
			Exchange: exch, Token: token,
			Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		})
	}
	if err := s.store.SaveCandles(ctx, rows); err != nil {
		log.Printf("data: cache candles %s: %v", exchange.Key(exch, token), err)
	}
}
