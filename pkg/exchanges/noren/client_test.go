package noren

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exchange "straddle-core/pkg/exchanges/common"
)

type recorded struct {
	endpoint string
	jData    map[string]string
	jKey     string
}

func newTestVenue(t *testing.T, responses map[string]string) (*Client, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var payload map[string]string
		if err := json.Unmarshal([]byte(form.Get("jData")), &payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		endpoint := strings.TrimPrefix(r.URL.Path, "/")
		mu.Lock()
		seen = append(seen, recorded{endpoint: endpoint, jData: payload, jKey: form.Get("jKey")})
		mu.Unlock()

		resp, ok := responses[endpoint]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, UserID: "FA1234", SessionToken: "sess-token"})
	return c, &seen
}

func TestPlaceOrderEncodesVenueFields(t *testing.T) {
	c, seen := newTestVenue(t, map[string]string{
		"PlaceOrder": `{"stat":"Ok","norenordno":"24101900001"}`,
	})

	res, err := c.PlaceOrder(context.Background(), exchange.OrderRequest{
		Side: exchange.SideSell, Product: exchange.ProductIntraday, Exchange: "NFO",
		TradingSymbol: "NIFTY28OCT26P25500", Qty: 150, PriceType: exchange.PriceLimit, Price: 101.5,
		Remarks: "straddle-a",
	})
	require.NoError(t, err)
	assert.Equal(t, "24101900001", res.OrderID)

	require.Len(t, *seen, 1)
	got := (*seen)[0]
	assert.Equal(t, "sess-token", got.jKey)
	assert.Equal(t, "FA1234", got.jData["uid"])
	assert.Equal(t, "FA1234", got.jData["actid"])
	assert.Equal(t, "S", got.jData["trantype"])
	assert.Equal(t, "I", got.jData["prd"])
	assert.Equal(t, "LMT", got.jData["prctyp"])
	assert.Equal(t, "101.50", got.jData["prc"])
	assert.Equal(t, "150", got.jData["qty"])
}

func TestPlaceOrderNotOK(t *testing.T) {
	c, _ := newTestVenue(t, map[string]string{
		"PlaceOrder": `{"stat":"Not_Ok","emsg":"Session Expired"}`,
	})
	_, err := c.PlaceOrder(context.Background(), exchange.OrderRequest{Side: exchange.SideBuy, Exchange: "NFO", TradingSymbol: "X", Qty: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotOK)
	assert.Contains(t, err.Error(), "Session Expired")

	_, err = c.PlaceOrder(context.Background(), exchange.OrderRequest{Qty: 0})
	assert.Error(t, err)
}

func TestBooksDecodeStringNumerics(t *testing.T) {
	c, _ := newTestVenue(t, map[string]string{
		"OrderBook": `[{"norenordno":"1","exchordid":"1100","status":"REJECTED","exch":"NFO","tsym":"NIFTY","token":"43210",
			"trantype":"B","qty":"75","fillshares":"0","prc":"0.00","avgprc":"0","rejreason":"RMS: margin",
			"norentm":"09:20:01 19-10-2026","exch_tm":"19-10-2026 09:20:02"}]`,
		"TradeBook": `[{"norenordno":"2","exchordid":"1101","flid":"9","exch":"NFO","token":"43210","trantype":"S",
			"flqty":"75","flprc":"101.25","fltm":"19-10-2026 09:21:00","exch_tm":""}]`,
		"PositionBook": `[{"exch":"NFO","tsym":"NIFTY","token":"43210","netqty":"-75","ls":"75","netavgprc":"101.25","prd":"M"}]`,
	})
	ctx := context.Background()

	orders, err := c.OrderBook(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.StatusRejected, orders[0].Status)
	assert.Equal(t, exchange.SideBuy, orders[0].Side)
	assert.Equal(t, int64(75), orders[0].Qty)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 20, 2, 0, IST), orders[0].ExchangeTime)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 20, 1, 0, IST), orders[0].Time)

	trades, err := c.TradeBook(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 101.25, trades[0].FilledPrice)
	assert.Equal(t, exchange.SideSell, trades[0].Side)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 21, 0, 0, IST), trades[0].ExchangeTime)

	positions, err := c.PositionBook(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(-75), positions[0].NetQty)
	assert.Equal(t, int64(75), positions[0].LotSize)
}

func TestEmptyBookIsNotAnError(t *testing.T) {
	c, _ := newTestVenue(t, map[string]string{
		"OrderBook": `{"stat":"Not_Ok","emsg":"Error Occurred : 5 \"no data\""}`,
		"TradeBook": `{"stat":"Not_Ok","emsg":"Invalid Session Key"}`,
	})
	orders, err := c.OrderBook(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = c.TradeBook(context.Background())
	assert.ErrorIs(t, err, ErrNotOK)
}

func TestQuoteAndSeries(t *testing.T) {
	c, seen := newTestVenue(t, map[string]string{
		"GetQuotes": `{"stat":"Ok","exch":"NFO","token":"43210","lp":"100.5","bp1":"100.4","sp1":"100.6"}`,
		"TPSeries": `[
			{"stat":"Ok","time":"19-10-2026 09:16:00","into":"101","inth":"103","intl":"100","intc":"102","intv":"10"},
			{"stat":"Ok","time":"19-10-2026 09:15:00","into":"100","inth":"101","intl":"99","intc":"101","intv":"12"}
		]`,
	})
	ctx := context.Background()

	q, err := c.GetQuote(ctx, "NFO", "43210")
	require.NoError(t, err)
	assert.Equal(t, 100.4, q.BestBid)
	assert.Equal(t, 100.6, q.BestAsk)
	assert.Equal(t, 100.5, q.LastPrice)

	start := time.Date(2026, 10, 19, 9, 15, 0, 0, IST)
	bars, err := c.TimePriceSeries(ctx, "NSE", "26000", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Time.Before(bars[1].Time), "bars must be oldest first")
	assert.Equal(t, 103.0, bars[1].High)

	last := (*seen)[len(*seen)-1]
	assert.Equal(t, "1", last.jData["intrv"])
}
