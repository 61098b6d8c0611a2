package noren

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	exchange "straddle-core/pkg/exchanges/common"
)

// ErrNotOK is returned when the venue answers with a non-Ok status.
var ErrNotOK = errors.New("noren: request not ok")

func notOK(env envelope) error {
	if env.Emsg == "" {
		return fmt.Errorf("%w: stat=%q", ErrNotOK, env.Stat)
	}
	return fmt.Errorf("%w: %s", ErrNotOK, env.Emsg)
}

// Config holds the session used for every call.
type Config struct {
	BaseURL      string
	UserID       string
	AccountID    string
	SessionToken string
	RateLimit    float64 // requests per second, 0 disables throttling
}

// Client wraps REST access to a Noren-based broker API.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

var _ exchange.Venue = (*Client)(nil)

// New builds a REST client.
func New(cfg Config) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}
	if cfg.AccountID == "" {
		cfg.AccountID = cfg.UserID
	}
	return &Client{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    limiter,
	}
}

// post sends jData/jKey form payloads and returns the raw body.
func (c *Client) post(ctx context.Context, endpoint string, payload map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if _, ok := payload["uid"]; !ok {
		payload["uid"] = c.cfg.UserID
	}
	jData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	body := "jData=" + string(jData) + "&jKey=" + url.QueryEscape(c.cfg.SessionToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("noren %s status %d: %s", endpoint, res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// PlaceOrder submits a DAY order.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if req.Qty <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("noren: invalid quantity %d", req.Qty)
	}
	priceType := req.PriceType
	if priceType == "" {
		priceType = exchange.PriceMarket
	}
	price := "0"
	if priceType == exchange.PriceLimit {
		price = strconv.FormatFloat(req.Price, 'f', 2, 64)
	}

	raw, err := c.post(ctx, "PlaceOrder", map[string]string{
		"actid":       c.cfg.AccountID,
		"exch":        req.Exchange,
		"tsym":        req.TradingSymbol,
		"qty":         strconv.FormatInt(req.Qty, 10),
		"prc":         price,
		"prd":         req.Product.Code(),
		"trantype":    req.Side.Code(),
		"prctyp":      string(priceType),
		"ret":         "DAY",
		"remarks":     req.Remarks,
		"ordersource": "API",
	})
	if err != nil {
		return exchange.OrderResult{}, err
	}

	var resp placeOrderResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return exchange.OrderResult{}, fmt.Errorf("decode place order: %w", err)
	}
	if !strings.EqualFold(resp.Stat, "Ok") {
		return exchange.OrderResult{}, notOK(resp.envelope)
	}
	return exchange.OrderResult{OrderID: resp.OrderNo, Status: exchange.StatusPending}, nil
}

// OrderBook returns today's orders.
func (c *Client) OrderBook(ctx context.Context) ([]exchange.Order, error) {
	raw, err := c.post(ctx, "OrderBook", map[string]string{})
	if err != nil {
		return nil, err
	}
	rows, err := decodeList[orderRow](raw)
	if err != nil {
		return nil, fmt.Errorf("order book: %w", err)
	}
	out := make([]exchange.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toOrder())
	}
	return out, nil
}

// TradeBook returns today's fills.
func (c *Client) TradeBook(ctx context.Context) ([]exchange.Trade, error) {
	raw, err := c.post(ctx, "TradeBook", map[string]string{"actid": c.cfg.AccountID})
	if err != nil {
		return nil, err
	}
	rows, err := decodeList[tradeRow](raw)
	if err != nil {
		return nil, fmt.Errorf("trade book: %w", err)
	}
	out := make([]exchange.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTrade())
	}
	return out, nil
}

// PositionBook returns net positions.
func (c *Client) PositionBook(ctx context.Context) ([]exchange.Position, error) {
	raw, err := c.post(ctx, "PositionBook", map[string]string{"actid": c.cfg.AccountID})
	if err != nil {
		return nil, err
	}
	rows, err := decodeList[positionRow](raw)
	if err != nil {
		return nil, fmt.Errorf("position book: %w", err)
	}
	out := make([]exchange.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPosition())
	}
	return out, nil
}

// GetQuote returns the best-level quote for one instrument.
func (c *Client) GetQuote(ctx context.Context, exch, token string) (exchange.Quote, error) {
	raw, err := c.post(ctx, "GetQuotes", map[string]string{"exch": exch, "token": token})
	if err != nil {
		return exchange.Quote{}, err
	}
	var resp quoteResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return exchange.Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	if !strings.EqualFold(resp.Stat, "Ok") {
		return exchange.Quote{}, notOK(resp.envelope)
	}
	return exchange.Quote{
		Exchange:  exch,
		Token:     token,
		BestBid:   float64(resp.Bp1),
		BestAsk:   float64(resp.Sp1),
		LastPrice: float64(resp.Lp),
		Status:    resp.Stat,
	}, nil
}

// TimePriceSeries returns one-minute bars between start and end, oldest first.
func (c *Client) TimePriceSeries(ctx context.Context, exch, token string, start, end time.Time) ([]exchange.Candle, error) {
	raw, err := c.post(ctx, "TPSeries", map[string]string{
		"exch":  exch,
		"token": token,
		"st":    strconv.FormatInt(start.Unix(), 10),
		"et":    strconv.FormatInt(end.Unix(), 10),
		"intrv": "1",
	})
	if err != nil {
		return nil, err
	}
	rows, err := decodeList[seriesRow](raw)
	if err != nil {
		return nil, fmt.Errorf("time series: %w", err)
	}
	out := make([]exchange.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- { // venue returns newest first
		c := rows[i].toCandle()
		if c.Time.IsZero() {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
