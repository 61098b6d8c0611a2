package common

import (
	"strings"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideSell {
		return SideBuy
	}
	return SideSell
}

// Code returns the venue transaction type (B/S).
func (s Side) Code() string {
	if s == SideSell {
		return "S"
	}
	return "B"
}

// ParseSide accepts BUY/SELL and the venue's B/S codes.
func ParseSide(v string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY", "B":
		return SideBuy, true
	case "SELL", "S":
		return SideSell, true
	}
	return "", false
}

// PriceType selects market or limit pricing.
type PriceType string

const (
	PriceMarket PriceType = "MKT"
	PriceLimit  PriceType = "LMT"
)

// ProductType is the margin product an order is booked under.
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductDelivery ProductType = "DELIVERY"
	ProductMargin   ProductType = "MARGIN"
)

// Code maps the product to the venue code: INTRADAY=I, DELIVERY=C, everything else M.
func (p ProductType) Code() string {
	switch ProductType(strings.ToUpper(string(p))) {
	case ProductIntraday:
		return "I"
	case ProductDelivery:
		return "C"
	default:
		return "M"
	}
}

// OrderStatus values reported by the venue order book.
const (
	StatusOpen      = "OPEN"
	StatusPending   = "PENDING"
	StatusComplete  = "COMPLETE"
	StatusCanceled  = "CANCELED"
	StatusRejected  = "REJECTED"
	StatusTriggered = "TRIGGER_PENDING"
)

// OrderRequest captures an order intent to be sent to the venue.
type OrderRequest struct {
	StrategyID    string
	Side          Side
	Product       ProductType
	Exchange      string
	TradingSymbol string
	Token         string
	Qty           int64
	PriceType     PriceType
	Price         float64 // required for LMT
	Remarks       string
	ClientID      string
}

// OrderResult returns the venue ack.
type OrderResult struct {
	OrderID string
	Status  string
}

// Position is one row of the venue net position book.
type Position struct {
	Token         string
	Exchange      string
	TradingSymbol string
	NetQty        int64 // signed units, positive long
	LotSize       int64
	AvgPrice      float64
	Product       string
}

// Order is one row of the venue order book.
type Order struct {
	OrderID         string
	ExchangeOrderID string
	Status          string
	Token           string
	Exchange        string
	TradingSymbol   string
	Side            Side
	Qty             int64
	FilledQty       int64
	Price           float64
	AvgPrice        float64
	RejectReason    string
	Time            time.Time // venue entry time
	ExchangeTime    time.Time // exchange timestamp, zero if not yet at exchange
}

// Timestamp prefers the exchange timestamp and falls back to the entry time.
func (o Order) Timestamp() time.Time {
	if !o.ExchangeTime.IsZero() {
		return o.ExchangeTime
	}
	return o.Time
}

// Trade is one fill of the venue trade book.
type Trade struct {
	OrderID         string
	ExchangeOrderID string
	FillID          string
	Token           string
	Exchange        string
	Side            Side
	FilledQty       int64
	FilledPrice     float64
	ExchangeTime    time.Time
}

// Quote is the venue's best-level quote for an instrument.
type Quote struct {
	Exchange  string
	Token     string
	BestBid   float64
	BestAsk   float64
	LastPrice float64
	Status    string
}

// Candle is one time-series bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Key builds the "EXCH|TOKEN" key used across caches and indices.
func Key(exchange, token string) string {
	return strings.ToUpper(strings.TrimSpace(exchange)) + "|" + strings.TrimSpace(token)
}
