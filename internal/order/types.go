package order

import (
	"context"
	"time"

	exchange "straddle-core/pkg/exchanges/common"
)

// Placer sends one order to a venue.
type Placer interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error)
}

// Notice is published on the bus for submitted and rejected orders.
type Notice struct {
	ClientID      string        `json:"clientId"`
	StrategyID    string        `json:"strategyId,omitempty"`
	VenueOrderID  string        `json:"orderId,omitempty"`
	Exchange      string        `json:"exchange"`
	Token         string        `json:"token"`
	TradingSymbol string        `json:"tradingSymbol"`
	Side          exchange.Side `json:"side"`
	Qty           int64         `json:"qty"`
	PriceType     string        `json:"priceType"`
	Price         float64       `json:"price,omitempty"`
	Remarks       string        `json:"remarks,omitempty"`
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	Time          time.Time     `json:"time"`
}

func noticeFor(req exchange.OrderRequest, status string) Notice {
	return Notice{
		ClientID:      req.ClientID,
		StrategyID:    req.StrategyID,
		Exchange:      req.Exchange,
		Token:         req.Token,
		TradingSymbol: req.TradingSymbol,
		Side:          req.Side,
		Qty:           req.Qty,
		PriceType:     string(req.PriceType),
		Price:         req.Price,
		Remarks:       req.Remarks,
		Status:        status,
		Time:          time.Now(),
	}
}
