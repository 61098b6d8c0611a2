package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"straddle-core/internal/events"
	"straddle-core/internal/monitor"
	"straddle-core/pkg/db"
	exchange "straddle-core/pkg/exchanges/common"
)

// ErrRejected is returned when the venue acknowledges an order as REJECTED.
var ErrRejected = errors.New("order rejected by venue")

// Executor audits orders, sends them to the venue gateway, and emits updates.
type Executor struct {
	DB      *db.Database
	Bus     *events.Bus
	Gateway exchange.Gateway
	Metrics *monitor.SystemMetrics

	Venue string // name for logging
}

func NewExecutor(database *db.Database, bus *events.Bus, gw exchange.Gateway, venue string) *Executor {
	return &Executor{
		DB:      database,
		Bus:     bus,
		Gateway: gw,
		Venue:   venue,
	}
}

// PlaceOrder assigns a client id, records an audit row, and submits req.
func (e *Executor) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if e.Gateway == nil {
		return exchange.OrderResult{}, fmt.Errorf("executor: no gateway configured")
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	if req.Qty <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("executor: non-positive quantity %d for %s", req.Qty, req.TradingSymbol)
	}

	e.audit(ctx, func() error {
		return e.DB.CreateOrderAudit(ctx, db.OrderAudit{
			ID:            req.ClientID,
			StrategyID:    req.StrategyID,
			Exchange:      req.Exchange,
			Token:         req.Token,
			TradingSymbol: req.TradingSymbol,
			Side:          string(req.Side),
			Product:       req.Product.Code(),
			PriceType:     string(req.PriceType),
			Price:         req.Price,
			Qty:           req.Qty,
			Status:        "PENDING",
			Remarks:       req.Remarks,
		})
	})
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderSubmitted, noticeFor(req, "SUBMITTED"))
	}

	var timer *monitor.Timer
	if e.Metrics != nil {
		timer = monitor.NewTimer(e.Metrics.OrderLatency)
	}
	res, err := e.Gateway.PlaceOrder(ctx, req)
	if timer != nil {
		timer.Stop()
	}

	if err == nil && strings.EqualFold(res.Status, exchange.StatusRejected) {
		err = fmt.Errorf("%w: %s", ErrRejected, res.OrderID)
	}
	if err != nil {
		log.Printf("executor: submit %s %s x%d to %s failed: %v", req.Side, req.TradingSymbol, req.Qty, e.Venue, err)
		e.audit(ctx, func() error { return e.DB.UpdateOrderAudit(ctx, req.ClientID, res.OrderID, "FAILED", err.Error()) })
		if e.Metrics != nil {
			e.Metrics.IncrementOrderFailures()
		}
		if e.Bus != nil {
			n := noticeFor(req, "REJECTED")
			n.VenueOrderID = res.OrderID
			n.Error = err.Error()
			e.Bus.Publish(events.EventOrderRejected, n)
		}
		return res, err
	}

	log.Printf("executor: ✅ %s %s x%d %s -> %s (%s)", req.Side, req.TradingSymbol, req.Qty, req.PriceType, res.OrderID, e.Venue)
	e.audit(ctx, func() error { return e.DB.UpdateOrderAudit(ctx, req.ClientID, res.OrderID, "SUBMITTED", "") })
	if e.Metrics != nil {
		e.Metrics.IncrementOrders()
	}
	return res, nil
}

func (e *Executor) audit(ctx context.Context, fn func() error) {
	if e.DB == nil {
		return
	}
	if err := fn(); err != nil {
		log.Printf("executor: audit write failed: %v", err)
	}
}
