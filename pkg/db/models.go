package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OrderAudit is one order this process sent to the venue.
type OrderAudit struct {
	ID            string
	StrategyID    string
	VenueOrderID  string
	Exchange      string
	Token         string
	TradingSymbol string
	Side          string
	Product       string
	PriceType     string
	Price         float64
	Qty           int64
	Status        string
	Error         string
	Remarks       string
	CreatedAt     time.Time
}

// VenueOrder mirrors one row of the venue order book.
type VenueOrder struct {
	OrderID       string
	ExchOrderID   string
	Status        string
	Exchange      string
	Token         string
	TradingSymbol string
	Side          string
	Qty           int64
	FilledQty     int64
	Price         float64
	AvgPrice      float64
	RejectReason  string
	OrderTime     time.Time
	ExchTime      time.Time
}

// VenueTrade mirrors one fill of the venue trade book.
type VenueTrade struct {
	OrderID     string
	ExchOrderID string
	FillID      string
	Exchange    string
	Token       string
	Side        string
	FilledQty   int64
	FilledPrice float64
	ExchTime    time.Time
}

// VenuePosition mirrors one row of the venue net position book.
type VenuePosition struct {
	Exchange      string
	Token         string
	TradingSymbol string
	NetQty        int64
	LotSize       int64
	AvgPrice      float64
	Product       string
}

// Candle is one stored time-series bar.
type Candle struct {
	Exchange string
	Token    string
	Time     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// CreateOrderAudit inserts a new audit row for an outbound order.
func (d *Database) CreateOrderAudit(ctx context.Context, o OrderAudit) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, strategy_id, venue_order_id, exchange, token, trading_symbol, side,
			product, price_type, price, qty, status, error, remarks, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		o.ID, o.StrategyID, o.VenueOrderID, o.Exchange, o.Token, o.TradingSymbol, o.Side,
		o.Product, o.PriceType, o.Price, o.Qty, o.Status, o.Error, o.Remarks, nullTime(o.CreatedAt),
	)
	return err
}

// UpdateOrderAudit records the venue acknowledgement (or failure) of an audited order.
func (d *Database) UpdateOrderAudit(ctx context.Context, id, venueOrderID, status, errMsg string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET venue_order_id = ?, status = ?, error = ? WHERE id = ?
	`, venueOrderID, status, errMsg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrderAudit returns the newest audited orders first.
func (d *Database) ListOrderAudit(ctx context.Context, limit int) ([]OrderAudit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(strategy_id, ''), COALESCE(venue_order_id, ''), exchange, token,
		       trading_symbol, side, product, price_type, price, qty, status,
		       COALESCE(error, ''), COALESCE(remarks, ''), created_at
		FROM orders
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderAudit
	for rows.Next() {
		var o OrderAudit
		if err := rows.Scan(&o.ID, &o.StrategyID, &o.VenueOrderID, &o.Exchange, &o.Token,
			&o.TradingSymbol, &o.Side, &o.Product, &o.PriceType, &o.Price, &o.Qty, &o.Status,
			&o.Error, &o.Remarks, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertVenueOrders mirrors the order book and drops rows from other trading days.
func (d *Database) UpsertVenueOrders(ctx context.Context, tradeDate string, orders []VenueOrder) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO venue_orders (
				order_id, exch_order_id, status, exchange, token, trading_symbol, side, qty,
				filled_qty, price, avg_price, reject_reason, order_time, exch_time, trade_date, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(order_id, exch_order_id) DO UPDATE SET
				status = excluded.status,
				qty = excluded.qty,
				filled_qty = excluded.filled_qty,
				price = excluded.price,
				avg_price = excluded.avg_price,
				reject_reason = excluded.reject_reason,
				exch_time = excluded.exch_time,
				trade_date = excluded.trade_date,
				updated_at = CURRENT_TIMESTAMP
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range orders {
			if _, err := stmt.ExecContext(ctx,
				o.OrderID, o.ExchOrderID, o.Status, o.Exchange, o.Token, o.TradingSymbol, o.Side, o.Qty,
				o.FilledQty, o.Price, o.AvgPrice, o.RejectReason, nullTime(o.OrderTime), nullTime(o.ExchTime), tradeDate,
			); err != nil {
				return fmt.Errorf("upsert venue order %s: %w", o.OrderID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM venue_orders WHERE trade_date <> ?`, tradeDate); err != nil {
			return fmt.Errorf("purge stale venue orders: %w", err)
		}
		return nil
	})
}

// UpsertVenueTrades mirrors the trade book and drops fills from other trading days.
func (d *Database) UpsertVenueTrades(ctx context.Context, tradeDate string, trades []VenueTrade) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO venue_trades (
				order_id, exch_order_id, fill_id, exchange, token, side, filled_qty, filled_price,
				exch_time, trade_date, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(order_id, exch_order_id, fill_id) DO UPDATE SET
				filled_qty = excluded.filled_qty,
				filled_price = excluded.filled_price,
				exch_time = excluded.exch_time,
				trade_date = excluded.trade_date,
				updated_at = CURRENT_TIMESTAMP
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range trades {
			if _, err := stmt.ExecContext(ctx,
				t.OrderID, t.ExchOrderID, t.FillID, t.Exchange, t.Token, t.Side, t.FilledQty, t.FilledPrice,
				nullTime(t.ExchTime), tradeDate,
			); err != nil {
				return fmt.Errorf("upsert venue trade %s: %w", t.OrderID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM venue_trades WHERE trade_date <> ?`, tradeDate); err != nil {
			return fmt.Errorf("purge stale venue trades: %w", err)
		}
		return nil
	})
}

// ReplaceVenuePositions swaps the mirrored position book for a fresh one.
func (d *Database) ReplaceVenuePositions(ctx context.Context, positions []VenuePosition) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM venue_positions`); err != nil {
			return fmt.Errorf("clear venue positions: %w", err)
		}
		for _, p := range positions {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO venue_positions (
					exchange, token, trading_symbol, net_qty, lot_size, avg_price, product, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			`, p.Exchange, p.Token, p.TradingSymbol, p.NetQty, p.LotSize, p.AvgPrice, p.Product); err != nil {
				return fmt.Errorf("insert venue position %s|%s: %w", p.Exchange, p.Token, err)
			}
		}
		return nil
	})
}

// CountVenueRows reports mirrored row counts (orders, trades, positions).
func (d *Database) CountVenueRows(ctx context.Context) (orders, trades, positions int, err error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM venue_orders),
		       (SELECT COUNT(*) FROM venue_trades),
		       (SELECT COUNT(*) FROM venue_positions)
	`)
	err = row.Scan(&orders, &trades, &positions)
	return
}

// SaveCandles stores time-series bars, replacing bars already stored for the same timestamp.
func (d *Database) SaveCandles(ctx context.Context, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO candles (exchange, token, ts, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range candles {
			if _, err := stmt.ExecContext(ctx, c.Exchange, c.Token, c.Time.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
				return fmt.Errorf("insert candle: %w", err)
			}
		}
		return nil
	})
}

// CandlesBetween returns stored bars for a key within [start, end], oldest first.
func (d *Database) CandlesBetween(ctx context.Context, exchange, token string, start, end time.Time) ([]Candle, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT exchange, token, ts, open, high, low, close, volume
		FROM candles
		WHERE exchange = ? AND token = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, exchange, token, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		var (
			c  Candle
			ts int64
		)
		if err := rows.Scan(&c.Exchange, &c.Token, &ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = time.Unix(ts, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
