package common

import (
	"context"
	"time"
)

// Gateway places orders on a venue.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// BookSource reads the venue's order, trade and net position books.
type BookSource interface {
	OrderBook(ctx context.Context) ([]Order, error)
	TradeBook(ctx context.Context) ([]Trade, error)
	PositionBook(ctx context.Context) ([]Position, error)
}

// QuoteSource reads top-of-book quotes.
type QuoteSource interface {
	GetQuote(ctx context.Context, exchange, token string) (Quote, error)
}

// SeriesSource reads historical time-series bars.
type SeriesSource interface {
	TimePriceSeries(ctx context.Context, exchange, token string, start, end time.Time) ([]Candle, error)
}

// Venue is the full contract a trading venue (live or paper) implements.
type Venue interface {
	Gateway
	BookSource
	QuoteSource
	SeriesSource
}
