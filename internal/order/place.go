package order

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	exchange "straddle-core/pkg/exchanges/common"
)

// Placement is the outcome of one concurrently placed order.
type Placement struct {
	Request exchange.OrderRequest
	Result  exchange.OrderResult
	Err     error
	Latency time.Duration
}

// PlaceConcurrently sends every request in parallel and waits for all of them.
// One failure never cancels the others. Results keep the order of reqs.
func PlaceConcurrently(ctx context.Context, placer Placer, reqs ...exchange.OrderRequest) []Placement {
	out := make([]Placement, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req exchange.OrderRequest) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("❌ order placement panic for %s: %v", req.TradingSymbol, r)
					out[i] = Placement{Request: req, Err: errPanic}
				}
			}()
			start := time.Now()
			res, err := placer.PlaceOrder(ctx, req)
			out[i] = Placement{Request: req, Result: res, Err: err, Latency: time.Since(start)}
		}(i, req)
	}
	wg.Wait()
	return out
}

// AllFailed reports whether no placement succeeded.
func AllFailed(ps []Placement) bool {
	for _, p := range ps {
		if p.Err == nil {
			return false
		}
	}
	return true
}

var errPanic = errors.New("order placement panicked")
