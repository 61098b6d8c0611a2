package market

import (
	"context"
	"log"
	"sort"
	"time"

	"straddle-core/internal/events"
	noren "straddle-core/pkg/market/noren"
)

// Feed streams venue ticks and publishes them on the event bus.
type Feed struct {
	Stream *noren.StreamClient
	Bus    *events.Bus
	// Static keys ("EXCH|token") subscribed regardless of configs.
	Static []string
	// Keys returns the keys currently referenced by active strategies.
	Keys func() []string
	// Resync is how often Keys is polled for new subscriptions.
	Resync time.Duration
}

// Start connects in the background and reconnects with backoff until ctx is done.
func (f *Feed) Start(ctx context.Context) {
	if f.Bus == nil || f.Stream == nil {
		log.Println("market feed not fully configured; skipping start")
		return
	}
	if f.Resync <= 0 {
		f.Resync = 5 * time.Second
	}
	go f.run(ctx)
}

func (f *Feed) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("market feed: session error: %v (retry in %s)", err, backoff)
		} else {
			log.Printf("market feed: stream closed (retry in %s)", backoff)
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	stream, err := f.Stream.Connect(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	subscribed := make(map[string]bool)
	subscribe := func() error {
		fresh := newKeys(subscribed, f.wanted())
		if len(fresh) == 0 {
			return nil
		}
		if err := stream.Subscribe(fresh); err != nil {
			return err
		}
		for _, k := range fresh {
			subscribed[k] = true
		}
		log.Printf("market feed: subscribed %d keys (%d total)", len(fresh), len(subscribed))
		return nil
	}
	if err := subscribe(); err != nil {
		return err
	}

	resync := time.NewTicker(f.Resync)
	defer resync.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resync.C:
			if err := subscribe(); err != nil {
				return err
			}
		case st, ok := <-stream.Ticks():
			if !ok {
				return nil
			}
			f.Bus.Publish(events.EventPriceTick, FromStream(st))
		}
	}
}

func (f *Feed) wanted() []string {
	keys := append([]string(nil), f.Static...)
	if f.Keys != nil {
		keys = append(keys, f.Keys()...)
	}
	return keys
}

func newKeys(have map[string]bool, want []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range want {
		if k == "" || have[k] || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
