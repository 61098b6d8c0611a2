package market

import (
	"context"
	"log"
	"math"
	"math/rand"
	"strings"
	"time"

	"straddle-core/internal/events"
)

// MockFeed generates synthetic ticks for local development and dry runs.
type MockFeed struct {
	Bus    *events.Bus
	Static []string
	Keys   func() []string
	// StartPrices seeds the walk per key; unknown keys start at DefaultPrice.
	StartPrices  map[string]float64
	DefaultPrice float64
	// StepPct is the max move per tick as a percent of price.
	StepPct  float64
	Interval time.Duration

	prices map[string]float64
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("mock feed: bus not set")
		return
	}
	if m.DefaultPrice == 0 {
		m.DefaultPrice = 100.0
	}
	if m.StepPct == 0 {
		m.StepPct = 0.05
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	m.prices = make(map[string]float64)

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.step()
			}
		}
	}()
}

func (m *MockFeed) step() {
	keys := append([]string(nil), m.Static...)
	if m.Keys != nil {
		keys = append(keys, m.Keys()...)
	}
	now := time.Now()
	for _, key := range newKeys(nil, keys) {
		exch, token, ok := strings.Cut(key, "|")
		if !ok {
			continue
		}
		price, seen := m.prices[key]
		if !seen {
			price = m.DefaultPrice
			if p, ok := m.StartPrices[key]; ok {
				price = p
			}
		}
		// simple random walk, rounded to 0.05
		price += (rand.Float64()*2 - 1) * price * m.StepPct / 100
		price = math.Max(0.05, math.Round(price*20)/20)
		m.prices[key] = price

		spread := math.Max(0.05, math.Round(price*0.0005*20)/20)
		m.Bus.Publish(events.EventPriceTick, MarketTick{
			Exchange:  exch,
			Token:     token,
			LastPrice: F(price),
			BidPrice:  F(price - spread),
			AskPrice:  F(price + spread),
			BidQty:    F(float64(50 * (1 + rand.Intn(20)))),
			AskQty:    F(float64(50 * (1 + rand.Intn(20)))),
			UpdatedAt: now,
		})
	}
}
