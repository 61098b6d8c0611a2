package market

import (
	"straddle-core/pkg/cache"
	exchange "straddle-core/pkg/exchanges/common"
)

// Snapshot is the shared last-known quote per (exchange, token).
// Stored ticks are replaced, never mutated, so values returned by Get are safe to read
// concurrently with later updates.
type Snapshot struct {
	ticks *cache.Sharded[MarketTick]
}

// NewSnapshot creates an empty snapshot cache.
func NewSnapshot() *Snapshot {
	return &Snapshot{ticks: cache.NewSharded[MarketTick]()}
}

// Apply merges u into the stored tick for its key and returns the merged result.
func (s *Snapshot) Apply(u MarketTick) MarketTick {
	u.Exchange = exchangeCode(u.Exchange)
	return s.ticks.Update(u.Key(), func(old MarketTick, found bool) MarketTick {
		if !found {
			return MarketTick{Exchange: u.Exchange, Token: u.Token}.Merge(u)
		}
		return old.Merge(u)
	})
}

// Get returns the last known tick for (exchange, token).
func (s *Snapshot) Get(exch, token string) (MarketTick, bool) {
	return s.ticks.Get(exchange.Key(exch, token))
}

// Stats reports how many keys are quoted and the age of the stalest one.
func (s *Snapshot) Stats() cache.Stats { return s.ticks.Stats() }

func exchangeCode(e string) string {
	k := exchange.Key(e, "")
	return k[:len(k)-1]
}
