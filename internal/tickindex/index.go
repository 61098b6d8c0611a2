package tickindex

import (
	"sort"

	"straddle-core/internal/strategy"
	exchange "straddle-core/pkg/exchanges/common"
)

// Index maps "EXCH|token" keys to the ids of configs they can affect.
// It is built once from a config list and never mutated afterwards.
type Index struct {
	byToken      map[string][]string
	byUnderlying map[string][]string
}

// Build indexes configs by each leg's key and by the underlying key (byToken),
// and by the underlying key alone (byUnderlying). Ids are deduplicated and sorted.
func Build(configs []strategy.Config) *Index {
	tok := make(map[string]map[string]struct{})
	und := make(map[string]map[string]struct{})
	add := func(m map[string]map[string]struct{}, key, id string) {
		if key == "" || id == "" {
			return
		}
		set, ok := m[key]
		if !ok {
			set = make(map[string]struct{})
			m[key] = set
		}
		set[id] = struct{}{}
	}

	for i := range configs {
		c := &configs[i]
		for _, leg := range c.Legs() {
			if leg.Token != "" {
				add(tok, leg.Key(), c.ID)
			}
		}
		if c.Token != "" {
			add(tok, c.UnderlyingKey(), c.ID)
			add(und, c.UnderlyingKey(), c.ID)
		}
	}
	return &Index{byToken: flatten(tok), byUnderlying: flatten(und)}
}

func flatten(m map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(m))
	for key, set := range m {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[key] = ids
	}
	return out
}

// ByToken returns ids of configs referencing (exchange, token) as a leg or underlying.
func (ix *Index) ByToken(exch, token string) []string {
	if ix == nil {
		return nil
	}
	return ix.byToken[exchange.Key(exch, token)]
}

// ByUnderlying returns ids of configs whose underlying is (exchange, token).
func (ix *Index) ByUnderlying(exch, token string) []string {
	if ix == nil {
		return nil
	}
	return ix.byUnderlying[exchange.Key(exch, token)]
}

// Keys lists every indexed key in sorted order, for feed subscriptions.
func (ix *Index) Keys() []string {
	if ix == nil {
		return nil
	}
	keys := make([]string, 0, len(ix.byToken))
	for k := range ix.byToken {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
