package instrument

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	exchange "straddle-core/pkg/exchanges/common"
)

// ErrNotFound is returned when no instrument matches a lookup.
var ErrNotFound = errors.New("instrument not found")

// Instrument is one row of the instrument master.
type Instrument struct {
	Exchange      string  `json:"exchange"`
	Token         string  `json:"token"`
	Symbol        string  `json:"symbol"`
	TradingSymbol string  `json:"tradingSymbol"`
	Expiry        string  `json:"expiry,omitempty"`
	Instrument    string  `json:"instrument"`
	OptionType    string  `json:"optionType,omitempty"`
	StrikePrice   float64 `json:"strikePrice,omitempty"`
	LotSize       int64   `json:"lotSize,omitempty"`
	TickSize      float64 `json:"tickSize,omitempty"`
}

// Query identifies a contract by its terms rather than its token.
type Query struct {
	Exchange   string
	Instrument string
	OptionType string
	Expiry     string
	Strike     float64
	Symbol     string
}

// Catalog is a read-only instrument master. Safe for concurrent reads.
type Catalog struct {
	byKey      map[string]*Instrument
	byContract map[string][]*Instrument
}

// flex accepts a JSON string, number, or null.
type flex string

func (f *flex) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flex(v)
		return nil
	}
	*f = flex(s)
	return nil
}

type rawInstrument struct {
	Exchange      string `json:"exchange"`
	Token         flex   `json:"token"`
	Symbol        string `json:"symbol"`
	TradingSymbol string `json:"tradingSymbol"`
	Expiry        string `json:"expiry"`
	Instrument    string `json:"instrument"`
	OptionType    string `json:"optionType"`
	StrikePrice   flex   `json:"strikePrice"`
	LotSize       flex   `json:"lotSize"`
	TickSize      flex   `json:"tickSize"`
}

// LoadFile reads a JSON array of instruments from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instrument master: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a JSON array of instruments.
func Load(r io.Reader) (*Catalog, error) {
	dec := json.NewDecoder(r)
	var rows []rawInstrument
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode instrument master: %w", err)
	}
	list := make([]Instrument, 0, len(rows))
	for _, r := range rows {
		list = append(list, Instrument{
			Exchange:      strings.ToUpper(strings.TrimSpace(r.Exchange)),
			Token:         strings.TrimSpace(string(r.Token)),
			Symbol:        strings.TrimSpace(r.Symbol),
			TradingSymbol: strings.TrimSpace(r.TradingSymbol),
			Expiry:        strings.TrimSpace(r.Expiry),
			Instrument:    strings.TrimSpace(r.Instrument),
			OptionType:    strings.TrimSpace(r.OptionType),
			StrikePrice:   number(r.StrikePrice),
			LotSize:       int64(number(r.LotSize)),
			TickSize:      number(r.TickSize),
		})
	}
	return New(list), nil
}

func number(n flex) float64 {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// New indexes instruments. Later rows win on duplicate (exchange, token).
func New(list []Instrument) *Catalog {
	c := &Catalog{
		byKey:      make(map[string]*Instrument, len(list)),
		byContract: make(map[string][]*Instrument),
	}
	for i := range list {
		inst := list[i]
		if inst.Exchange == "" || inst.Token == "" {
			continue
		}
		c.byKey[exchange.Key(inst.Exchange, inst.Token)] = &inst
		ck := contractKey(inst.Exchange, inst.Instrument, inst.OptionType, inst.Expiry, inst.Symbol)
		c.byContract[ck] = append(c.byContract[ck], &inst)
	}
	return c
}

func contractKey(exch, instrument, optionType, expiry, symbol string) string {
	return strings.ToUpper(strings.Join([]string{
		strings.TrimSpace(exch),
		strings.TrimSpace(instrument),
		strings.TrimSpace(optionType),
		strings.TrimSpace(expiry),
		strings.TrimSpace(symbol),
	}, "|"))
}

// Len returns the number of instruments indexed by (exchange, token).
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byKey)
}

// Get looks up an instrument by (exchange, token).
func (c *Catalog) Get(exch, token string) (Instrument, bool) {
	if c == nil {
		return Instrument{}, false
	}
	inst, ok := c.byKey[exchange.Key(exch, token)]
	if !ok {
		return Instrument{}, false
	}
	return *inst, true
}

// LotSize returns the lot size for (exchange, token), defaulting to 1 when unknown.
func (c *Catalog) LotSize(exch, token string) int64 {
	inst, ok := c.Get(exch, token)
	if !ok || inst.LotSize <= 0 {
		return 1
	}
	return inst.LotSize
}

// Find resolves a contract by its terms.
func (c *Catalog) Find(q Query) (Instrument, error) {
	if c == nil {
		return Instrument{}, ErrNotFound
	}
	for _, inst := range c.byContract[contractKey(q.Exchange, q.Instrument, q.OptionType, q.Expiry, q.Symbol)] {
		if math.Abs(inst.StrikePrice-q.Strike) < 1e-6 {
			return *inst, nil
		}
	}
	return Instrument{}, fmt.Errorf("%w: %s %s %s %s %.2f %s", ErrNotFound,
		q.Exchange, q.Instrument, q.OptionType, q.Expiry, q.Strike, q.Symbol)
}
