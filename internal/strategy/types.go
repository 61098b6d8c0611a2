package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	exchange "straddle-core/pkg/exchanges/common"
)

var (
	// ErrInvalidConfig marks a config rejected at the boundary.
	ErrInvalidConfig = errors.New("invalid straddle config")
	// ErrNotFound is returned when a config id does not exist.
	ErrNotFound = errors.New("straddle config not found")
)

// ExitStatus moves ACTIVE -> EXITING -> EXITED and never back.
type ExitStatus string

const (
	ExitActive  ExitStatus = "ACTIVE"
	ExitExiting ExitStatus = "EXITING"
	ExitExited  ExitStatus = "EXITED"
)

func (s ExitStatus) rank() int {
	switch s {
	case ExitExited:
		return 2
	case ExitExiting:
		return 1
	default:
		return 0
	}
}

// Advance returns the later of s and next.
func (s ExitStatus) Advance(next ExitStatus) ExitStatus {
	if next.rank() > s.rank() {
		return next
	}
	if s == "" {
		return ExitActive
	}
	return s
}

// Exit reasons recorded on a config.
const (
	ReasonRatioThreshold  = "RATIO_THRESHOLD"
	ReasonUnderlyingMove  = "UNDERLYING_MOVE"
	ReasonProfitBooking   = "PROFIT_BOOKING"
	ReasonStoplossBooking = "STOPLOSS_BOOKING"
	ReasonManual          = "MANUAL_EXIT"
)

// Leg is one instrument of the pair. The runtime block is written by the engines.
type Leg struct {
	Exchange      string        `json:"exch" yaml:"exch"`
	Instrument    string        `json:"instrument" yaml:"instrument"`
	OptionType    string        `json:"optionType" yaml:"optionType"`
	Expiry        string        `json:"expiry" yaml:"expiry"`
	Side          exchange.Side `json:"side" yaml:"side"`
	TradingSymbol string        `json:"tradingSymbol" yaml:"tradingSymbol"`
	Token         string        `json:"tokenNumber" yaml:"tokenNumber"`
	QuantityLots  int64         `json:"quantityLots" yaml:"quantityLots"`
	Ratio         int64         `json:"ratio" yaml:"ratio"`
	Product       string        `json:"productType,omitempty" yaml:"productType,omitempty"`
	LegLTP        float64       `json:"legLtp,omitempty" yaml:"-"`

	LivePrice     float64 `json:"livePrice,omitempty" yaml:"-"`
	OpenNetQty    int64   `json:"openNetQty,omitempty" yaml:"-"`
	AvgEntryPrice float64 `json:"avgEntryPrice,omitempty" yaml:"-"`
	LiveValue     float64 `json:"liveValue,omitempty" yaml:"-"`
	InvestedValue float64 `json:"investedValue,omitempty" yaml:"-"`
	LivePnL       float64 `json:"livePnL,omitempty" yaml:"-"`
	ValueRatio    float64 `json:"valueRatio,omitempty" yaml:"-"`
}

// Key returns the leg's "EXCH|token" key.
func (l Leg) Key() string { return exchange.Key(l.Exchange, l.Token) }

// ResetRuntime clears the valuation fields.
func (l *Leg) ResetRuntime() {
	l.LivePrice = 0
	l.OpenNetQty = 0
	l.AvgEntryPrice = 0
	l.LiveValue = 0
	l.InvestedValue = 0
	l.LivePnL = 0
	l.ValueRatio = 0
}

// UnderlyingPrice latches the underlying price at first sight and tracks it after.
type UnderlyingPrice struct {
	EntryPrice float64   `json:"entryPrice,omitempty"`
	EntryTime  time.Time `json:"entryTime,omitempty"`
	LivePrice  float64   `json:"livePrice,omitempty"`
	LiveTime   time.Time `json:"liveTime,omitempty"`
}

// Config is one two-leg straddle instance.
type Config struct {
	ID               string        `json:"id" yaml:"id"`
	StrategyName     string        `json:"strategyName" yaml:"strategyName"`
	Exchange         string        `json:"exchange" yaml:"exchange"`
	Token            string        `json:"tokenNumber" yaml:"tokenNumber"`
	Side             exchange.Side `json:"side" yaml:"side"`
	UnderlyingSymbol string        `json:"symbolName,omitempty" yaml:"symbolName,omitempty"`
	IsActive         bool          `json:"isActive" yaml:"isActive"`
	ProductType      string        `json:"productType,omitempty" yaml:"productType,omitempty"`

	OTMDifference float64 `json:"otmDifference,omitempty" yaml:"otmDifference,omitempty"`
	StrikeStep    float64 `json:"strikeStep,omitempty" yaml:"strikeStep,omitempty"`
	AmountPerLeg  float64 `json:"amountForLotCalEachLeg,omitempty" yaml:"amountForLotCalEachLeg,omitempty"`

	ProfitBookingPct   float64 `json:"profitBookingPercentage,omitempty" yaml:"profitBookingPercentage,omitempty"`
	StoplossBookingPct float64 `json:"stoplossBookingPercentage,omitempty" yaml:"stoplossBookingPercentage,omitempty"`

	LegA Leg `json:"legA" yaml:"legA"`
	LegB Leg `json:"legB" yaml:"legB"`

	LTP           float64         `json:"ltp,omitempty" yaml:"-"`
	LiveValue     float64         `json:"liveValue,omitempty" yaml:"-"`
	InvestedValue float64         `json:"investedValue,omitempty" yaml:"-"`
	TotalPnL      float64         `json:"totalPnL,omitempty" yaml:"-"`
	TotalPnLPct   float64         `json:"totalPnLPercentage,omitempty" yaml:"-"`
	Ratio         float64         `json:"ratio,omitempty" yaml:"-"`
	Underlying    UnderlyingPrice `json:"underlyingPrice" yaml:"-"`
	ExitStatus    ExitStatus      `json:"exitStatus" yaml:"-"`
	ExitReason    string          `json:"exitReason,omitempty" yaml:"-"`
	ExitOutcome   string          `json:"exitOutcome,omitempty" yaml:"-"`
	UpdatedAt     time.Time       `json:"updatedAt,omitempty" yaml:"-"`
}

// Legs returns pointers to both legs, A first.
func (c *Config) Legs() [2]*Leg { return [2]*Leg{&c.LegA, &c.LegB} }

// UnderlyingKey returns the underlying's "EXCH|token" key.
func (c *Config) UnderlyingKey() string { return exchange.Key(c.Exchange, c.Token) }

// ExecutionKey identifies one entry convergence target.
func (c *Config) ExecutionKey() string {
	return strings.Join([]string{
		c.StrategyName,
		strings.ToUpper(c.LegA.Exchange), c.LegA.Token,
		strings.ToUpper(c.LegB.Exchange), c.LegB.Token,
	}, "|")
}

// Product returns the leg's product type, falling back to the config's.
func (c *Config) Product(l Leg) exchange.ProductType {
	if l.Product != "" {
		return exchange.ProductType(strings.ToUpper(l.Product))
	}
	return exchange.ProductType(strings.ToUpper(c.ProductType))
}

// Matches reports whether the config answers a signal for (strategy, token, exchange, side).
func (c *Config) Matches(strategyName, token, exch string, side exchange.Side) bool {
	return c.StrategyName == strategyName &&
		c.Token == strings.TrimSpace(token) &&
		strings.EqualFold(c.Exchange, strings.TrimSpace(exch)) &&
		c.Side == side
}

// Normalize trims and upper-cases identifiers and fills defaults.
func (c *Config) Normalize() {
	c.ID = strings.TrimSpace(c.ID)
	c.StrategyName = strings.TrimSpace(c.StrategyName)
	c.Exchange = strings.ToUpper(strings.TrimSpace(c.Exchange))
	c.Token = strings.TrimSpace(c.Token)
	if side, ok := exchange.ParseSide(string(c.Side)); ok {
		c.Side = side
	}
	if c.ExitStatus == "" {
		c.ExitStatus = ExitActive
	}
	for _, l := range c.Legs() {
		l.Exchange = strings.ToUpper(strings.TrimSpace(l.Exchange))
		l.Token = strings.TrimSpace(l.Token)
		l.OptionType = strings.ToUpper(strings.TrimSpace(l.OptionType))
		if side, ok := exchange.ParseSide(string(l.Side)); ok {
			l.Side = side
		}
		if l.Ratio == 0 {
			l.Ratio = 1
		}
	}
}

// Validate rejects configs that are not a well-formed pair.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidConfig)
	}
	if c.StrategyName == "" {
		return fmt.Errorf("%w: %s: missing strategy name", ErrInvalidConfig, c.ID)
	}
	if c.Exchange == "" || c.Token == "" {
		return fmt.Errorf("%w: %s: missing underlying exchange/token", ErrInvalidConfig, c.ID)
	}
	if _, ok := exchange.ParseSide(string(c.Side)); !ok {
		return fmt.Errorf("%w: %s: bad side %q", ErrInvalidConfig, c.ID, c.Side)
	}
	switch c.ExitStatus {
	case ExitActive, ExitExiting, ExitExited:
	default:
		return fmt.Errorf("%w: %s: unknown exit status %q", ErrInvalidConfig, c.ID, c.ExitStatus)
	}
	if c.ProfitBookingPct < 0 || c.StoplossBookingPct < 0 {
		return fmt.Errorf("%w: %s: negative exit percentage", ErrInvalidConfig, c.ID)
	}
	for i, l := range c.Legs() {
		name := [2]string{"legA", "legB"}[i]
		if l.Exchange == "" {
			return fmt.Errorf("%w: %s: %s missing exchange", ErrInvalidConfig, c.ID, name)
		}
		if _, ok := exchange.ParseSide(string(l.Side)); !ok {
			return fmt.Errorf("%w: %s: %s bad side %q", ErrInvalidConfig, c.ID, name, l.Side)
		}
		if l.Ratio <= 0 {
			return fmt.Errorf("%w: %s: %s ratio must be positive", ErrInvalidConfig, c.ID, name)
		}
		if l.QuantityLots < 0 {
			return fmt.Errorf("%w: %s: %s quantity must not be negative", ErrInvalidConfig, c.ID, name)
		}
	}
	return nil
}

// Tradable reports whether both legs have resolved tokens.
func (c *Config) Tradable() bool {
	return c.LegA.Token != "" && c.LegB.Token != ""
}
