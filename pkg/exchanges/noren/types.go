package noren

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	exchange "straddle-core/pkg/exchanges/common"
)

// IST is the venue's wall clock. Fixed offset so no tzdata is needed.
var IST = time.FixedZone("IST", 5*3600+1800)

const (
	exchTimeLayout  = "02-01-2006 15:04:05" // exch_tm, fltm, TPSeries time
	entryTimeLayout = "15:04:05 02-01-2006" // norentm
)

// num decodes venue numerics that arrive as strings ("123.45"), numbers, or are absent.
type num float64

func (n *num) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = num(f)
	return nil
}

func parseExchTime(v string) time.Time {
	t, err := time.ParseInLocation(exchTimeLayout, strings.TrimSpace(v), IST)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseEntryTime(v string) time.Time {
	t, err := time.ParseInLocation(entryTimeLayout, strings.TrimSpace(v), IST)
	if err != nil {
		return time.Time{}
	}
	return t
}

type envelope struct {
	Stat string `json:"stat"`
	Emsg string `json:"emsg"`
}

type placeOrderResp struct {
	envelope
	OrderNo string `json:"norenordno"`
}

type orderRow struct {
	OrderNo     string `json:"norenordno"`
	ExchOrderID string `json:"exchordid"`
	Status      string `json:"status"`
	Exch        string `json:"exch"`
	Tsym        string `json:"tsym"`
	Token       string `json:"token"`
	Trantype    string `json:"trantype"`
	Qty         num    `json:"qty"`
	FillShares  num    `json:"fillshares"`
	Prc         num    `json:"prc"`
	AvgPrc      num    `json:"avgprc"`
	RejReason   string `json:"rejreason"`
	NorenTm     string `json:"norentm"`
	ExchTm      string `json:"exch_tm"`
}

func (r orderRow) toOrder() exchange.Order {
	side, _ := exchange.ParseSide(r.Trantype)
	return exchange.Order{
		OrderID:         r.OrderNo,
		ExchangeOrderID: r.ExchOrderID,
		Status:          strings.ToUpper(r.Status),
		Token:           strings.TrimSpace(r.Token),
		Exchange:        strings.ToUpper(r.Exch),
		TradingSymbol:   r.Tsym,
		Side:            side,
		Qty:             int64(r.Qty),
		FilledQty:       int64(r.FillShares),
		Price:           float64(r.Prc),
		AvgPrice:        float64(r.AvgPrc),
		RejectReason:    r.RejReason,
		Time:            parseEntryTime(r.NorenTm),
		ExchangeTime:    parseExchTime(r.ExchTm),
	}
}

type tradeRow struct {
	OrderNo     string `json:"norenordno"`
	ExchOrderID string `json:"exchordid"`
	FillID      string `json:"flid"`
	Exch        string `json:"exch"`
	Token       string `json:"token"`
	Trantype    string `json:"trantype"`
	FlQty       num    `json:"flqty"`
	FlPrc       num    `json:"flprc"`
	FlTm        string `json:"fltm"`
	ExchTm      string `json:"exch_tm"`
}

func (r tradeRow) toTrade() exchange.Trade {
	side, _ := exchange.ParseSide(r.Trantype)
	ts := parseExchTime(r.ExchTm)
	if ts.IsZero() {
		ts = parseExchTime(r.FlTm)
	}
	return exchange.Trade{
		OrderID:         r.OrderNo,
		ExchangeOrderID: r.ExchOrderID,
		FillID:          r.FillID,
		Token:           strings.TrimSpace(r.Token),
		Exchange:        strings.ToUpper(r.Exch),
		Side:            side,
		FilledQty:       int64(r.FlQty),
		FilledPrice:     float64(r.FlPrc),
		ExchangeTime:    ts,
	}
}

type positionRow struct {
	Exch      string `json:"exch"`
	Tsym      string `json:"tsym"`
	Token     string `json:"token"`
	NetQty    num    `json:"netqty"`
	LotSize   num    `json:"ls"`
	NetAvgPrc num    `json:"netavgprc"`
	Prd       string `json:"prd"`
}

func (r positionRow) toPosition() exchange.Position {
	return exchange.Position{
		Token:         strings.TrimSpace(r.Token),
		Exchange:      strings.ToUpper(r.Exch),
		TradingSymbol: r.Tsym,
		NetQty:        int64(r.NetQty),
		LotSize:       int64(r.LotSize),
		AvgPrice:      float64(r.NetAvgPrc),
		Product:       r.Prd,
	}
}

type quoteResp struct {
	envelope
	Exch  string `json:"exch"`
	Token string `json:"token"`
	Lp    num    `json:"lp"`
	Bp1   num    `json:"bp1"`
	Sp1   num    `json:"sp1"`
}

type seriesRow struct {
	Stat string `json:"stat"`
	Time string `json:"time"`
	Into num    `json:"into"`
	Inth num    `json:"inth"`
	Intl num    `json:"intl"`
	Intc num    `json:"intc"`
	Intv num    `json:"intv"`
}

func (r seriesRow) toCandle() exchange.Candle {
	return exchange.Candle{
		Time:   parseExchTime(r.Time),
		Open:   float64(r.Into),
		High:   float64(r.Inth),
		Low:    float64(r.Intl),
		Close:  float64(r.Intc),
		Volume: float64(r.Intv),
	}
}

// decodeList accepts either a JSON array of rows or an error envelope.
// A "no data" envelope is an empty book, not an error.
func decodeList[T any](raw []byte) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var rows []T
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if strings.Contains(strings.ToLower(env.Emsg), "no data") {
		return nil, nil
	}
	return nil, notOK(env)
}
