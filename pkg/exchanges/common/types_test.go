package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProductCode(t *testing.T) {
	cases := map[ProductType]string{
		ProductIntraday: "I",
		"intraday":      "I",
		ProductDelivery: "C",
		ProductMargin:   "M",
		"":              "M",
		"NRML":          "M",
	}
	for in, want := range cases {
		assert.Equal(t, want, in.Code(), "product %q", in)
	}
}

func TestSideHelpers(t *testing.T) {
	assert.Equal(t, int64(1), SideBuy.Sign())
	assert.Equal(t, int64(-1), SideSell.Sign())
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, "S", SideSell.Code())

	s, ok := ParseSide(" b ")
	assert.True(t, ok)
	assert.Equal(t, SideBuy, s)
	_, ok = ParseSide("EXIT")
	assert.False(t, ok)
}

func TestOrderTimestampPrefersExchangeTime(t *testing.T) {
	entry := time.Date(2026, 10, 19, 9, 20, 0, 0, time.UTC)
	o := Order{Time: entry}
	assert.Equal(t, entry, o.Timestamp())

	o.ExchangeTime = entry.Add(time.Second)
	assert.Equal(t, entry.Add(time.Second), o.Timestamp())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "NFO|43210", Key(" nfo", "43210 "))
}
