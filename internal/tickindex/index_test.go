package tickindex

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"straddle-core/internal/strategy"
)

func cfg(id, und, a, b string) strategy.Config {
	return strategy.Config{
		ID: id, Exchange: "NSE", Token: und,
		LegA: strategy.Leg{Exchange: "NFO", Token: a},
		LegB: strategy.Leg{Exchange: "NFO", Token: b},
	}
}

func TestBuild(t *testing.T) {
	ix := Build([]strategy.Config{
		cfg("c2", "26000", "111", "222"),
		cfg("c1", "26000", "111", "333"),
		cfg("c3", "26009", "", "444"),
	})

	assert.Equal(t, []string{"c1", "c2"}, ix.ByToken("nfo", "111"))
	assert.Equal(t, []string{"c2"}, ix.ByToken("NFO", "222"))
	assert.Equal(t, []string{"c1", "c2"}, ix.ByToken("NSE", "26000"), "underlying ticks route to configs too")
	assert.Equal(t, []string{"c1", "c2"}, ix.ByUnderlying("NSE", "26000"))
	assert.Empty(t, ix.ByUnderlying("NFO", "111"))
	assert.Equal(t, []string{"c3"}, ix.ByToken("NFO", "444"))
	assert.Empty(t, ix.ByToken("NFO", ""))

	assert.Equal(t, []string{"NFO|111", "NFO|222", "NFO|333", "NFO|444", "NSE|26000", "NSE|26009"}, ix.Keys())
}

func TestBuildIsPureOverInput(t *testing.T) {
	configs := []strategy.Config{cfg("c1", "26000", "111", "222")}
	ix := Build(configs)
	configs[0].LegA.Token = "999"

	assert.Equal(t, []string{"c1"}, ix.ByToken("NFO", "111"))
	assert.Empty(t, ix.ByToken("NFO", "999"))

	var nilIx *Index
	assert.Nil(t, nilIx.ByToken("NFO", "111"))
}
