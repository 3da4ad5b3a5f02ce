package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func samplePair(inverted bool) *MarketPair {
	return &MarketPair{
		MakerMarketID: "101",
		MakerYesToken: "maker-yes",
		MakerNoToken:  "maker-no",
		HedgeYesToken: "hedge-yes",
		HedgeNoToken:  "hedge-no",
		Inverted:      inverted,
	}
}

func TestHedgeTokenFor(t *testing.T) {
	p := samplePair(false)
	assert.Equal(t, "hedge-yes", p.HedgeTokenFor(OutcomeYes))
	assert.Equal(t, "hedge-no", p.HedgeTokenFor(OutcomeNo))

	inv := samplePair(true)
	assert.Equal(t, "hedge-no", inv.HedgeTokenFor(OutcomeYes))
	assert.Equal(t, "hedge-yes", inv.HedgeTokenFor(OutcomeNo))
}

func TestMakerTokenFor(t *testing.T) {
	p := samplePair(false)
	assert.Equal(t, "maker-yes", p.MakerTokenFor(OutcomeYes))
	assert.Equal(t, "maker-no", p.MakerTokenFor(OutcomeNo))
}

func TestPairComplete(t *testing.T) {
	assert.True(t, samplePair(false).Complete())

	partial := samplePair(false)
	partial.HedgeNoToken = ""
	assert.False(t, partial.Complete())

	var nilPair *MarketPair
	assert.False(t, nilPair.Complete())
}
