package polymarket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mselser95/crossarb/pkg/types"
)

// Throwaway key for signing tests.
const testPrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestRawAmounts(t *testing.T) {
	tests := []struct {
		name      string
		side      types.Side
		price     float64
		qty       float64
		wantMaker string
		wantTaker string
	}{
		{
			name:      "buy-spends-usdc",
			side:      types.SideBuy,
			price:     0.55,
			qty:       10,
			wantMaker: "5500000",  // 5.50 USDC
			wantTaker: "10000000", // 10 tokens
		},
		{
			name:      "sell-spends-tokens",
			side:      types.SideSell,
			price:     0.42,
			qty:       3.5,
			wantMaker: "3500000",
			wantTaker: "1470000",
		},
		{
			name:      "fractional-rounding",
			side:      types.SideBuy,
			price:     0.333,
			qty:       3.3,
			wantMaker: "1098900",
			wantTaker: "3300000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker, taker := rawAmounts(tt.side, tt.price, tt.qty)
			assert.Equal(t, tt.wantMaker, maker)
			assert.Equal(t, tt.wantTaker, taker)
		})
	}
}

func TestOrderSignerSignOrder(t *testing.T) {
	signer, err := NewOrderSigner(testPrivateKey, "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, signer.Address())

	order, err := signer.SignOrder("123456", types.SideBuy, 0.55, 10, false, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, "BUY", order.Side)
	assert.Equal(t, "123456", order.TokenID)
	assert.Equal(t, "5500000", order.MakerAmount)
	assert.Equal(t, "10000000", order.TakerAmount)
	assert.Equal(t, signer.Address(), order.Signer)
	// No funder configured: maker is the signing EOA.
	assert.Equal(t, signer.Address(), order.Maker)
	assert.NotEmpty(t, order.Signature)
	assert.Equal(t, "0x", order.Signature[:2])
}

func TestOrderSignerFunderBecomesMaker(t *testing.T) {
	funder := "0x00000000000000000000000000000000DeaDBeef"
	signer, err := NewOrderSigner(testPrivateKey, funder, 2)
	require.NoError(t, err)

	order, err := signer.SignOrder("777", types.SideSell, 0.40, 5, true, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, "SELL", order.Side)
	assert.Equal(t, 2, order.SignatureType)
	assert.NotEqual(t, order.Maker, order.Signer)
}

func TestL2SignatureDeterministic(t *testing.T) {
	// Secret must be valid URL-safe base64.
	secret := "c2VjcmV0LWtleS1tYXRlcmlhbA=="

	sig1, err := l2Signature(secret, "1700000000", "POST", "/order", `{"a":1}`)
	require.NoError(t, err)
	sig2, err := l2Signature(secret, "1700000000", "POST", "/order", `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)

	sig3, err := l2Signature(secret, "1700000001", "POST", "/order", `{"a":1}`)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig3)
}

func TestL2SignatureBadSecret(t *testing.T) {
	_, err := l2Signature("not!!base64", "1700000000", "GET", "/x", "")
	assert.Error(t, err)
}

func TestQuantize(t *testing.T) {
	assert.InDelta(t, 0.55, quantize(0.5512, 0.01), 1e-9)
	assert.InDelta(t, 0.551, quantize(0.5512, 0.001), 1e-9)
	// No tick: passthrough.
	assert.InDelta(t, 0.5512, quantize(0.5512, 0), 1e-9)
}

func TestRejectCode(t *testing.T) {
	assert.Equal(t, "INVALID_ORDER_NOT_ENOUGH_BALANCE",
		rejectCode("INVALID_ORDER_NOT_ENOUGH_BALANCE: not enough balance"))
	assert.Equal(t, "FOK_ORDER_NOT_FILLED_ERROR",
		rejectCode("FOK_ORDER_NOT_FILLED_ERROR order couldn't be fully filled"))
	assert.Equal(t, types.ErrCodeUnknownStatus, rejectCode(""))
}
