package polymarket

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"

	"github.com/mselser95/crossarb/pkg/types"
)

const polygonChainID = 137

// zeroTaker opens the order to any counterparty.
const zeroTaker = "0x0000000000000000000000000000000000000000"

// Signer produces venue-acceptable signed orders. Tests substitute a
// fake; production uses the EIP-712 order signer below.
type Signer interface {
	// SignOrder builds and signs an exchange order. The neg-risk flag
	// selects the alternative settlement contract and must be carried
	// bit-exact from market metadata.
	SignOrder(tokenID string, side types.Side, price, qty float64, negRisk bool, feeRateBps int, expiration int64) (*SignedOrder, error)

	// Address is the EOA that signs, reported in auth headers.
	Address() string
}

// SignedOrder is the wire form of a signed exchange order.
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// OrderSigner signs CLOB orders with a private key, optionally on
// behalf of a proxy funder wallet.
type OrderSigner struct {
	privateKey    *ecdsa.PrivateKey
	address       string // EOA, signs
	funder        string // maker of record; EOA when no proxy is used
	signatureType model.SignatureType
	builder       builder.ExchangeOrderBuilder
}

// NewOrderSigner parses the key and prepares the EIP-712 builder for
// Polygon mainnet.
func NewOrderSigner(privateKeyHex, funderAddress string, signatureType int) (*OrderSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("derive public key")
	}
	address := crypto.PubkeyToAddress(*publicKey).Hex()

	funder := funderAddress
	if funder == "" {
		funder = address
	}

	return &OrderSigner{
		privateKey:    privateKey,
		address:       address,
		funder:        funder,
		signatureType: model.SignatureType(signatureType),
		builder:       builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
	}, nil
}

// Address returns the signing EOA.
func (s *OrderSigner) Address() string {
	return s.address
}

// SignOrder builds the raw maker/taker amounts from price and share
// quantity, signs against the neg-risk-appropriate exchange contract,
// and renders the wire form.
func (s *OrderSigner) SignOrder(tokenID string, side types.Side, price, qty float64, negRisk bool, feeRateBps int, expiration int64) (*SignedOrder, error) {
	makerAmount, takerAmount := rawAmounts(side, price, qty)

	modelSide := model.BUY
	if side == types.SideSell {
		modelSide = model.SELL
	}

	contract := model.CTFExchange
	if negRisk {
		contract = model.NegRiskCTFExchange
	}

	data := &model.OrderData{
		Maker:         s.funder,
		Taker:         zeroTaker,
		TokenId:       tokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Side:          modelSide,
		FeeRateBps:    fmt.Sprintf("%d", feeRateBps),
		Nonce:         "0",
		Signer:        s.address,
		Expiration:    fmt.Sprintf("%d", expiration),
		SignatureType: s.signatureType,
	}

	signed, err := s.builder.BuildSignedOrder(s.privateKey, data, contract)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}

	sideStr := "BUY"
	if signed.Side.Uint64() == uint64(model.SELL) {
		sideStr = "SELL"
	}

	return &SignedOrder{
		Salt:          signed.Salt.Int64(),
		Maker:         signed.Maker.Hex(),
		Signer:        signed.Signer.Hex(),
		Taker:         signed.Taker.Hex(),
		TokenID:       signed.TokenId.String(),
		MakerAmount:   signed.MakerAmount.String(),
		TakerAmount:   signed.TakerAmount.String(),
		Side:          sideStr,
		Expiration:    signed.Expiration.String(),
		Nonce:         signed.Nonce.String(),
		FeeRateBps:    signed.FeeRateBps.String(),
		SignatureType: int(signed.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(signed.Signature),
	}, nil
}

// rawAmounts converts price and quantity into the 6-decimal raw
// integer amounts the exchange contract settles in. BUY spends USDC
// for tokens; SELL spends tokens for USDC.
func rawAmounts(side types.Side, price, qty float64) (maker, taker string) {
	p := decimal.NewFromFloat(price)
	q := decimal.NewFromFloat(qty)
	scale := decimal.New(1, 6)

	usdc := p.Mul(q).Mul(scale).Round(0)
	tokens := q.Mul(scale).Round(0)

	if side == types.SideBuy {
		return usdc.String(), tokens.String()
	}
	return tokens.String(), usdc.String()
}

// l2Signature computes the API-credential HMAC covering
// timestamp + method + path + body. Secret and output are URL-safe
// base64.
func l2Signature(secret, timestamp, method, path, body string) (string, error) {
	secretBytes, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(timestamp + method + path + body))

	return base64.URLEncoding.EncodeToString(h.Sum(nil)), nil
}
