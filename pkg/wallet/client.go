// Package wallet reads on-chain collateral for the trading wallets:
// the hedge funder on Polygon (USDC that pays hedge IOCs) and the
// maker smart wallet on BSC. Balances feed the collateral guard, the
// accounts dashboard channel, and the balance command.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Polygon constants for the hedge venue. The maker chain's token and
// exchange are deployment-specific and come from configuration.
const (
	PolygonUSDC        = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	PolygonCTFExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
)

const erc20JSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Config describes one chain's collateral to watch.
type Config struct {
	RPCURL     string
	Chain      string         // metric label, e.g. "polygon", "bsc"
	Collateral common.Address // ERC-20 collateral token
	Spender    common.Address // exchange granted the allowance; zero skips the allowance read
	Decimals   int32          // collateral token decimals (USDC 6, BSC USDT 18)

	// DataAPIURL enables GetPositions; only the hedge venue has one.
	DataAPIURL string

	Logger *zap.Logger
}

// Client reads balances for one chain. It dials the RPC per call so a
// flaky endpoint never pins a dead connection.
type Client struct {
	cfg        Config
	erc20      abi.ABI
	httpClient *http.Client
	logger     *zap.Logger
}

// Balances holds one owner's on-chain state.
type Balances struct {
	Native     *big.Int // gas token, wei
	Collateral *big.Int // token base units
	Allowance  *big.Int // token base units; nil when no spender configured
}

// Position is one open hedge-venue position from the data API.
type Position struct {
	MarketSlug   string
	Outcome      string
	Size         float64
	Value        float64
	InitialValue float64
	CashPnL      float64
}

type dataAPIPosition struct {
	Size         float64 `json:"size"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnL      float64 `json:"cashPnl"`
	Slug         string  `json:"slug"`
	Outcome      string  `json:"outcome"`
}

// NewClient creates a wallet client for one chain.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("rpc url cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Collateral == (common.Address{}) {
		return nil, errors.New("collateral token address cannot be empty")
	}

	c := *cfg
	if c.Chain == "" {
		c.Chain = "unknown"
	}
	if c.Decimals <= 0 {
		c.Decimals = 6
	}

	parsed, err := abi.JSON(strings.NewReader(erc20JSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	return &Client{
		cfg:        c,
		erc20:      parsed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     c.Logger.Named("wallet").With(zap.String("chain", c.Chain)),
	}, nil
}

// Chain returns the metric label this client reports under.
func (c *Client) Chain() string {
	return c.cfg.Chain
}

// GetBalances fetches the owner's native, collateral, and allowance
// balances in one RPC session.
func (c *Client) GetBalances(ctx context.Context, owner common.Address) (*Balances, error) {
	client, err := ethclient.DialContext(ctx, c.cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	native, err := client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("get native balance: %w", err)
	}

	collateral, err := c.callUint(ctx, client, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("get collateral balance: %w", err)
	}

	out := &Balances{Native: native, Collateral: collateral}

	if c.cfg.Spender != (common.Address{}) {
		allowance, err := c.callUint(ctx, client, "allowance", owner, c.cfg.Spender)
		if err != nil {
			return nil, fmt.Errorf("get allowance: %w", err)
		}
		out.Allowance = allowance
	}
	return out, nil
}

// callUint packs one erc20 view call against the collateral token and
// decodes the uint256 result.
func (c *Client) callUint(ctx context.Context, client *ethclient.Client, method string, args ...interface{}) (*big.Int, error) {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	token := c.cfg.Collateral
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return new(big.Int).SetBytes(result), nil
}

// CollateralUSD converts base units to a dollar amount using the
// configured decimals.
func (c *Client) CollateralUSD(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.cfg.Decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), scale).Float64()
	return out
}

func weiToFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return out
}

// GetPositions fetches open positions from the hedge venue's data API.
func (c *Client) GetPositions(ctx context.Context, address string) ([]Position, error) {
	if c.cfg.DataAPIURL == "" {
		return nil, errors.New("no data api configured for this chain")
	}

	url := fmt.Sprintf("%s/positions?user=%s&sizeThreshold=0.01", c.cfg.DataAPIURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("positions api: status %d", resp.StatusCode)
	}

	var raw []dataAPIPosition
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		if p.Size <= 0 {
			continue
		}
		positions = append(positions, Position{
			MarketSlug:   p.Slug,
			Outcome:      p.Outcome,
			Size:         p.Size,
			Value:        p.CurrentValue,
			InitialValue: p.InitialValue,
			CashPnL:      p.CashPnL,
		})
	}
	return positions, nil
}
