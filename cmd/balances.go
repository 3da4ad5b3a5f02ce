package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mselser95/crossarb/pkg/config"
	"github.com/mselser95/crossarb/pkg/wallet"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Show on-chain collateral for the trading wallets",
	Long: `Reads gas and collateral balances for both trading wallets: the hedge
funder on Polygon (USDC that pays hedge IOCs) and the maker wallet on
BSC. Use --positions to also list open hedge venue positions.

Examples:
  crossarb balances
  crossarb balances --positions`,
	Args: cobra.NoArgs,
	RunE: runBalances,
}

//nolint:gochecknoglobals // Cobra boilerplate
var showPositions bool

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balancesCmd)
	balancesCmd.Flags().BoolVar(&showPositions, "positions", false, "Also list open hedge venue positions")
}

func runBalances(cmd *cobra.Command, args []string) error {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLoggerFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.PolymarketFunderAddress == "" && cfg.WalletAddress == "" {
		return errors.New("set POLYMARKET_FUNDER_ADDRESS and/or WALLET_ADDRESS")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("\n========================================")
	fmt.Println("Wallet Balances")
	fmt.Println("========================================")
	fmt.Printf("%-10s %-14s %-16s %-16s\n",
		"Chain", "Native", "Collateral", "Allowance")
	fmt.Println("----------------------------------------")

	var hedgeClient *wallet.Client
	if cfg.PolymarketFunderAddress != "" {
		hedgeClient, err = displayChainBalances(ctx, &wallet.Config{
			RPCURL:     cfg.PolygonRPCURL,
			Chain:      "polygon",
			Collateral: common.HexToAddress(cfg.PolygonCollateral),
			Spender:    common.HexToAddress(cfg.PolygonSpender),
			Decimals:   6,
			DataAPIURL: cfg.PolymarketDataAPIURL,
			Logger:     logger,
		}, cfg.PolymarketFunderAddress)
		if err != nil {
			return err
		}
	}

	if cfg.WalletAddress != "" {
		bscCfg := &wallet.Config{
			RPCURL:     cfg.BSCRPCURL,
			Chain:      "bsc",
			Collateral: common.HexToAddress(cfg.BSCCollateral),
			Decimals:   18,
			Logger:     logger,
		}
		if cfg.ExchangeContract != "" {
			bscCfg.Spender = common.HexToAddress(cfg.ExchangeContract)
		}
		if _, err := displayChainBalances(ctx, bscCfg, cfg.WalletAddress); err != nil {
			return err
		}
	}

	if showPositions && hedgeClient != nil {
		if err := displayPositions(ctx, hedgeClient, cfg.PolymarketFunderAddress); err != nil {
			return err
		}
	}

	return nil
}

func displayChainBalances(
	ctx context.Context,
	chainCfg *wallet.Config,
	owner string,
) (*wallet.Client, error) {
	client, err := wallet.NewClient(chainCfg)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", chainCfg.Chain, err)
	}

	balances, err := client.GetBalances(ctx, common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("fetch %s balances: %w", chainCfg.Chain, err)
	}

	allowance := "-"
	if balances.Allowance != nil {
		allowance = fmt.Sprintf("$%.2f", client.CollateralUSD(balances.Allowance))
	}
	fmt.Printf("%-10s %-14s %-16s %-16s\n",
		chainCfg.Chain,
		fmt.Sprintf("%.4f", nativeBalance(balances.Native)),
		fmt.Sprintf("$%.2f", client.CollateralUSD(balances.Collateral)),
		allowance)

	return client, nil
}

func displayPositions(ctx context.Context, client *wallet.Client, owner string) error {
	positions, err := client.GetPositions(ctx, common.HexToAddress(owner).Hex())
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	if len(positions) == 0 {
		fmt.Println("\nNo open hedge venue positions.")
		return nil
	}

	fmt.Println("\n========================================")
	fmt.Println("Hedge Venue Positions")
	fmt.Println("========================================")
	fmt.Printf("%-32s %-8s %-10s %-10s %-10s\n",
		"Market", "Outcome", "Size", "Value", "P&L")
	fmt.Println("----------------------------------------")

	var totalValue, totalPnL float64
	for _, pos := range positions {
		fmt.Printf("%-32s %-8s %-10.2f $%-9.2f $%-9.2f\n",
			truncate(pos.MarketSlug, 32),
			pos.Outcome,
			pos.Size,
			pos.Value,
			pos.CashPnL)
		totalValue += pos.Value
		totalPnL += pos.CashPnL
	}
	fmt.Printf("\nTotal: %d positions, $%.2f value, $%.2f P&L\n",
		len(positions), totalValue, totalPnL)
	return nil
}

// nativeBalance converts a wei amount to whole gas tokens.
func nativeBalance(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		big.NewFloat(1e18),
	).Float64()
	return f
}
