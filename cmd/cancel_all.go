package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/venue"
	"github.com/mselser95/crossarb/internal/venue/keypool"
	"github.com/mselser95/crossarb/internal/venue/polymarket"
	"github.com/mselser95/crossarb/internal/venue/predict"
	"github.com/mselser95/crossarb/pkg/config"
	"github.com/mselser95/crossarb/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var cancelAllCmd = &cobra.Command{
	Use:   "cancel-all",
	Short: "Cancel all open orders on a venue",
	Long: `Cancel every open order for the account on one venue.

Maker orders left resting after a crash are normally re-adopted by task
recovery; this command is the manual override when tasks were deleted
or the position is being shut down for good.

Use --dry-run to preview orders without canceling.

Examples:
  # Preview open maker orders
  crossarb cancel-all --dry-run

  # Cancel open hedge venue orders
  crossarb cancel-all --venue polymarket`,
	Args: cobra.NoArgs,
	RunE: runCancelAll,
}

//nolint:gochecknoglobals // Cobra boilerplate
var cancelDryRun bool

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(cancelAllCmd)
	cancelAllCmd.Flags().BoolVar(&cancelDryRun, "dry-run", false, "Preview orders without canceling")
	cancelAllCmd.Flags().String("venue", "predict", "Venue to cancel on: predict or polymarket")
}

func runCancelAll(cmd *cobra.Command, args []string) error {
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

	venueName, _ := cmd.Flags().GetString("venue")
	client, err := cancelClient(cfg, logger, venueName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	orders, err := client.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}

	if len(orders) == 0 {
		fmt.Println("No open orders found.")
		return nil
	}

	displayOpenOrders(orders)
	fmt.Printf("\nTotal: %d orders, $%.2f locked\n", len(orders), lockedNotional(orders))

	if cancelDryRun {
		fmt.Println("\n[DRY RUN] No orders were canceled.")
		return nil
	}

	fmt.Println("\nCanceling all orders...")
	canceled, failed := 0, 0
	for _, order := range orders {
		ok, cerr := client.Cancel(ctx, order.OrderID)
		switch {
		case cerr != nil:
			failed++
			fmt.Printf("❌ %s: %v\n", truncate(order.OrderID, 12), cerr)
		case !ok:
			// already terminal on the venue
			fmt.Printf("  %s: already closed\n", truncate(order.OrderID, 12))
		default:
			canceled++
		}
	}

	fmt.Printf("\n✅ Canceled: %d orders\n", canceled)
	if failed > 0 {
		fmt.Printf("❌ Failed: %d orders\n", failed)
		return fmt.Errorf("%d cancellations failed", failed)
	}
	return nil
}

// cancelClient builds the order client for the requested venue,
// validating that its credentials are configured.
func cancelClient(cfg *config.Config, logger *zap.Logger, venueName string) (venue.Client, error) {
	switch venueName {
	case "predict":
		if len(cfg.PredictKeysTrade) == 0 {
			return nil, errors.New("PREDICT_KEYS_TRADE not set")
		}
		tradePool := keypool.New("trade", cfg.PredictKeysTrade, cfg.RateLimitBackoff, logger)
		return predict.NewClient(&predict.Config{
			BaseURL:   cfg.PredictRESTURL,
			APISecret: cfg.PredictAPISecret,
			ScanPool:  tradePool,
			TradePool: tradePool,
			Logger:    logger,
		}), nil

	case "polymarket":
		if cfg.PolymarketPrivateKey == "" {
			return nil, errors.New("POLYMARKET_PRIVATE_KEY not set")
		}
		if cfg.PolymarketAPIKey == "" {
			return nil, errors.New("POLYMARKET_API_KEY not set")
		}
		signer, err := polymarket.NewOrderSigner(
			cfg.PolymarketPrivateKey,
			cfg.PolymarketFunderAddress,
			cfg.PolymarketSignatureType,
		)
		if err != nil {
			return nil, fmt.Errorf("create order signer: %w", err)
		}
		return polymarket.NewClient(&polymarket.Config{
			BaseURL:    cfg.PolymarketRESTURL,
			GammaURL:   cfg.PolymarketGammaURL,
			APIKey:     cfg.PolymarketAPIKey,
			Passphrase: cfg.PolymarketPassphrase,
			Secret:     cfg.PolymarketSecret,
			Signer:     signer,
			Logger:     logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown venue %q: want predict or polymarket", venueName)
	}
}

func displayOpenOrders(orders []types.OrderStatus) {
	fmt.Println("\n========================================")
	fmt.Println("Open Orders")
	fmt.Println("========================================")
	fmt.Printf("%-15s %-15s %-6s %-8s %-10s %-10s\n",
		"Order ID", "Token", "Side", "Price", "Remaining", "Filled")
	fmt.Println("----------------------------------------")

	for _, order := range orders {
		fmt.Printf("%-15s %-15s %-6s $%-7.3f %-10.2f %-10.2f\n",
			truncate(order.OrderID, 15),
			truncate(order.TokenID, 15),
			order.Side,
			order.Price,
			order.RemainingQty,
			order.FilledQty)
	}
}

// lockedNotional sums the collateral still committed to resting
// orders: remaining size at limit price.
func lockedNotional(orders []types.OrderStatus) (total float64) {
	for _, order := range orders {
		if order.RemainingQty <= 0 {
			continue
		}
		total += order.RemainingQty * order.Price
	}
	return total
}
