package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	json "github.com/goccy/go-json"

	"github.com/mselser95/crossarb/internal/venue/keypool"
	"github.com/mselser95/crossarb/internal/venue/polymarket"
	"github.com/mselser95/crossarb/internal/venue/predict"
	"github.com/mselser95/crossarb/pkg/config"
	"github.com/mselser95/crossarb/pkg/types"
	"github.com/mselser95/crossarb/pkg/websocket"
)

//nolint:gochecknoglobals // Cobra boilerplate
var watchBookCmd = &cobra.Command{
	Use:   "watch-book <market-id>",
	Short: "Watch order book updates for one market",
	Long: `Connects to a venue's WebSocket and prints order book updates for
both outcome tokens of a market. Useful for verifying connectivity and
checking what the scanner sees.

For the maker venue (default) the argument is a Predict market id; for
--venue polymarket it is a condition id.

Examples:
  crossarb watch-book 17289
  crossarb watch-book --venue polymarket 0x8f7a1b...`,
	Args: cobra.ExactArgs(1),
	RunE: runWatchBook,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(watchBookCmd)
	watchBookCmd.Flags().String("venue", "predict", "Venue to watch: predict or polymarket")
	watchBookCmd.Flags().BoolP("json", "j", false, "Output book snapshots as JSON")
}

func runWatchBook(cmd *cobra.Command, args []string) error {
	marketID := args[0]

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
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		updates  <-chan *types.OrderBook
		outcomes map[string]string
		stop     func() error
	)

	switch venueName {
	case "predict":
		updates, outcomes, stop, err = watchMakerBooks(ctx, cfg, logger, marketID)
	case "polymarket":
		updates, outcomes, stop, err = watchHedgeBooks(ctx, cfg, logger, marketID)
	default:
		return fmt.Errorf("unknown venue %q: want predict or polymarket", venueName)
	}
	if err != nil {
		return err
	}
	defer func() {
		_ = stop()
	}()

	fmt.Println("Subscribed! Watching for order book updates...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			return nil
		case book, ok := <-updates:
			if !ok {
				return fmt.Errorf("book stream closed")
			}
			if jsonOutput {
				raw, _ := json.MarshalIndent(book, "", "  ")
				fmt.Println(string(raw))
			} else {
				printBookLine(w, book, outcomes)
			}
		}
	}
}

func watchMakerBooks(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	marketID string,
) (<-chan *types.OrderBook, map[string]string, func() error, error) {
	if len(cfg.PredictKeysScan) == 0 {
		return nil, nil, nil, fmt.Errorf("PREDICT_KEYS_SCAN not set")
	}

	scanPool := keypool.New("scan", cfg.PredictKeysScan, cfg.RateLimitBackoff, logger)
	client := predict.NewClient(&predict.Config{
		BaseURL:   cfg.PredictRESTURL,
		APISecret: cfg.PredictAPISecret,
		ScanPool:  scanPool,
		TradePool: scanPool,
		Logger:    logger,
	})

	market, err := client.GetMarket(ctx, marketID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch market: %w", err)
	}

	fmt.Printf("Market: %s\n", market.Title)
	fmt.Printf("YES Token ID: %s\n", market.YesTokenID)
	fmt.Printf("NO Token ID: %s\n\n", market.NoTokenID)

	feed := predict.NewBookFeed(&predict.BookFeedConfig{
		WS:      toolWSConfig(cfg, cfg.PredictWSURL, logger),
		Resolve: client.ResolveMarket,
		Logger:  logger,
	})
	if err := feed.Start(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("start book feed: %w", err)
	}
	if err := feed.Subscribe(ctx, []string{market.YesTokenID, market.NoTokenID}); err != nil {
		_ = feed.Close()
		return nil, nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	outcomes := map[string]string{
		market.YesTokenID: "YES",
		market.NoTokenID:  "NO",
	}
	return feed.Updates(), outcomes, feed.Close, nil
}

func watchHedgeBooks(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	conditionID string,
) (<-chan *types.OrderBook, map[string]string, func() error, error) {
	client := polymarket.NewClient(&polymarket.Config{
		BaseURL:  cfg.PolymarketRESTURL,
		GammaURL: cfg.PolymarketGammaURL,
		Logger:   logger,
	})

	market, err := client.GetMarket(ctx, conditionID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch market: %w", err)
	}

	yes := market.TokenByOutcome(types.OutcomeYes)
	no := market.TokenByOutcome(types.OutcomeNo)
	if yes == nil || no == nil {
		return nil, nil, nil, fmt.Errorf("market %s missing YES or NO token", conditionID)
	}

	fmt.Printf("Market: %s\n", market.Question)
	fmt.Printf("YES Token ID: %s\n", yes.TokenID)
	fmt.Printf("NO Token ID: %s\n\n", no.TokenID)

	feed := polymarket.NewBookFeed(&polymarket.BookFeedConfig{
		WS:     toolWSConfig(cfg, cfg.PolymarketWSURL, logger),
		Logger: logger,
	})
	if err := feed.Start(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("start book feed: %w", err)
	}
	if err := feed.Subscribe(ctx, []string{yes.TokenID, no.TokenID}); err != nil {
		_ = feed.Close()
		return nil, nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	outcomes := map[string]string{
		yes.TokenID: "YES",
		no.TokenID:  "NO",
	}
	return feed.Updates(), outcomes, feed.Close, nil
}

func toolWSConfig(cfg *config.Config, url string, logger *zap.Logger) websocket.Config {
	return websocket.Config{
		URL:                   url,
		DialTimeout:           cfg.WSDialTimeout,
		PongTimeout:           cfg.WSPongTimeout,
		PingInterval:          cfg.WSPingInterval,
		ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		MessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                logger,
	}
}

func printBookLine(w *tabwriter.Writer, book *types.OrderBook, outcomes map[string]string) {
	outcome := outcomes[book.TokenID]
	if outcome == "" {
		outcome = "?"
	}

	bidStr, askStr := "N/A", "N/A"
	if bid, ok := book.BestBid(); ok {
		bidStr = fmt.Sprintf("%.3f@%.1f", bid.Price, bid.Size)
	}
	if ask, ok := book.BestAsk(); ok {
		askStr = fmt.Sprintf("%.3f@%.1f", ask.Price, ask.Size)
	}

	timestamp := book.IngestedAt.Format("15:04:05.000")
	fmt.Fprintf(w, "[%s] %s\t%s\tBid: %s\tAsk: %s\n",
		timestamp, outcome, book.Source, bidStr, askStr)
	w.Flush()
}
