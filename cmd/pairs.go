package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	json "github.com/goccy/go-json"

	"github.com/mselser95/crossarb/internal/matching"
	"github.com/mselser95/crossarb/internal/venue/keypool"
	"github.com/mselser95/crossarb/internal/venue/polymarket"
	"github.com/mselser95/crossarb/internal/venue/predict"
	"github.com/mselser95/crossarb/pkg/cache"
	"github.com/mselser95/crossarb/pkg/config"
	"github.com/mselser95/crossarb/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List matched market pairs across both venues",
	Long: `Runs one discovery cycle: fetches open markets from the maker venue,
active markets from the hedge venue, and matches them into tradable
pairs by condition id, sports slug, or seeded results.

Examples:
  # Match everything and print the pair table
  crossarb pairs

  # Only the first 200 maker markets, heuristic matches only
  crossarb pairs --limit 200 --method slug`,
	Args: cobra.NoArgs,
	RunE: runPairs,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(pairsCmd)
	pairsCmd.Flags().Int("limit", 0, "Maximum maker markets to match (0 = all)")
	pairsCmd.Flags().String("method", "", "Only show pairs matched by this method (condition, slug, title, manual)")
	pairsCmd.Flags().BoolP("json", "j", false, "Output pairs as JSON")
}

func runPairs(cmd *cobra.Command, args []string) error {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.PredictKeysScan) == 0 {
		return errors.New("PREDICT_KEYS_SCAN not set")
	}

	logger, err := config.NewLoggerFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	limit, _ := cmd.Flags().GetInt("limit")
	method, _ := cmd.Flags().GetString("method")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	scanPool := keypool.New("scan", cfg.PredictKeysScan, cfg.RateLimitBackoff, logger)
	maker := predict.NewClient(&predict.Config{
		BaseURL:   cfg.PredictRESTURL,
		APISecret: cfg.PredictAPISecret,
		ScanPool:  scanPool,
		TradePool: scanPool,
		Logger:    logger,
	})
	hedge := polymarket.NewClient(&polymarket.Config{
		BaseURL:  cfg.PolymarketRESTURL,
		GammaURL: cfg.PolymarketGammaURL,
		Logger:   logger,
	})

	bucket, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	defer bucket.Close()

	matcher := matching.New(&matching.Config{
		Logger:   logger,
		Cache:    bucket,
		SeedPath: cfg.MatchResultCache,
	})

	fmt.Println("Fetching maker venue markets...")
	makers, err := maker.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("list maker markets: %w", err)
	}
	if limit > 0 && len(makers) > limit {
		makers = makers[:limit]
	}

	fmt.Printf("Fetching hedge venue markets... (%d maker markets)\n", len(makers))
	hedges, err := hedge.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("list hedge markets: %w", err)
	}

	pairs := matcher.Rebuild(makers, hedges)
	rows := pairRows(pairs, method)

	if jsonOutput {
		out, merr := json.MarshalIndent(rows, "", "  ")
		if merr != nil {
			return fmt.Errorf("marshal pairs: %w", merr)
		}
		fmt.Println(string(out))
		return nil
	}

	displayPairsTable(rows)
	fmt.Printf("\nTotal: %d pairs from %d maker / %d hedge markets\n",
		len(rows), len(makers), len(hedges))
	return nil
}

// pairRow is one line of the pairs table.
type pairRow struct {
	MakerMarketID string `json:"makerMarketId"`
	Title         string `json:"title"`
	ConditionID   string `json:"conditionId"`
	Method        string `json:"method"`
	Inverted      bool   `json:"inverted"`
}

// pairRows flattens matched pairs for display, optionally keeping one
// match method. Exact condition matches sort first, then seeded, then
// the heuristics.
func pairRows(pairs []*types.MarketPair, method string) []pairRow {
	rows := make([]pairRow, 0, len(pairs))
	for _, p := range pairs {
		if method != "" && string(p.Method) != method {
			continue
		}
		rows = append(rows, pairRow{
			MakerMarketID: p.MakerMarketID,
			Title:         p.MakerTitle,
			ConditionID:   p.ConditionID,
			Method:        string(p.Method),
			Inverted:      p.Inverted,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return methodRank(rows[i].Method) < methodRank(rows[j].Method)
	})
	return rows
}

func methodRank(method string) int {
	switch types.MatchMethod(method) {
	case types.MatchByCondition:
		return 0
	case types.MatchManual:
		return 1
	case types.MatchBySlug:
		return 2
	case types.MatchByTitle:
		return 3
	default:
		return 4
	}
}

func displayPairsTable(rows []pairRow) {
	if len(rows) == 0 {
		fmt.Println("No pairs matched.")
		return
	}

	fmt.Println("\n========================================")
	fmt.Println("Matched Pairs")
	fmt.Println("========================================")
	fmt.Printf("%-14s %-40s %-14s %-10s %-8s\n",
		"Market ID", "Title", "Condition", "Method", "Inverted")
	fmt.Println("----------------------------------------")

	for _, row := range rows {
		inverted := ""
		if row.Inverted {
			inverted = "yes"
		}
		fmt.Printf("%-14s %-40s %-14s %-10s %-8s\n",
			truncate(row.MakerMarketID, 14),
			truncate(row.Title, 40),
			truncate(row.ConditionID, 14),
			row.Method,
			inverted)
	}
}

// truncate shortens s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
