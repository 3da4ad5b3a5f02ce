package storage

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/scanner"
)

// ConsoleStorage implements Storage by pretty-printing to console.
type ConsoleStorage struct {
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		logger: logger,
	}
}

// StoreOpportunity pretty-prints a scanned opportunity to console.
func (c *ConsoleStorage) StoreOpportunity(_ context.Context, opp *scanner.Opportunity) error {
	fmt.Println("\n" + "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("🎯 ARBITRAGE OPPORTUNITY DETECTED\n")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Market:   %s\n", opp.MarketID)
	fmt.Printf("Title:    %s\n", opp.Title)
	fmt.Printf("Side:     %s / %s\n", opp.Side, opp.Strategy)
	fmt.Printf("Time:     %s\n", opp.LastUpdate.Format("2006-01-02 15:04:05"))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("📊 PRICES\n")
	fmt.Printf("  Predict:  %.4f (fee %.4f)\n", opp.PredictPrice, opp.PredictFee)
	fmt.Printf("  Hedge:    %.4f\n", opp.HedgePrice)
	fmt.Printf("  Cost:     %.4f\n", opp.TotalCost)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("💰 PROFIT ANALYSIS\n")
	fmt.Printf("  Per Share:   $%.4f (%d bps)\n", opp.Profit, opp.ProfitBps)
	fmt.Printf("  Max Size:    %.2f shares (predict %.2f / hedge %.2f)\n",
		opp.MaxQuantity, opp.PredictDepth, opp.HedgeDepth)
	fmt.Printf("  ✅ Est. Total: $%.2f\n", opp.Profit*opp.MaxQuantity)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	return nil
}

// StoreTaskEvent prints one task lifecycle line. Events are frequent,
// so this stays compact.
func (c *ConsoleStorage) StoreTaskEvent(_ context.Context, ev *TaskEvent) error {
	payload := "-"
	if ev.Payload != nil {
		if raw, err := json.Marshal(ev.Payload); err == nil {
			payload = string(raw)
		}
	}
	fmt.Printf("📝 [%s] task=%s event=%s %s\n",
		ev.At.Format("15:04:05"), ev.TaskID, ev.Event, payload)
	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}
