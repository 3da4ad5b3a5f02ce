package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "crossarb",
	Short: "Cross-venue prediction market arbitrage bot",
	Long: `Cross-venue arbitrage bot that quotes maker orders on Predict (BSC)
and hedges every fill on Polymarket.

The bot discovers equivalent markets on both venues, scans their order
books for profitable maker and taker combinations, and runs each
accepted opportunity as a task: a GTC maker order on Predict whose
fills are covered incrementally with IOC orders on Polymarket, watched
over by price and depth guards.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	// Flags can be added here if needed
}
