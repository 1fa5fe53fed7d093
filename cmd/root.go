package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "prediction-arb",
	Short: "Prediction market arbitrage bot",
	Long: `Prediction market arbitrage bot that monitors binary markets on
Polymarket and Kalshi, detects riskless YES+NO entries when the combined
cost including fees stays under $1.00, and executes both legs.

Market data streams over WebSocket into per-token order books; a detection
loop sweeps the monitored universe, sizes opportunities against live depth
and available capital, and trades in paper or live mode.`,
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
	// Load .env before any subcommand reads the environment. A missing
	// file is fine; deployments set real environment variables.
	cobra.OnInitialize(func() {
		_ = godotenv.Load()
	})
}
