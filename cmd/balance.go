package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mselser95/prediction-arb/internal/app"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show spendable balances on the enabled platforms",
	RunE:  runBalance,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(_ *cobra.Command, _ []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewConsoleLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	limiter := ratelimit.New(&ratelimit.Config{Logger: logger})
	clients, err := app.NewVenueClients(cfg, logger, limiter)
	if err != nil {
		return fmt.Errorf("create venue clients: %w", err)
	}
	defer func() { _ = clients.Close() }()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "VENUE\tBALANCE\n")
	fmt.Fprintf(w, "-----\t-------\n")

	for _, client := range clients.All() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		balance, err := client.Balance(ctx)
		cancel()

		if err != nil {
			fmt.Fprintf(w, "%s\tunavailable: %v\n", client.Venue(), err)
			continue
		}
		fmt.Fprintf(w, "%s\t$%s\n", client.Venue(), balance.StringFixed(2))
	}
	w.Flush()

	return nil
}
