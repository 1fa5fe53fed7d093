package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mselser95/prediction-arb/internal/app"
	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/match"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/internal/score"
	"github.com/mselser95/prediction-arb/pkg/config"
	"github.com/mselser95/prediction-arb/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List and score active markets on the enabled platforms",
	Long: `Fetches active binary markets from every enabled platform, scores them
on metadata (volume and time to resolution; book components need a live
feed), and prints the top of each venue's list.

With --pairs and cross-platform arbitrage enabled, also prints the
cross-venue market pairs the title matcher would trade.`,
	RunE: runMarkets,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(marketsCmd)
	marketsCmd.Flags().IntP("limit", "l", 20, "Maximum number of markets to show per venue")
	marketsCmd.Flags().BoolP("pairs", "p", false, "Show matched cross-venue pairs")
}

func runMarkets(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

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

	limit, _ := cmd.Flags().GetInt("limit")
	showPairs, _ := cmd.Flags().GetBool("pairs")

	limiter := ratelimit.New(&ratelimit.Config{Logger: logger})
	clients, err := app.NewVenueClients(cfg, logger, limiter)
	if err != nil {
		return fmt.Errorf("create venue clients: %w", err)
	}
	defer func() { _ = clients.Close() }()

	// Metadata-only scoring: no books exist, so liquidity and spread
	// components read zero and the ranking reflects volume and timing.
	books := book.NewManager(&book.Config{Logger: logger})
	defer func() { _ = books.Close() }()
	scorer := score.New(&score.Config{Books: books, Threshold: 0, Logger: logger})

	now := time.Now()
	byVenue := make(map[types.Venue][]*types.UnifiedMarket)

	for _, client := range clients.All() {
		markets, err := client.ListMarkets(ctx)
		if err != nil {
			return fmt.Errorf("list %s markets: %w", client.Venue(), err)
		}
		byVenue[client.Venue()] = markets

		sort.Slice(markets, func(i, j int) bool {
			return markets[i].Volume > markets[j].Volume
		})

		shown := markets
		if len(shown) > limit {
			shown = shown[:limit]
		}

		fmt.Printf("\n%s: %d active markets (showing %d)\n\n", client.Venue(), len(markets), len(shown))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tQUESTION\tVOLUME\tENDS\tSCORE\n")
		fmt.Fprintf(w, "--\t--------\t------\t----\t-----\n")
		for _, market := range shown {
			sc := scorer.Score(market, now)
			fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\t%.1f\n",
				truncate(market.ID, 28),
				truncate(market.Question, 60),
				market.Volume,
				market.EndDate.Format("2006-01-02"),
				sc.Total)
		}
		w.Flush()
	}

	if showPairs {
		printPairs(logger, byVenue)
	}

	return nil
}

func printPairs(logger *zap.Logger, byVenue map[types.Venue][]*types.UnifiedMarket) {
	left := byVenue[types.VenuePolymarket]
	right := byVenue[types.VenueKalshi]
	if len(left) == 0 || len(right) == 0 {
		fmt.Println("\nPairs need listings from both venues; enable both platforms.")
		return
	}

	matcher := match.New(&match.Config{Logger: logger})
	pairs := matcher.Match(left, right)

	fmt.Printf("\nCross-venue pairs: %d\n\n", len(pairs))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "POLYMARKET\tKALSHI\tSIMILARITY\n")
	fmt.Fprintf(w, "----------\t------\t----------\n")
	for i := range pairs {
		fmt.Fprintf(w, "%s\t%s\t%.2f\n",
			truncate(pairs[i].A.Question, 48),
			truncate(pairs[i].B.Question, 48),
			pairs[i].Similarity)
	}
	w.Flush()
}

// truncate shortens s to at most n characters, ellipsizing the tail.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
