package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mselser95/prediction-arb/internal/app"
	"github.com/mselser95/prediction-arb/internal/arbitrage"
	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/internal/match"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/pkg/config"
	"github.com/mselser95/prediction-arb/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a one-shot arbitrage scan against live books",
	Long: `Subscribes to the order books of the highest-volume markets on every
enabled platform, lets them fill for the warmup period, then prices
each market once and prints any opportunity that clears the configured
margin and profit floors.

No orders are placed; this is a read-only diagnostic.`,
	RunE: runScan,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntP("top", "t", 10, "Number of top-volume markets to scan per venue")
	scanCmd.Flags().DurationP("warmup", "w", 15*time.Second, "How long to let books fill before pricing")
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	top, _ := cmd.Flags().GetInt("top")
	warmup, _ := cmd.Flags().GetDuration("warmup")

	limiter := ratelimit.New(&ratelimit.Config{Logger: logger})
	clients, err := app.NewVenueClients(cfg, logger, limiter)
	if err != nil {
		return fmt.Errorf("create venue clients: %w", err)
	}
	defer func() { _ = clients.Close() }()

	hub := events.NewHub(logger)
	defer hub.Close()

	books := book.NewManager(&book.Config{
		Requester: func(ctx context.Context, venue types.Venue, tokenID string) {
			if client, ok := clients.Client(venue); ok {
				_ = client.RequestSnapshot(ctx, tokenID)
			}
		},
		Hub:    hub,
		Logger: logger,
	})
	defer func() { _ = books.Close() }()

	for _, client := range clients.All() {
		books.AddSource(client.Updates())
	}
	if err := clients.Start(ctx); err != nil {
		return fmt.Errorf("start venue clients: %w", err)
	}

	byVenue := make(map[types.Venue][]*types.UnifiedMarket)
	var markets []*types.UnifiedMarket

	for _, client := range clients.All() {
		listed, err := client.ListMarkets(ctx)
		if err != nil {
			return fmt.Errorf("list %s markets: %w", client.Venue(), err)
		}

		var eligible []*types.UnifiedMarket
		for _, market := range listed {
			if market.Volume >= cfg.MinMarketVolume {
				eligible = append(eligible, market)
			}
		}
		sort.Slice(eligible, func(i, j int) bool {
			return eligible[i].Volume > eligible[j].Volume
		})
		if len(eligible) > top {
			eligible = eligible[:top]
		}

		tokens := make([]string, 0, len(eligible)*2)
		for _, market := range eligible {
			books.EnsureBook(market.Venue, market.YesTokenID)
			books.EnsureBook(market.Venue, market.NoTokenID)
			tokens = append(tokens, market.YesTokenID, market.NoTokenID)
		}
		if err := client.Subscribe(ctx, tokens); err != nil {
			return fmt.Errorf("subscribe %s books: %w", client.Venue(), err)
		}

		byVenue[client.Venue()] = eligible
		markets = append(markets, eligible...)
		fmt.Printf("%s: scanning %d markets (%d tokens)\n", client.Venue(), len(eligible), len(tokens))
	}

	if len(markets) == 0 {
		fmt.Println("No markets clear the volume floor; nothing to scan.")
		return nil
	}

	fmt.Printf("Letting books fill for %s...\n", warmup)
	select {
	case <-time.After(warmup):
	case <-ctx.Done():
		fmt.Println("Interrupted during warmup.")
		return nil
	}

	detector := arbitrage.NewDetector(&arbitrage.DetectorConfig{
		Books:      books,
		FeeRate:    decimal.NewFromFloat(cfg.TradingFeePercent),
		MinMargin:  decimal.NewFromFloat(cfg.MinProfitMargin),
		MinDollars: decimal.NewFromFloat(cfg.MinProfitDollars),
		MaxDepth:   cfg.MaxOrderBookDepth,
		// Quiet markets may not tick again after their snapshot, so accept
		// anything the warmup window produced.
		FreshHorizon: warmup + 5*time.Second,
		Logger:       logger,
	})

	targets := make([]*arbitrage.Target, 0, len(markets))
	for _, market := range markets {
		targets = append(targets, arbitrage.MarketTarget(market, 0))
	}
	if cfg.CrossPlatformArbitrage {
		matcher := match.New(&match.Config{Logger: logger})
		pairs := matcher.Match(byVenue[types.VenuePolymarket], byVenue[types.VenueKalshi])
		for i := range pairs {
			targets = append(targets, arbitrage.PairTarget(pairs[i].Key(), pairs[i].A, pairs[i].B, 0))
		}
	}

	now := time.Now()
	misses := make(map[string]int)
	var opps []*arbitrage.Opportunity
	for _, target := range targets {
		opp, reason := detector.Detect(target, now)
		if opp == nil {
			misses[reason]++
			continue
		}
		opps = append(opps, opp)
	}

	printScanResults(opps, misses, len(targets))
	return nil
}

func printScanResults(opps []*arbitrage.Opportunity, misses map[string]int, targets int) {
	if len(opps) == 0 {
		fmt.Printf("\nNo opportunities across %d targets. Misses by reason:\n", targets)
		reasons := make([]string, 0, len(misses))
		for reason := range misses {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Printf("  %-18s %d\n", reason, misses[reason])
		}
		return
	}

	sort.Slice(opps, func(i, j int) bool { return opps[i].ROI > opps[j].ROI })

	fmt.Printf("\n%d opportunities across %d targets:\n\n", len(opps), targets)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PAIR\tSHARES\tYES\tNO\tNET\tROI\n")
	fmt.Fprintf(w, "----\t------\t---\t--\t---\t---\n")
	for _, opp := range opps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%s\t%.2f%%\n",
			truncate(opp.PairKey, 40),
			opp.Shares.String(),
			opp.YesPrice.StringFixed(4),
			opp.NoPrice.StringFixed(4),
			opp.NetProfit.StringFixed(2),
			opp.ROI*100)
	}
	w.Flush()
}
