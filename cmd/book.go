package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mselser95/prediction-arb/internal/app"
	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/pkg/config"
	"github.com/mselser95/prediction-arb/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Watch one token's live order book",
	Long: `Subscribes to a single outcome token and reprints the top of its book
once a second until interrupted (or --duration elapses). Useful for
checking feed health and depth on a specific market.`,
	RunE: runBook,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(bookCmd)
	bookCmd.Flags().StringP("venue", "v", "polymarket", "Venue the token trades on (polymarket or kalshi)")
	bookCmd.Flags().String("token-id", "", "Outcome token ID to watch (required)")
	bookCmd.Flags().IntP("levels", "n", 5, "Price levels to print per side")
	bookCmd.Flags().DurationP("duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	_ = bookCmd.MarkFlagRequired("token-id")
}

func runBook(cmd *cobra.Command, _ []string) error {
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

	venueName, _ := cmd.Flags().GetString("venue")
	tokenID, _ := cmd.Flags().GetString("token-id")
	levels, _ := cmd.Flags().GetInt("levels")
	duration, _ := cmd.Flags().GetDuration("duration")

	venue := types.Venue(venueName)

	limiter := ratelimit.New(&ratelimit.Config{Logger: logger})
	clients, err := app.NewVenueClients(cfg, logger, limiter)
	if err != nil {
		return fmt.Errorf("create venue clients: %w", err)
	}
	defer func() { _ = clients.Close() }()

	client, ok := clients.Client(venue)
	if !ok {
		return fmt.Errorf("venue %q is not enabled; set ENABLED_PLATFORMS", venueName)
	}

	hub := events.NewHub(logger)
	defer hub.Close()

	books := book.NewManager(&book.Config{
		Requester: func(ctx context.Context, venue types.Venue, tokenID string) {
			if c, ok := clients.Client(venue); ok {
				_ = c.RequestSnapshot(ctx, tokenID)
			}
		},
		Hub:    hub,
		Logger: logger,
	})
	defer func() { _ = books.Close() }()

	books.AddSource(client.Updates())
	books.EnsureBook(venue, tokenID)

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start %s client: %w", venue, err)
	}
	if err := client.Subscribe(ctx, []string{tokenID}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	fmt.Printf("Watching %s on %s (Ctrl-C to stop)\n", tokenID, venue)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nDone.")
			return nil
		case <-ticker.C:
			bk, ok := books.Book(venue, tokenID)
			if !ok {
				continue
			}
			printBook(bk, levels)
		}
	}
}

func printBook(bk *book.Book, levels int) {
	bids := bk.Walk(types.SideBid, levels)
	asks := bk.Walk(types.SideAsk, levels)

	age := "never"
	if !bk.LastUpdate().IsZero() {
		age = time.Since(bk.LastUpdate()).Round(time.Millisecond).String()
	}
	state := ""
	if bk.Paused() {
		state = "  [PAUSED: awaiting snapshot]"
	}

	fmt.Printf("\n== seq %d, updated %s ago%s\n", bk.Seq(), age, state)
	fmt.Printf("%-22s | %s\n", "BIDS", "ASKS")

	rows := len(bids)
	if len(asks) > rows {
		rows = len(asks)
	}
	if rows == 0 {
		fmt.Println("(empty book)")
		return
	}
	for i := 0; i < rows; i++ {
		left, right := "", ""
		if i < len(bids) {
			left = fmt.Sprintf("%s x %s", bids[i].Price.StringFixed(4), bids[i].Size.String())
		}
		if i < len(asks) {
			right = fmt.Sprintf("%s x %s", asks[i].Price.StringFixed(4), asks[i].Size.String())
		}
		fmt.Printf("%-22s | %s\n", left, right)
	}
}
