package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mselser95/prediction-arb/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show the running bot's open positions",
	Long: `Queries the API of a running bot and prints its open positions with
entry prices, cost basis and realized P&L.

Use the market key shown here with the close command to request a
manual exit.`,
	RunE: runPositions,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.Flags().String("addr", "", "Bot API address as host:port (default localhost:HTTP_PORT)")
}

// positionRow mirrors the /api/positions wire shape.
type positionRow struct {
	ID          string `json:"id"`
	MarketKey   string `json:"market_key"`
	Question    string `json:"question"`
	YesVenue    string `json:"yes_venue"`
	NoVenue     string `json:"no_venue"`
	YesShares   string `json:"yes_shares"`
	NoShares    string `json:"no_shares"`
	YesAvgPrice string `json:"yes_avg_price"`
	NoAvgPrice  string `json:"no_avg_price"`
	CostBasis   string `json:"cost_basis"`
	RealizedPnL string `json:"realized_pnl"`
	OpenedAt    string `json:"opened_at"`
}

func runPositions(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	addr, _ := cmd.Flags().GetString("addr")
	url := "http://" + botAddr(cfg, addr) + "/api/positions"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach the bot at %s (is it running?): %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bot answered %s", resp.Status)
	}

	var rows []positionRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return fmt.Errorf("decode positions: %w", err)
	}

	if len(rows) == 0 {
		fmt.Println("No open positions.")
		return nil
	}

	fmt.Printf("%d open positions\n\n", len(rows))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "MARKET KEY\tQUESTION\tYES\tNO\tCOST\tPNL\tOPENED\n")
	fmt.Fprintf(w, "----------\t--------\t---\t--\t----\t---\t------\n")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s @ %s\t%s @ %s\t$%s\t$%s\t%s\n",
			truncate(row.MarketKey, 36),
			truncate(row.Question, 44),
			row.YesShares,
			row.YesAvgPrice,
			row.NoShares,
			row.NoAvgPrice,
			row.CostBasis,
			row.RealizedPnL,
			row.OpenedAt)
	}
	w.Flush()
	return nil
}

// botAddr resolves the API address of a running bot: the --addr override,
// otherwise localhost on the configured HTTP port.
func botAddr(cfg *config.Config, flagAddr string) string {
	if flagAddr != "" {
		return flagAddr
	}
	return "localhost:" + cfg.HTTPPort
}
