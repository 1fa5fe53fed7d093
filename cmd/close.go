package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mselser95/prediction-arb/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Request a manual exit of one open position",
	Long: `Asks the running bot to close the position open on a market key. The
position monitor sells both legs into the current books and records the
realized P&L, exactly as a stop-loss exit would.

Find market keys with the positions command.`,
	RunE: runClose,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(closeCmd)
	closeCmd.Flags().StringP("market", "m", "", "Market key of the position to close (required)")
	closeCmd.Flags().String("addr", "", "Bot API address as host:port (default localhost:HTTP_PORT)")
	_ = closeCmd.MarkFlagRequired("market")
}

// apiError mirrors the error body of the bot API.
type apiError struct {
	Error string `json:"error"`
}

func runClose(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	marketKey, _ := cmd.Flags().GetString("market")
	addr, _ := cmd.Flags().GetString("addr")
	url := "http://" + botAddr(cfg, addr) + "/api/positions/close"

	body, err := json.Marshal(map[string]string{"market_key": marketKey})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach the bot at %s (is it running?): %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("close %s: %s", marketKey, apiErr.Error)
		}
		return fmt.Errorf("close %s: bot answered %s", marketKey, resp.Status)
	}

	fmt.Printf("Exit requested for %s; the monitor sells both legs at the next poll.\n", marketKey)
	return nil
}
