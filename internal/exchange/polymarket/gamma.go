package polymarket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap"
)

// maxBatchSize is the largest page the Gamma API serves per request.
const maxBatchSize = 100

// gammaClient fetches market listings from the Gamma API.
type gammaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func newGammaClient(baseURL string, logger *zap.Logger) *gammaClient {
	return &gammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// gammaMarket is a market row as the Gamma API returns it. Outcomes and
// token IDs arrive as JSON-encoded strings inside the JSON document.
type gammaMarket struct {
	ID         string    `json:"id"`
	ConditionID string   `json:"conditionId"`
	Question   string    `json:"question"`
	Slug       string    `json:"slug"`
	Active     bool      `json:"active"`
	Closed     bool      `json:"closed"`
	EndDate    time.Time `json:"endDate"`
	VolumeNum  float64   `json:"volumeNum"`
	Volume24hr float64   `json:"volume24hr"`
	Outcomes   string    `json:"outcomes"`     // e.g. "[\"Yes\", \"No\"]"
	ClobTokens string    `json:"clobTokenIds"` // e.g. "[\"123\", \"456\"]"
}

// fetchActiveMarkets pages through the Gamma API ordered by 24h volume.
// limit == 0 fetches everything available.
func (c *gammaClient) fetchActiveMarkets(ctx context.Context, limit int) ([]*types.UnifiedMarket, error) {
	var (
		markets      []*types.UnifiedMarket
		page         = 0
		totalFetched = 0
		fetchAll     = limit == 0
	)

	for {
		pageSize := maxBatchSize
		if !fetchAll {
			remaining := limit - totalFetched
			if remaining <= 0 {
				break
			}
			if remaining < pageSize {
				pageSize = remaining
			}
		}

		rows, err := c.fetchPage(ctx, pageSize, page*maxBatchSize)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		totalFetched += len(rows)

		for i := range rows {
			if m, ok := normalizeMarket(&rows[i]); ok {
				markets = append(markets, m)
			}
		}

		if len(rows) < pageSize {
			break
		}
		if !fetchAll && totalFetched >= limit {
			break
		}
		page++
	}

	c.logger.Debug("fetched-gamma-markets",
		zap.Int("raw", totalFetched),
		zap.Int("binary", len(markets)))

	return markets, nil
}

func (c *gammaClient) fetchPage(ctx context.Context, limit, offset int) ([]gammaMarket, error) {
	params := url.Values{}
	params.Add("closed", "false")
	params.Add("active", "true")
	params.Add("limit", strconv.Itoa(limit))
	params.Add("offset", strconv.Itoa(offset))
	params.Add("order", "volume24hr")
	params.Add("ascending", "false")

	requestURL := fmt.Sprintf("%s/markets?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "prediction-arb/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	// The Gamma API returns a bare array.
	var rows []gammaMarket
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return rows, nil
}

// normalizeMarket projects a Gamma row onto the unified shape. Markets
// without exactly two outcome tokens are not binary and are skipped.
func normalizeMarket(row *gammaMarket) (*types.UnifiedMarket, bool) {
	if row.Closed || !row.Active {
		return nil, false
	}

	var outcomes, tokenIDs []string
	if err := json.Unmarshal([]byte(row.Outcomes), &outcomes); err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(row.ClobTokens), &tokenIDs); err != nil {
		return nil, false
	}
	if len(outcomes) != 2 || len(tokenIDs) != 2 {
		return nil, false
	}

	// The first token is the YES side, the second the NO side. Rows that
	// order them the other way label the outcomes accordingly.
	yesIdx, noIdx := 0, 1
	if outcomes[0] == "No" {
		yesIdx, noIdx = 1, 0
	}

	volume := row.VolumeNum
	if volume == 0 {
		volume = row.Volume24hr
	}

	id := row.ConditionID
	if id == "" {
		id = row.ID
	}

	return &types.UnifiedMarket{
		Venue:      types.VenuePolymarket,
		ID:         id,
		Question:   row.Question,
		EndDate:    row.EndDate,
		Volume:     volume,
		YesTokenID: tokenIDs[yesIdx],
		NoTokenID:  tokenIDs[noIdx],
		Active:     true,
	}, true
}
