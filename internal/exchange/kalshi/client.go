// Package kalshi adapts the Kalshi trade API v2 to the venue-agnostic
// exchange interface. Markets and recovery snapshots come over REST, books
// stream on the orderbook_delta channel, and every call is RSA-PSS signed.
// Prices are cents on the wire and dollars in the core.
package kalshi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/prediction-arb/internal/exchange"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/mselser95/prediction-arb/pkg/websocket"
)

// marketsPageSize is the largest page the markets endpoint serves.
const marketsPageSize = 200

// Config holds the Kalshi client configuration.
type Config struct {
	BaseURL string
	WSURL   string

	// Trading credentials. The trade API signs every call, market data
	// included, so both fields are required.
	APIKeyID      string
	PrivateKeyPEM string

	MarketFetchLimit int

	WSPoolSize              int
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int

	Limiter *ratelimit.Limiter
	Logger  *zap.Logger
}

// Client implements exchange.Client for Kalshi.
type Client struct {
	cfg        *Config
	signer     *signer
	parser     *parser
	pool       *websocket.Pool
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	basePath   string
	updates    chan types.BookUpdate
	logger     *zap.Logger

	// sendMu orders parser mutations with their emitted updates so a REST
	// re-seed cannot interleave with frames mid-flight.
	sendMu sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// New creates a Kalshi client. The WebSocket pool is not dialed until Start.
func New(cfg *Config) (*Client, error) {
	logger := cfg.Logger.With(zap.String("venue", string(types.VenueKalshi)))

	sgn, err := newSigner(cfg.APIKeyID, cfg.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	wsURL, err := url.Parse(cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		signer:     sgn,
		parser:     newParser(),
		limiter:    cfg.Limiter,
		httpClient: &http.Client{Timeout: exchange.SnapshotTimeout},
		basePath:   baseURL.Path,
		updates:    make(chan types.BookUpdate, 2*cfg.WSMessageBufferSize),
		logger:     logger,
	}

	wsPath := wsURL.Path
	c.pool = websocket.NewPool(websocket.PoolConfig{
		Name:  string(types.VenueKalshi),
		Size:  cfg.WSPoolSize,
		WSUrl: cfg.WSURL,
		Codec: &wsCodec{},
		DialHeader: func() (http.Header, error) {
			return sgn.headers(http.MethodGet, wsPath, "")
		},
		DialTimeout:           cfg.WSDialTimeout,
		PongTimeout:           cfg.WSPongTimeout,
		PingInterval:          cfg.WSPingInterval,
		ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		MessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                logger,
	})

	return c, nil
}

// Venue identifies this client.
func (c *Client) Venue() types.Venue {
	return types.VenueKalshi
}

// Start dials the market-data pool and begins pumping parsed updates.
func (c *Client) Start(ctx context.Context) error {
	if c.started {
		return nil
	}

	c.runCtx, c.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := c.pool.Start(); err != nil {
		c.runCancel()
		return fmt.Errorf("start websocket pool: %w", err)
	}

	c.wg.Add(1)
	go c.pumpFrames()

	c.started = true
	c.logger.Info("kalshi-client-started")
	return nil
}

func (c *Client) pumpFrames() {
	defer c.wg.Done()

	for frame := range c.pool.Frames() {
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame websocket.Frame) {
	c.sendMu.Lock()
	updates, stale, err := c.parser.parseFrame(frame.Data, frame.ReceivedAt)
	if err == nil {
		c.dispatch(updates)
	}
	c.sendMu.Unlock()

	if err != nil {
		ParseErrorsTotal.Inc()
		c.logger.Debug("frame-parse-error", zap.Error(err))
		return
	}

	for _, ticker := range stale {
		SeqGapsTotal.Inc()
		c.logger.Warn("sequence-gap-detected", zap.String("ticker", ticker))
		go func(tk string) {
			if err := c.refreshTicker(c.runCtx, tk); err != nil {
				c.logger.Warn("gap-recovery-failed",
					zap.String("ticker", tk),
					zap.Error(err))
			}
		}(ticker)
	}
}

// dispatch forwards updates without blocking. Callers hold sendMu.
func (c *Client) dispatch(updates []types.BookUpdate) {
	for _, update := range updates {
		UpdatesParsedTotal.WithLabelValues(updateKind(update.IsSnapshot)).Inc()
		select {
		case c.updates <- update:
		default:
			UpdatesDroppedTotal.Inc()
			c.logger.Warn("update-channel-full",
				zap.String("token-id", update.TokenID))
		}
	}
}

func updateKind(snapshot bool) string {
	if snapshot {
		return "snapshot"
	}
	return "delta"
}

// wireMarket is one row of the markets endpoint.
type wireMarket struct {
	Ticker    string    `json:"ticker"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

type marketsResponse struct {
	Markets []wireMarket `json:"markets"`
	Cursor  string       `json:"cursor"`
}

// ListMarkets pages through active markets. Every market is binary, so no
// outcome filtering applies; each row yields the two synthetic tokens.
func (c *Client) ListMarkets(ctx context.Context) ([]*types.UnifiedMarket, error) {
	err := c.limiter.Acquire(ctx, types.VenueKalshi, ratelimit.ClassMarkets, ratelimit.PriorityNormal)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var (
		markets      []*types.UnifiedMarket
		cursor       string
		totalFetched int
		limit        = c.cfg.MarketFetchLimit
	)

	for {
		page, next, err := c.fetchMarketsPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch markets: %w", err)
		}
		totalFetched += len(page)

		for i := range page {
			if m, ok := normalizeMarket(&page[i]); ok {
				markets = append(markets, m)
			}
		}

		if next == "" || len(page) == 0 {
			break
		}
		if limit > 0 && totalFetched >= limit {
			break
		}
		cursor = next
	}

	c.logger.Debug("fetched-kalshi-markets",
		zap.Int("raw", totalFetched),
		zap.Int("active", len(markets)))

	return markets, nil
}

func (c *Client) fetchMarketsPage(ctx context.Context, cursor string) ([]wireMarket, string, error) {
	query := url.Values{}
	query.Add("limit", strconv.Itoa(marketsPageSize))
	query.Add("status", "active")
	if cursor != "" {
		query.Add("cursor", cursor)
	}

	data, err := c.doSigned(ctx, http.MethodGet, "/markets", query, nil)
	if err != nil {
		return nil, "", err
	}

	var resp marketsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, "", fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.Markets, resp.Cursor, nil
}

// normalizeMarket projects a market row onto the unified shape.
func normalizeMarket(row *wireMarket) (*types.UnifiedMarket, bool) {
	if row.Ticker == "" {
		return nil, false
	}
	if row.Status != "active" {
		return nil, false
	}

	return &types.UnifiedMarket{
		Venue:      types.VenueKalshi,
		ID:         row.Ticker,
		Question:   row.Title,
		EndDate:    row.CloseTime,
		Volume:     row.Volume,
		YesTokenID: yesToken(row.Ticker),
		NoTokenID:  noToken(row.Ticker),
		Active:     true,
	}, true
}

// Subscribe begins streaming books for the markets behind the given tokens.
func (c *Client) Subscribe(ctx context.Context, tokenIDs []string) error {
	return c.pool.Subscribe(ctx, tickersFrom(tokenIDs))
}

// Unsubscribe stops streaming and drops the affected mirrors.
func (c *Client) Unsubscribe(ctx context.Context, tokenIDs []string) error {
	tickers := tickersFrom(tokenIDs)

	c.sendMu.Lock()
	c.parser.forget(tickers...)
	c.sendMu.Unlock()

	return c.pool.Unsubscribe(ctx, tickers)
}

// Updates delivers parsed book updates.
func (c *Client) Updates() <-chan types.BookUpdate {
	return c.updates
}

type orderbookResponse struct {
	Orderbook struct {
		Yes [][2]int64 `json:"yes"`
		No  [][2]int64 `json:"no"`
	} `json:"orderbook"`
}

// RequestSnapshot re-seeds the market behind the token from the REST book.
// One fetch refreshes both of the market's tokens.
func (c *Client) RequestSnapshot(ctx context.Context, tokenID string) error {
	ticker, _, err := splitToken(tokenID)
	if err != nil {
		return err
	}
	return c.refreshTicker(ctx, ticker)
}

func (c *Client) refreshTicker(ctx context.Context, ticker string) error {
	err := c.limiter.Acquire(ctx, types.VenueKalshi, ratelimit.ClassDefault, ratelimit.PriorityNormal)
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exchange.SnapshotTimeout)
	defer cancel()

	data, err := c.doSigned(ctx, http.MethodGet, "/markets/"+ticker+"/orderbook", nil, nil)
	if err != nil {
		return fmt.Errorf("fetch orderbook: %w", err)
	}

	var doc orderbookResponse
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode orderbook: %w", err)
	}

	c.sendMu.Lock()
	updates := c.parser.seed(ticker, doc.Orderbook.Yes, doc.Orderbook.No, time.Now())
	c.dispatch(updates)
	c.sendMu.Unlock()

	SnapshotsFetchedTotal.Inc()
	return nil
}

// orderBody is the portfolio order request. Exactly one of YesPrice and
// NoPrice is set, matching the token's outcome.
type orderBody struct {
	Ticker        string `json:"ticker"`
	Action        string `json:"action"`
	Side          string `json:"side"`
	Count         int64  `json:"count"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	YesPrice      int64  `json:"yes_price,omitempty"`
	NoPrice       int64  `json:"no_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type wireOrder struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	TakerFillCount int64  `json:"taker_fill_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"`
	TakerFees      int64  `json:"taker_fees"`
}

type orderResponse struct {
	Order wireOrder `json:"order"`
}

// PlaceOrder submits one order leg and waits for its terminal state. The
// venue enforces the time-in-force natively, so FOK legs come back either
// fully executed or canceled; IOC legs may report a partial count.
func (c *Client) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error) {
	err := c.limiter.Acquire(ctx, types.VenueKalshi, ratelimit.ClassOrders, ratelimit.PriorityCritical)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	ticker, yes, err := splitToken(req.TokenID)
	if err != nil {
		return nil, err
	}

	cents := req.Price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if cents <= 0 || cents >= 100 {
		return nil, fmt.Errorf("price %s outside the cent grid", req.Price)
	}

	body := orderBody{
		Ticker:        ticker,
		Action:        "buy",
		Side:          "yes",
		Count:         req.Size.IntPart(),
		Type:          "limit",
		TimeInForce:   "fill_or_kill",
		ClientOrderID: req.ClientID,
	}
	if req.Side == types.SideSell {
		body.Action = "sell"
	}
	if req.TimeInForce == types.TIFImmediateOrCancel {
		body.TimeInForce = "immediate_or_cancel"
	}
	if yes {
		body.YesPrice = cents
	} else {
		body.Side = "no"
		body.NoPrice = cents
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exchange.OrderTimeout)
	defer cancel()

	data, err := c.doSigned(ctx, http.MethodPost, "/portfolio/orders", nil, payload)
	if err != nil {
		if ctx.Err() != nil {
			return &types.OrderResult{Status: types.OrderTimeout, Reason: ctx.Err().Error()}, nil
		}
		return &types.OrderResult{Status: types.OrderRejected, Reason: err.Error()}, nil
	}

	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	result := mapOrder(req, &resp.Order)
	OrdersPlacedTotal.WithLabelValues(string(req.Side), string(result.Status)).Inc()

	c.logger.Info("order-placed",
		zap.String("token-id", req.TokenID),
		zap.String("side", string(req.Side)),
		zap.String("status", string(result.Status)),
		zap.String("price", req.Price.String()),
		zap.String("size", req.Size.String()))

	return result, nil
}

// mapOrder converts the venue's order document into a normalized result.
func mapOrder(req *types.OrderRequest, order *wireOrder) *types.OrderResult {
	filled := decimal.NewFromInt(order.TakerFillCount)
	fees := decimal.New(order.TakerFees, -2)

	switch {
	case order.Status == "executed":
		return &types.OrderResult{
			Status:       types.OrderFilled,
			VenueOrderID: order.OrderID,
			Price:        fillPrice(order, req.Price),
			Size:         req.Size,
			Fee:          fees,
		}
	case filled.IsPositive():
		// IOC partial; the venue canceled the remainder.
		return &types.OrderResult{
			Status:       types.OrderFilled,
			VenueOrderID: order.OrderID,
			Price:        fillPrice(order, req.Price),
			Size:         filled,
			Fee:          fees,
		}
	default:
		return &types.OrderResult{
			Status:       types.OrderRejected,
			VenueOrderID: order.OrderID,
			Reason:       "order status " + order.Status,
		}
	}
}

// fillPrice averages the reported taker cost, falling back to the limit.
func fillPrice(order *wireOrder, limit decimal.Decimal) decimal.Decimal {
	if order.TakerFillCount > 0 && order.TakerFillCost > 0 {
		cost := decimal.New(order.TakerFillCost, -2)
		return cost.Div(decimal.NewFromInt(order.TakerFillCount)).Round(types.PricePrecision)
	}
	return limit
}

type balanceResponse struct {
	Balance int64 `json:"balance"` // cents
}

// Balance returns the available trading balance in dollars.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	err := c.limiter.Acquire(ctx, types.VenueKalshi, ratelimit.ClassDefault, ratelimit.PriorityNormal)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exchange.BalanceTimeout)
	defer cancel()

	data, err := c.doSigned(ctx, http.MethodGet, "/portfolio/balance", nil, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}

	var resp balanceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("decode balance: %w", err)
	}

	return decimal.New(resp.Balance, -2), nil
}

// doSigned performs one signed REST call. The signature covers the bare
// path without query parameters.
func (c *Client) doSigned(ctx context.Context, method, subPath string, query url.Values, body []byte) ([]byte, error) {
	headers, err := c.signer.headers(method, c.basePath+subPath, string(body))
	if err != nil {
		return nil, err
	}

	requestURL := c.cfg.BaseURL + subPath
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = headers

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// Close tears down the pool and the update channel.
func (c *Client) Close() error {
	if !c.started {
		return nil
	}

	c.runCancel()
	err := c.pool.Close()
	c.wg.Wait()
	close(c.updates)
	c.started = false

	c.logger.Info("kalshi-client-closed")
	return err
}
