// Package polymarket adapts the Polymarket Gamma and CLOB APIs to the
// venue-agnostic exchange interface. Market listings come from Gamma,
// books stream over the CLOB market channel, and orders are EIP-712
// signed against the CTF exchange on Polygon.
package polymarket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/mselser95/prediction-arb/internal/exchange"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/mselser95/prediction-arb/pkg/wallet"
	"github.com/mselser95/prediction-arb/pkg/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the Polymarket client configuration.
type Config struct {
	GammaURL string
	CLOBURL  string
	WSURL    string

	// Trading credentials. Without a private key the client runs in
	// market-data-only mode: PlaceOrder and Balance return errors.
	APIKey        string
	Secret        string
	Passphrase    string
	PrivateKey    string
	ProxyAddress  string
	SignatureType int
	PolygonRPCURL string

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

// Client implements exchange.Client for Polymarket.
type Client struct {
	cfg        *Config
	gamma      *gammaClient
	orders     *orderClient // nil in market-data-only mode
	wallet     *wallet.Client
	balanceAcct common.Address
	pool       *websocket.Pool
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	updates    chan types.BookUpdate
	logger     *zap.Logger
	wg         sync.WaitGroup
	started    bool
}

// New creates a Polymarket client. The WebSocket pool is not dialed
// until Start.
func New(cfg *Config) (*Client, error) {
	logger := cfg.Logger.With(zap.String("venue", string(types.VenuePolymarket)))

	c := &Client{
		cfg:        cfg,
		gamma:      newGammaClient(cfg.GammaURL, logger),
		limiter:    cfg.Limiter,
		httpClient: &http.Client{Timeout: exchange.SnapshotTimeout},
		updates:    make(chan types.BookUpdate, 2*cfg.WSMessageBufferSize),
		logger:     logger,
	}

	if cfg.PrivateKey != "" {
		orders, err := newOrderClient(&orderClientConfig{
			BaseURL:       cfg.CLOBURL,
			APIKey:        cfg.APIKey,
			Secret:        cfg.Secret,
			Passphrase:    cfg.Passphrase,
			PrivateKey:    cfg.PrivateKey,
			ProxyAddress:  cfg.ProxyAddress,
			SignatureType: cfg.SignatureType,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create order client: %w", err)
		}
		c.orders = orders

		walletClient, err := wallet.NewClient(cfg.PolygonRPCURL, logger)
		if err != nil {
			return nil, fmt.Errorf("create wallet client: %w", err)
		}
		c.wallet = walletClient

		// Funds live on the proxy wallet when one is configured.
		acct := orders.address
		if cfg.ProxyAddress != "" {
			acct = cfg.ProxyAddress
		}
		c.balanceAcct = common.HexToAddress(acct)
	}

	c.pool = websocket.NewPool(websocket.PoolConfig{
		Name:                  string(types.VenuePolymarket),
		Size:                  cfg.WSPoolSize,
		WSUrl:                 cfg.WSURL,
		Codec:                 wsCodec{},
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
	return types.VenuePolymarket
}

// Start dials the market-data pool and begins pumping parsed updates.
func (c *Client) Start(ctx context.Context) error {
	if c.started {
		return nil
	}

	if err := c.pool.Start(); err != nil {
		return fmt.Errorf("start websocket pool: %w", err)
	}

	c.wg.Add(1)
	go c.pumpFrames()

	c.started = true
	c.logger.Info("polymarket-client-started")
	return nil
}

// pumpFrames converts raw frames into book updates until the pool closes.
func (c *Client) pumpFrames() {
	defer c.wg.Done()

	for frame := range c.pool.Frames() {
		updates, err := parseFrame(frame.Data, frame.ReceivedAt)
		if err != nil {
			ParseErrorsTotal.Inc()
			c.logger.Debug("frame-parse-error", zap.Error(err))
			continue
		}

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
}

func updateKind(snapshot bool) string {
	if snapshot {
		return "snapshot"
	}
	return "delta"
}

// ListMarkets fetches active binary markets from the Gamma API.
func (c *Client) ListMarkets(ctx context.Context) ([]*types.UnifiedMarket, error) {
	err := c.limiter.Acquire(ctx, types.VenuePolymarket, ratelimit.ClassMarkets, ratelimit.PriorityNormal)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	markets, err := c.gamma.fetchActiveMarkets(ctx, c.cfg.MarketFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	return markets, nil
}

// Subscribe begins streaming books for the given token IDs.
func (c *Client) Subscribe(ctx context.Context, tokenIDs []string) error {
	return c.pool.Subscribe(ctx, tokenIDs)
}

// Unsubscribe stops streaming books for the given token IDs.
func (c *Client) Unsubscribe(ctx context.Context, tokenIDs []string) error {
	return c.pool.Unsubscribe(ctx, tokenIDs)
}

// Updates delivers parsed book updates.
func (c *Client) Updates() <-chan types.BookUpdate {
	return c.updates
}

// clobBook is the CLOB REST book document.
type clobBook struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Timestamp string      `json:"timestamp"`
	Hash      string      `json:"hash"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
}

// RequestSnapshot fetches a fresh book over REST and emits it through
// Updates, re-seeding the in-memory book after an invariant violation.
func (c *Client) RequestSnapshot(ctx context.Context, tokenID string) error {
	err := c.limiter.Acquire(ctx, types.VenuePolymarket, ratelimit.ClassDefault, ratelimit.PriorityNormal)
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exchange.SnapshotTimeout)
	defer cancel()

	requestURL := fmt.Sprintf("%s/book?token_id=%s", c.cfg.CLOBURL, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var book clobBook
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return fmt.Errorf("decode book: %w", err)
	}

	seq, err := parseSeq(book.Timestamp)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	bids, err := parseLevels(book.Bids)
	if err != nil {
		return fmt.Errorf("parse bids: %w", err)
	}
	asks, err := parseLevels(book.Asks)
	if err != nil {
		return fmt.Errorf("parse asks: %w", err)
	}

	update := types.BookUpdate{
		Venue:      types.VenuePolymarket,
		TokenID:    tokenID,
		Seq:        seq,
		IsSnapshot: true,
		Bids:       bids,
		Asks:       asks,
		ReceivedAt: time.Now(),
	}

	SnapshotsFetchedTotal.Inc()

	select {
	case c.updates <- update:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// PlaceOrder signs and submits one order leg and waits for its terminal
// state. Requires trading credentials.
func (c *Client) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error) {
	if c.orders == nil {
		return nil, fmt.Errorf("polymarket trading credentials not configured")
	}

	err := c.limiter.Acquire(ctx, types.VenuePolymarket, ratelimit.ClassOrders, ratelimit.PriorityCritical)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exchange.OrderTimeout)
	defer cancel()

	result, err := c.orders.placeOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	OrdersPlacedTotal.WithLabelValues(string(req.Side), string(result.Status)).Inc()

	c.logger.Info("order-placed",
		zap.String("token-id", req.TokenID),
		zap.String("side", string(req.Side)),
		zap.String("status", string(result.Status)),
		zap.String("price", req.Price.String()),
		zap.String("size", req.Size.String()))

	return result, nil
}

// Balance returns the USDC balance of the trading account in dollars.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	if c.wallet == nil {
		return decimal.Zero, fmt.Errorf("polymarket trading credentials not configured")
	}

	err := c.limiter.Acquire(ctx, types.VenuePolymarket, ratelimit.ClassDefault, ratelimit.PriorityNormal)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exchange.BalanceTimeout)
	defer cancel()

	balances, err := c.wallet.GetBalances(ctx, c.balanceAcct)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balances: %w", err)
	}

	// USDC carries six decimals on chain.
	return decimal.NewFromBigInt(balances.USDC, -6), nil
}

// Close tears down the pool, the wallet connection and the update channel.
func (c *Client) Close() error {
	if c.wallet != nil {
		_ = c.wallet.Close()
	}

	if !c.started {
		return nil
	}

	err := c.pool.Close()
	c.wg.Wait()
	close(c.updates)
	c.started = false

	c.logger.Info("polymarket-client-closed")
	return err
}
