// Package wallet reads the on-chain state of the Polygon trading wallet:
// the gas and collateral balances plus the exchange allowance that gates
// live order placement.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Polygon mainnet contracts the bot trades through.
const (
	polygonUSDC        = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	polygonCTFExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
)

// erc20ReadABI covers the two read calls the bot needs.
const erc20ReadABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Client reads wallet state over a Polygon JSON-RPC endpoint. The
// connection is dialed on first use and reused across reads.
type Client struct {
	rpcURL string
	erc20  abi.ABI
	logger *zap.Logger

	mu  sync.Mutex
	eth *ethclient.Client
}

// Balances holds raw on-chain readings. Amounts keep their native
// precision: wei for MATIC, six decimals for USDC.
type Balances struct {
	MATIC         *big.Int
	USDC          *big.Int
	USDCAllowance *big.Int // approved to the CTF Exchange
}

// NewClient creates a wallet client. No connection is made until the
// first read.
func NewClient(rpcURL string, logger *zap.Logger) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpcURL cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ReadABI))
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}

	return &Client{
		rpcURL: rpcURL,
		erc20:  erc20,
		logger: logger,
	}, nil
}

// GetBalances reads MATIC, USDC and the exchange allowance in one pass
// and refreshes the wallet gauges.
func (c *Client) GetBalances(ctx context.Context, address common.Address) (*Balances, error) {
	start := time.Now()

	eth, err := c.dial(ctx)
	if err != nil {
		BalanceFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dial RPC: %w", err)
	}

	matic, err := eth.BalanceAt(ctx, address, nil)
	if err != nil {
		c.drop(eth)
		BalanceFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("get MATIC balance: %w", err)
	}

	usdc, err := c.readUint(ctx, eth, polygonUSDC, "balanceOf", address)
	if err != nil {
		c.drop(eth)
		BalanceFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("get USDC balance: %w", err)
	}

	allowance, err := c.readUint(ctx, eth, polygonUSDC, "allowance",
		address, common.HexToAddress(polygonCTFExchange))
	if err != nil {
		c.drop(eth)
		BalanceFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("get USDC allowance: %w", err)
	}

	balances := &Balances{
		MATIC:         matic,
		USDC:          usdc,
		USDCAllowance: allowance,
	}
	c.observe(balances)

	BalanceFetchesTotal.WithLabelValues("ok").Inc()
	BalanceFetchDuration.Observe(time.Since(start).Seconds())

	c.logger.Debug("wallet-balances-read",
		zap.String("address", address.Hex()),
		zap.Duration("duration", time.Since(start)))

	return balances, nil
}

// dial returns the cached RPC connection, establishing it if needed.
func (c *Client) dial(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		return c.eth, nil
	}

	eth, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, err
	}
	c.eth = eth
	return eth, nil
}

// drop discards a connection after an RPC failure so the next read
// redials instead of reusing a dead transport.
func (c *Client) drop(eth *ethclient.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth == eth {
		c.eth.Close()
		c.eth = nil
	}
}

// readUint performs one uint256-returning ERC20 read against a contract.
func (c *Client) readUint(
	ctx context.Context,
	eth *ethclient.Client,
	contract, method string,
	args ...interface{},
) (*big.Int, error) {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	to := common.HexToAddress(contract)
	result, err := eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return new(big.Int).SetBytes(result), nil
}

// observe refreshes the wallet gauges from a successful read.
func (c *Client) observe(balances *Balances) {
	matic, _ := new(big.Float).Quo(
		new(big.Float).SetInt(balances.MATIC),
		big.NewFloat(1e18)).Float64()
	MATICBalance.Set(matic)

	usdc, _ := new(big.Float).Quo(
		new(big.Float).SetInt(balances.USDC),
		big.NewFloat(1e6)).Float64()
	USDCBalance.Set(usdc)

	allowance, _ := new(big.Float).Quo(
		new(big.Float).SetInt(balances.USDCAllowance),
		big.NewFloat(1e6)).Float64()
	USDCAllowance.Set(allowance)
}

// Close releases the RPC connection if one was established.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	return nil
}
