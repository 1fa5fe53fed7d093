package polymarket

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// orderClient signs and submits CLOB orders. Orders are EIP-712 signed with
// the trading key; the HTTP request itself carries an HMAC L2 signature.
type orderClient struct {
	baseURL       string
	apiKey        string
	secret        string
	passphrase    string
	privateKey    *ecdsa.PrivateKey
	address       string // EOA address (signer)
	proxyAddress  string // proxy wallet (maker/funder), optional
	signatureType model.SignatureType
	orderBuilder  builder.ExchangeOrderBuilder
	httpClient    *http.Client
	logger        *zap.Logger
}

type orderClientConfig struct {
	BaseURL       string
	APIKey        string
	Secret        string
	Passphrase    string
	PrivateKey    string
	ProxyAddress  string
	SignatureType int
	Logger        *zap.Logger
}

func newOrderClient(cfg *orderClientConfig) (*orderClient, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	publicKey, _ := privateKey.Public().(*ecdsa.PublicKey)
	address := crypto.PubkeyToAddress(*publicKey).Hex()

	chainID := big.NewInt(137) // Polygon mainnet
	orderBuilder := builder.NewExchangeOrderBuilderImpl(chainID, nil)

	return &orderClient{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		secret:        cfg.Secret,
		passphrase:    cfg.Passphrase,
		privateKey:    privateKey,
		address:       address,
		proxyAddress:  cfg.ProxyAddress,
		signatureType: model.SignatureType(cfg.SignatureType),
		orderBuilder:  orderBuilder,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        cfg.Logger,
	}, nil
}

// signedOrderJSON is the order body the CLOB expects. Salt and
// signatureType are integers, everything else strings.
type signedOrderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

type orderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// placeOrder signs, submits and resolves one order leg. Every terminal
// venue answer maps onto an OrderResult; only signing failures surface
// as errors, since nothing reached the wire.
func (c *orderClient) placeOrder(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error) {
	signedOrder, err := c.buildOrder(req)
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	resp, err := c.submitOrder(ctx, signedOrder, orderTypeFor(req.TimeInForce))
	if err != nil {
		if ctx.Err() != nil {
			return &types.OrderResult{
				Status: types.OrderTimeout,
				Reason: ctx.Err().Error(),
			}, nil
		}
		return &types.OrderResult{
			Status: types.OrderRejected,
			Reason: err.Error(),
		}, nil
	}

	if !resp.Success {
		return &types.OrderResult{
			Status:       types.OrderRejected,
			VenueOrderID: resp.OrderID,
			Reason:       resp.ErrorMsg,
		}, nil
	}

	switch resp.Status {
	case "matched":
		return &types.OrderResult{
			Status:       types.OrderFilled,
			VenueOrderID: resp.OrderID,
			Price:        req.Price,
			Size:         req.Size,
		}, nil
	default:
		// FOK and FAK orders never rest; any other status means the
		// venue did not cross the order.
		return &types.OrderResult{
			Status:       types.OrderRejected,
			VenueOrderID: resp.OrderID,
			Reason:       "order status " + resp.Status,
		}, nil
	}
}

func orderTypeFor(tif types.TimeInForce) string {
	if tif == types.TIFImmediateOrCancel {
		return "FAK"
	}
	return "FOK"
}

// buildOrder converts the normalized request into a signed CTF exchange
// order. Buys spend USDC for outcome tokens, sells the reverse; both
// amounts are expressed in 6-decimal raw units.
func (c *orderClient) buildOrder(req *types.OrderRequest) (*model.SignedOrder, error) {
	makerAddress := c.address
	if c.proxyAddress != "" {
		makerAddress = c.proxyAddress
	}

	notional := req.Price.Mul(req.Size)

	var side model.Side
	var makerAmount, takerAmount string
	if req.Side == types.SideBuy {
		side = model.BUY
		makerAmount = rawAmount(notional)
		takerAmount = rawAmount(req.Size)
	} else {
		side = model.SELL
		makerAmount = rawAmount(req.Size)
		takerAmount = rawAmount(notional)
	}

	orderData := &model.OrderData{
		Maker:         makerAddress,
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Side:          side,
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        c.address,
		Expiration:    "0",
		SignatureType: c.signatureType,
	}

	signedOrder, err := c.orderBuilder.BuildSignedOrder(c.privateKey, orderData, model.CTFExchange)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	return signedOrder, nil
}

func (c *orderClient) submitOrder(ctx context.Context, order *model.SignedOrder, orderType string) (*orderResponse, error) {
	sideStr := "BUY"
	if order.Side.Uint64() == uint64(model.SELL) {
		sideStr = "SELL"
	}

	jsonOrder := signedOrderJSON{
		Salt:          order.Salt.Int64(),
		Maker:         order.Maker.Hex(),
		Signer:        order.Signer.Hex(),
		Taker:         order.Taker.Hex(),
		TokenID:       order.TokenId.String(),
		MakerAmount:   order.MakerAmount.String(),
		TakerAmount:   order.TakerAmount.String(),
		Side:          sideStr,
		Expiration:    order.Expiration.String(),
		Nonce:         order.Nonce.String(),
		FeeRateBps:    order.FeeRateBps.String(),
		SignatureType: int(order.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(order.Signature),
	}

	// "owner" is the API key, not the maker address.
	orderRequest := map[string]interface{}{
		"order":     jsonOrder,
		"owner":     c.apiKey,
		"orderType": orderType,
	}

	reqBody, err := json.Marshal(orderRequest)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	const requestPath = "/order"
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	signature, err := c.hmacSignature(timestamp, http.MethodPost, requestPath, string(reqBody))
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+requestPath, strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// POLY_ADDRESS is always the EOA derived from the private key.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_ADDRESS", c.address)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var orderResp orderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return &orderResp, nil
}

// hmacSignature builds the L2 auth signature. The secret is URL-safe
// base64, as in the official clients.
func (c *orderClient) hmacSignature(timestamp, method, requestPath, body string) (string, error) {
	secretBytes, err := base64.URLEncoding.DecodeString(c.secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(timestamp + method + requestPath + body))
	return base64.URLEncoding.EncodeToString(h.Sum(nil)), nil
}

// rawAmount converts a decimal USD or share quantity into 6-decimal raw
// units as the exchange contract expects.
func rawAmount(v decimal.Decimal) string {
	return v.Shift(6).Round(0).String()
}
