package lighter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"funding-arb-bot/internal/venue"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Native funding settles every 8 hours on this venue.
const fundingInterval = 8 * time.Hour

var (
	ErrUnknownSymbol = errors.New("lighter: unknown symbol")
	ErrNoAccount     = errors.New("lighter: account not found")
)

type marketMeta struct {
	id            int
	sizeDecimals  int
	priceDecimals int
}

// Client wraps the zkLighter REST API. Transactions are signed with the
// account's key over the keccak hash of the canonical tx payload.
type Client struct {
	baseURL      string
	http         *http.Client
	accountIndex int64
	signerKey    string
	log          *zap.Logger

	nonce atomic.Uint64

	metaMu  sync.RWMutex
	markets map[string]marketMeta
}

func NewClient(baseURL string, timeout time.Duration, privateKey string, accountIndex int64, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://mainnet.zklighter.elliot.ai"
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: timeout},
		accountIndex: accountIndex,
		signerKey:    strings.TrimSpace(privateKey),
		log:          log,
		markets:      make(map[string]marketMeta),
	}
}

func (c *Client) Name() string { return venue.Lighter }

func (c *Client) FundingRate(ctx context.Context, symbol string) (venue.FundingSample, error) {
	var payload struct {
		FundingRates []struct {
			Exchange string  `json:"exchange"`
			Symbol   string  `json:"symbol"`
			Rate     float64 `json:"rate"`
		} `json:"funding_rates"`
	}
	if err := c.get(ctx, "/api/v1/funding-rates", nil, &payload); err != nil {
		return venue.FundingSample{}, err
	}
	// The endpoint aggregates rates from several exchanges; only the
	// venue's own rate is the one we pay or collect.
	for _, fr := range payload.FundingRates {
		if fr.Exchange != "lighter" || fr.Symbol != symbol {
			continue
		}
		return venue.FundingSample{
			Venue:      venue.Lighter,
			Symbol:     symbol,
			Rate:       fr.Rate,
			Interval:   fundingInterval,
			ObservedAt: time.Now().UTC(),
		}, nil
	}
	return venue.FundingSample{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	var payload struct {
		OrderBookDetails []struct {
			Symbol         string `json:"symbol"`
			MarketID       int    `json:"market_id"`
			LastTradePrice string `json:"last_trade_price"`
			SizeDecimals   int    `json:"size_decimals"`
			PriceDecimals  int    `json:"price_decimals"`
		} `json:"order_book_details"`
	}
	if err := c.get(ctx, "/api/v1/orderBookDetails", nil, &payload); err != nil {
		return 0, err
	}
	c.metaMu.Lock()
	for _, ob := range payload.OrderBookDetails {
		c.markets[ob.Symbol] = marketMeta{
			id:            ob.MarketID,
			sizeDecimals:  ob.SizeDecimals,
			priceDecimals: ob.PriceDecimals,
		}
	}
	c.metaMu.Unlock()
	for _, ob := range payload.OrderBookDetails {
		if ob.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(ob.LastTradePrice, 64)
		if err != nil {
			return 0, fmt.Errorf("lighter: price for %s: %w", symbol, err)
		}
		return price, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

func (c *Client) AccountState(ctx context.Context) (venue.AccountState, error) {
	var payload struct {
		Accounts []struct {
			Collateral       string `json:"collateral"`
			AvailableBalance string `json:"available_balance"`
			TotalAssetValue  string `json:"total_asset_value"`
		} `json:"accounts"`
	}
	query := url.Values{"by": {"index"}, "value": {strconv.FormatInt(c.accountIndex, 10)}}
	if err := c.get(ctx, "/api/v1/account", query, &payload); err != nil {
		return venue.AccountState{}, err
	}
	if len(payload.Accounts) == 0 {
		return venue.AccountState{}, ErrNoAccount
	}
	acct := payload.Accounts[0]
	equity, err := strconv.ParseFloat(acct.TotalAssetValue, 64)
	if err != nil {
		return venue.AccountState{}, fmt.Errorf("lighter: asset value: %w", err)
	}
	free, err := strconv.ParseFloat(acct.AvailableBalance, 64)
	if err != nil {
		return venue.AccountState{}, fmt.Errorf("lighter: available balance: %w", err)
	}
	return venue.AccountState{
		Equity:     equity,
		UsedMargin: equity - free,
		FreeMargin: free,
	}, nil
}

type orderTxInfo struct {
	AccountIndex  int64  `json:"account_index"`
	MarketID      int    `json:"market_id"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	IsAsk         bool   `json:"is_ask"`
	BaseAmount    string `json:"base_amount"`
	Price         string `json:"price"`
	TimeInForce   string `json:"time_in_force"`
	ReduceOnly    bool   `json:"reduce_only"`
	Nonce         uint64 `json:"nonce"`
}

type cancelTxInfo struct {
	AccountIndex int64  `json:"account_index"`
	MarketID     int    `json:"market_id"`
	OrderID      string `json:"order_id"`
	Nonce        uint64 `json:"nonce"`
}

type sendTxRequest struct {
	TxType    string          `json:"tx_type"`
	TxInfo    json.RawMessage `json:"tx_info"`
	Signature string          `json:"signature"`
}

type orderPayload struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	FilledSize string `json:"filled_size"`
	AvgPrice   string `json:"avg_price"`
}

func (c *Client) PlaceOrder(ctx context.Context, intent venue.OrderIntent) (venue.OrderResult, error) {
	if c.signerKey == "" {
		return venue.OrderResult{}, errors.New("lighter: private key is required for trading")
	}
	meta, err := c.market(ctx, intent.Symbol)
	if err != nil {
		return venue.OrderResult{}, err
	}
	info := orderTxInfo{
		AccountIndex:  c.accountIndex,
		MarketID:      meta.id,
		ClientOrderID: intent.ClientID,
		IsAsk:         intent.Side == venue.SideSell,
		BaseAmount:    formatDecimals(intent.Size, meta.sizeDecimals),
		Price:         formatDecimals(intent.Price, meta.priceDecimals),
		TimeInForce:   tifWire(intent.TimeInForce),
		ReduceOnly:    intent.ReduceOnly,
		Nonce:         c.nextNonce(),
	}
	var payload struct {
		Order orderPayload `json:"order"`
	}
	if err := c.sendTx(ctx, "create_order", info, &payload); err != nil {
		return venue.OrderResult{}, err
	}
	return orderResult(payload.Order)
}

func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (venue.OrderResult, error) {
	var payload struct {
		Order orderPayload `json:"order"`
	}
	query := url.Values{
		"account_index": {strconv.FormatInt(c.accountIndex, 10)},
		"order_id":      {orderID},
	}
	if err := c.get(ctx, "/api/v1/order", query, &payload); err != nil {
		return venue.OrderResult{}, err
	}
	return orderResult(payload.Order)
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if c.signerKey == "" {
		return errors.New("lighter: private key is required for trading")
	}
	meta, err := c.market(ctx, symbol)
	if err != nil {
		return err
	}
	info := cancelTxInfo{
		AccountIndex: c.accountIndex,
		MarketID:     meta.id,
		OrderID:      orderID,
		Nonce:        c.nextNonce(),
	}
	var payload struct {
		Code int `json:"code"`
	}
	return c.sendTx(ctx, "cancel_order", info, &payload)
}

func (c *Client) market(ctx context.Context, symbol string) (marketMeta, error) {
	c.metaMu.RLock()
	meta, ok := c.markets[symbol]
	c.metaMu.RUnlock()
	if ok {
		return meta, nil
	}
	// Market metadata fills as a side effect of the price fetch.
	if _, err := c.MarkPrice(ctx, symbol); err != nil {
		return marketMeta{}, err
	}
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	meta, ok = c.markets[symbol]
	if !ok {
		return marketMeta{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return meta, nil
}

func (c *Client) sendTx(ctx context.Context, txType string, info any, out any) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	sig, err := c.signTx(raw)
	if err != nil {
		return err
	}
	body, err := json.Marshal(sendTxRequest{TxType: txType, TxInfo: raw, Signature: sig})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sendTx", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("lighter: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// signTx signs the keccak hash of the canonical tx payload.
func (c *Client) signTx(payload []byte) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.signerKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("lighter: private key: %w", err)
	}
	sig, err := crypto.Sign(crypto.Keccak256(payload), key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("lighter: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.nonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.nonce.CompareAndSwap(prev, next) {
			return next
		}
	}
}

func orderResult(order orderPayload) (venue.OrderResult, error) {
	if order.ID == "" {
		return venue.OrderResult{}, errors.New("lighter: response missing order")
	}
	filled, _ := strconv.ParseFloat(order.FilledSize, 64)
	price, _ := strconv.ParseFloat(order.AvgPrice, 64)
	result := venue.OrderResult{
		OrderID:    order.ID,
		FilledSize: filled,
		AvgPrice:   price,
	}
	switch order.Status {
	case "filled":
		result.Status = venue.StatusFilled
	case "open", "pending", "in-progress":
		if filled > 0 {
			result.Status = venue.StatusPartiallyFilled
		} else {
			result.Status = venue.StatusOpen
		}
	case "canceled", "canceled-post-only", "expired":
		if filled > 0 {
			result.Status = venue.StatusFilled
		} else {
			result.Status = venue.StatusRejected
		}
	default:
		result.Status = venue.StatusRejected
	}
	return result, nil
}

func tifWire(tif venue.TimeInForce) string {
	switch tif {
	case venue.TifGTC:
		return "good-till-time"
	case venue.TifPostOnly:
		return "post-only"
	default:
		return "immediate-or-cancel"
	}
}

func formatDecimals(x float64, decimals int) string {
	return strconv.FormatFloat(x, 'f', decimals, 64)
}
