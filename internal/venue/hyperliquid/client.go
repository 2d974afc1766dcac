package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"funding-arb-bot/internal/venue"

	"go.uber.org/zap"
)

// Native funding accrues hourly on this venue.
const fundingInterval = time.Hour

var ErrUnknownSymbol = errors.New("hyperliquid: unknown symbol")

// midCacheTTL bounds how old a streamed mid may be before MarkPrice
// falls back to REST.
const midCacheTTL = 5 * time.Second

type cachedMid struct {
	price float64
	at    time.Time
}

type assetMeta struct {
	index      int
	szDecimals int
}

// Client talks to the public info endpoint and the signed exchange
// endpoint. Asset indices and size decimals come from the perp meta and
// are cached for the process lifetime.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *Signer
	wallet  string
	log     *zap.Logger

	nonce atomic.Uint64

	metaMu sync.RWMutex
	meta   map[string]assetMeta

	midMu sync.RWMutex
	mids  map[string]cachedMid
}

func NewClient(baseURL string, timeout time.Duration, signer *Signer, walletAddress string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.hyperliquid.xyz"
	}
	wallet := strings.TrimSpace(walletAddress)
	if wallet == "" && signer != nil {
		wallet = signer.Address().Hex()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		signer:  signer,
		wallet:  wallet,
		log:     log,
		meta:    make(map[string]assetMeta),
		mids:    make(map[string]cachedMid),
	}
}

func (c *Client) Name() string { return venue.Hyperliquid }

func (c *Client) FundingRate(ctx context.Context, symbol string) (venue.FundingSample, error) {
	var payload []json.RawMessage
	if err := c.info(ctx, map[string]any{"type": "metaAndAssetCtxs"}, &payload); err != nil {
		return venue.FundingSample{}, err
	}
	if len(payload) < 2 {
		return venue.FundingSample{}, errors.New("hyperliquid: malformed metaAndAssetCtxs response")
	}
	var meta struct {
		Universe []struct {
			Name       string `json:"name"`
			SzDecimals int    `json:"szDecimals"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(payload[0], &meta); err != nil {
		return venue.FundingSample{}, err
	}
	var ctxs []struct {
		Funding string `json:"funding"`
		MarkPx  string `json:"markPx"`
	}
	if err := json.Unmarshal(payload[1], &ctxs); err != nil {
		return venue.FundingSample{}, err
	}

	c.metaMu.Lock()
	for i, asset := range meta.Universe {
		c.meta[asset.Name] = assetMeta{index: i, szDecimals: asset.SzDecimals}
	}
	c.metaMu.Unlock()

	for i, asset := range meta.Universe {
		if asset.Name != symbol || i >= len(ctxs) {
			continue
		}
		rate, err := strconv.ParseFloat(ctxs[i].Funding, 64)
		if err != nil {
			return venue.FundingSample{}, fmt.Errorf("hyperliquid: funding for %s: %w", symbol, err)
		}
		return venue.FundingSample{
			Venue:      venue.Hyperliquid,
			Symbol:     symbol,
			Rate:       rate,
			Interval:   fundingInterval,
			ObservedAt: time.Now().UTC(),
		}, nil
	}
	return venue.FundingSample{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if price, ok := c.freshMid(symbol); ok {
		return price, nil
	}
	var mids map[string]string
	if err := c.info(ctx, map[string]any{"type": "allMids"}, &mids); err != nil {
		return 0, err
	}
	raw, ok := mids[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("hyperliquid: mid for %s: %w", symbol, err)
	}
	return price, nil
}

func (c *Client) setCachedMid(symbol string, price float64, at time.Time) {
	c.midMu.Lock()
	c.mids[symbol] = cachedMid{price: price, at: at}
	c.midMu.Unlock()
}

func (c *Client) freshMid(symbol string) (float64, bool) {
	c.midMu.RLock()
	mid, ok := c.mids[symbol]
	c.midMu.RUnlock()
	if !ok || time.Since(mid.at) > midCacheTTL {
		return 0, false
	}
	return mid.price, true
}

func (c *Client) AccountState(ctx context.Context) (venue.AccountState, error) {
	if c.wallet == "" {
		return venue.AccountState{}, errors.New("hyperliquid: wallet address is required")
	}
	var state struct {
		MarginSummary struct {
			AccountValue    string `json:"accountValue"`
			TotalMarginUsed string `json:"totalMarginUsed"`
		} `json:"marginSummary"`
	}
	req := map[string]any{"type": "clearinghouseState", "user": c.wallet}
	if err := c.info(ctx, req, &state); err != nil {
		return venue.AccountState{}, err
	}
	equity, err := strconv.ParseFloat(state.MarginSummary.AccountValue, 64)
	if err != nil {
		return venue.AccountState{}, fmt.Errorf("hyperliquid: account value: %w", err)
	}
	used, err := strconv.ParseFloat(state.MarginSummary.TotalMarginUsed, 64)
	if err != nil {
		return venue.AccountState{}, fmt.Errorf("hyperliquid: margin used: %w", err)
	}
	return venue.AccountState{
		Equity:     equity,
		UsedMargin: used,
		FreeMargin: equity - used,
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, intent venue.OrderIntent) (venue.OrderResult, error) {
	if c.signer == nil {
		return venue.OrderResult{}, errors.New("hyperliquid: signer is required for trading")
	}
	meta, err := c.assetMeta(ctx, intent.Symbol)
	if err != nil {
		return venue.OrderResult{}, err
	}
	size := roundToDecimals(intent.Size, meta.szDecimals)
	if size <= 0 {
		return venue.OrderResult{}, fmt.Errorf("hyperliquid: size %.10f rounds to zero for %s", intent.Size, intent.Symbol)
	}
	wire, err := LimitOrderWire(meta.index, intent.Side == venue.SideBuy, size, intent.Price, intent.ReduceOnly, tifWire(intent.TimeInForce), intent.ClientID)
	if err != nil {
		return venue.OrderResult{}, err
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{wire}, Grouping: "na"}
	nonce := c.nextNonce()
	sig, err := c.signer.SignOrderAction(action, nonce)
	if err != nil {
		return venue.OrderResult{}, err
	}
	resp, err := c.postExchange(ctx, action, sig, nonce)
	if err != nil {
		return venue.OrderResult{}, err
	}
	return parseOrderResponse(resp)
}

func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (venue.OrderResult, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return venue.OrderResult{}, fmt.Errorf("hyperliquid: order id %q: %w", orderID, err)
	}
	var payload struct {
		Status string `json:"status"`
		Order  struct {
			Order struct {
				OrigSz  string `json:"origSz"`
				Sz      string `json:"sz"`
				LimitPx string `json:"limitPx"`
			} `json:"order"`
			Status string `json:"status"`
		} `json:"order"`
	}
	req := map[string]any{"type": "orderStatus", "user": c.wallet, "oid": oid}
	if err := c.info(ctx, req, &payload); err != nil {
		return venue.OrderResult{}, err
	}
	if payload.Status != "order" {
		return venue.OrderResult{}, fmt.Errorf("hyperliquid: order %s not found", orderID)
	}
	orig, _ := strconv.ParseFloat(payload.Order.Order.OrigSz, 64)
	remaining, _ := strconv.ParseFloat(payload.Order.Order.Sz, 64)
	price, _ := strconv.ParseFloat(payload.Order.Order.LimitPx, 64)
	filled := orig - remaining
	if filled < 0 {
		filled = 0
	}
	result := venue.OrderResult{
		OrderID:    orderID,
		FilledSize: filled,
		AvgPrice:   price,
	}
	switch payload.Order.Status {
	case "filled":
		result.Status = venue.StatusFilled
	case "open":
		if filled > 0 {
			result.Status = venue.StatusPartiallyFilled
		} else {
			result.Status = venue.StatusOpen
		}
	case "canceled", "marginCanceled":
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

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if c.signer == nil {
		return errors.New("hyperliquid: signer is required for trading")
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("hyperliquid: order id %q: %w", orderID, err)
	}
	meta, err := c.assetMeta(ctx, symbol)
	if err != nil {
		return err
	}
	action := CancelAction{Type: "cancel", Cancels: []CancelWire{{Asset: meta.index, OrderID: oid}}}
	nonce := c.nextNonce()
	sig, err := c.signer.SignCancelAction(action, nonce)
	if err != nil {
		return err
	}
	_, err = c.postExchange(ctx, action, sig, nonce)
	return err
}

func (c *Client) assetMeta(ctx context.Context, symbol string) (assetMeta, error) {
	c.metaMu.RLock()
	meta, ok := c.meta[symbol]
	c.metaMu.RUnlock()
	if ok {
		return meta, nil
	}
	// The meta cache fills as a side effect of the funding fetch.
	if _, err := c.FundingRate(ctx, symbol); err != nil {
		return assetMeta{}, err
	}
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	meta, ok = c.meta[symbol]
	if !ok {
		return assetMeta{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return meta, nil
}

// nextNonce returns a strictly increasing millisecond timestamp. The
// venue rejects reused nonces per wallet.
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

func (c *Client) postExchange(ctx context.Context, action any, sig Signature, nonce uint64) (map[string]any, error) {
	payload := SignedAction{
		Action:    action,
		Nonce:     nonce,
		Signature: sig,
	}
	var resp map[string]any
	if err := c.post(ctx, "/exchange", payload, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) info(ctx context.Context, req any, out any) error {
	return c.post(ctx, "/info", req, out)
}

func (c *Client) post(ctx context.Context, path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("hyperliquid: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func tifWire(tif venue.TimeInForce) Tif {
	switch tif {
	case venue.TifGTC:
		return TifGtc
	case venue.TifPostOnly:
		return TifAlo
	default:
		return TifIoc
	}
}

func roundToDecimals(x float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Floor(x*scale) / scale
}
