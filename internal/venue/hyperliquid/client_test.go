package hyperliquid

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"funding-arb-bot/internal/venue"

	"go.uber.org/zap"
)

const metaAndAssetCtxs = `[
	{"universe":[{"name":"BTC","szDecimals":5},{"name":"ETH","szDecimals":4}]},
	[{"funding":"0.0000125","markPx":"50000"},{"funding":"-0.00002","markPx":"3000"}]
]`

func infoServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reqType, _ := req["type"].(string)
		body, ok := responses[reqType]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestFundingRate(t *testing.T) {
	server := infoServer(t, map[string]string{"metaAndAssetCtxs": metaAndAssetCtxs})
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil, "", zap.NewNop())
	sample, err := c.FundingRate(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(sample.Rate - -0.00002) > 1e-12 {
		t.Fatalf("expected rate -0.00002, got %v", sample.Rate)
	}
	if sample.Interval != time.Hour {
		t.Fatalf("expected hourly interval, got %s", sample.Interval)
	}
	if sample.Venue != venue.Hyperliquid {
		t.Fatalf("unexpected venue %s", sample.Venue)
	}

	if _, err := c.FundingRate(context.Background(), "DOGE"); err == nil {
		t.Fatalf("expected error for unknown symbol")
	}
}

func TestMarkPrice(t *testing.T) {
	server := infoServer(t, map[string]string{"allMids": `{"BTC":"50123.5","ETH":"3001"}`})
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil, "", zap.NewNop())
	price, err := c.MarkPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 50123.5 {
		t.Fatalf("expected 50123.5, got %v", price)
	}
	if _, err := c.MarkPrice(context.Background(), "DOGE"); err == nil {
		t.Fatalf("expected error for unknown symbol")
	}
}

func TestAccountState(t *testing.T) {
	server := infoServer(t, map[string]string{
		"clearinghouseState": `{"marginSummary":{"accountValue":"10000.5","totalMarginUsed":"1500.5"}}`,
	})
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil, "0xabc", zap.NewNop())
	state, err := c.AccountState(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Equity != 10000.5 || state.UsedMargin != 1500.5 {
		t.Fatalf("unexpected state: %+v", state)
	}
	if math.Abs(state.FreeMargin-8500.0) > 1e-9 {
		t.Fatalf("expected free margin 8500, got %v", state.FreeMargin)
	}
}

func TestPlaceOrderFilled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/info":
			_, _ = w.Write([]byte(metaAndAssetCtxs))
		case "/exchange":
			var payload SignedAction
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if payload.Signature.R == "" || payload.Nonce == 0 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"oid":77,"totalSz":"0.5","avgPx":"50001"}}]}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2", true)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	c := NewClient(server.URL, time.Second, signer, "", zap.NewNop())
	result, err := c.PlaceOrder(context.Background(), venue.OrderIntent{
		Symbol: "BTC", Side: venue.SideBuy, Size: 0.5, Price: 50010, TimeInForce: venue.TifIOC,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OrderID != "77" || result.Status != venue.StatusFilled {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.FilledSize != 0.5 || result.AvgPrice != 50001 {
		t.Fatalf("unexpected fill: %+v", result)
	}
}

func TestParseOrderResponseError(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"data": map[string]any{
				"statuses": []any{map[string]any{"error": "insufficient margin"}},
			},
		},
	}
	result, err := parseOrderResponse(resp)
	if err == nil {
		t.Fatalf("expected error")
	}
	if result.Status != venue.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", result.Status)
	}
}

func TestOrderStatusPartialFill(t *testing.T) {
	server := infoServer(t, map[string]string{
		"orderStatus": `{"status":"order","order":{"order":{"origSz":"1.0","sz":"0.6","limitPx":"50000"},"status":"open"}}`,
	})
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil, "0xabc", zap.NewNop())
	result, err := c.OrderStatus(context.Background(), "BTC", "77")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != venue.StatusPartiallyFilled {
		t.Fatalf("expected PARTIALLY_FILLED, got %s", result.Status)
	}
	if math.Abs(result.FilledSize-0.4) > 1e-9 {
		t.Fatalf("expected filled 0.4, got %v", result.FilledSize)
	}
}

func TestNextNonceMonotonic(t *testing.T) {
	c := NewClient("http://unused", time.Second, nil, "", zap.NewNop())
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		n := c.nextNonce()
		if n <= prev {
			t.Fatalf("nonce not increasing: %d then %d", prev, n)
		}
		prev = n
	}
}

func TestFeedUpdatesMidCache(t *testing.T) {
	c := NewClient("http://unused", time.Second, nil, "", zap.NewNop())
	f := NewFeed("", time.Second, time.Second, c, zap.NewNop())

	f.handleMessage(json.RawMessage(`{"channel":"allMids","data":{"mids":{"BTC":"50100.5","ETH":"not-a-number"}}}`))

	price, err := c.MarkPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 50100.5 {
		t.Fatalf("expected cached mid 50100.5, got %v", price)
	}
	if _, ok := c.freshMid("ETH"); ok {
		t.Fatalf("unparseable mid must not be cached")
	}
}

func TestMarkPriceIgnoresStaleCache(t *testing.T) {
	server := infoServer(t, map[string]string{
		"allMids": `{"BTC":"49000"}`,
	})
	defer server.Close()

	c := NewClient(server.URL, time.Second, nil, "", zap.NewNop())
	c.setCachedMid("BTC", 50100.5, time.Now().Add(-time.Minute))

	price, err := c.MarkPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 49000 {
		t.Fatalf("expected rest fallback 49000, got %v", price)
	}
}
