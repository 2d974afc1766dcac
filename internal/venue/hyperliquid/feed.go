package hyperliquid

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"funding-arb-bot/internal/venue/ws"

	"go.uber.org/zap"
)

// Feed streams live mid prices over the venue websocket into the
// client's mark cache. While the stream is healthy, MarkPrice answers
// from the cache instead of a REST round trip.
type Feed struct {
	ws     *ws.Client
	client *Client
	log    *zap.Logger
}

func NewFeed(wsURL string, reconnectDelay, pingInterval time.Duration, client *Client, log *zap.Logger) *Feed {
	if wsURL == "" {
		wsURL = "wss://api.hyperliquid.xyz/ws"
	}
	ping := map[string]any{"method": "ping"}
	return &Feed{
		ws:     ws.New(wsURL, reconnectDelay, pingInterval, ping, log),
		client: client,
		log:    log,
	}
}

// Start subscribes to allMids and reads until ctx is cancelled. The
// stream reconnects on transport errors; a dead stream only costs the
// cache, REST remains the fallback.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	sub := map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "allMids"}}
	if err := f.ws.Subscribe(ctx, sub); err != nil {
		return err
	}
	go func() {
		_ = f.ws.Run(ctx, f.handleMessage)
	}()
	return nil
}

func (f *Feed) handleMessage(msg json.RawMessage) {
	var payload struct {
		Channel string `json:"channel"`
		Data    struct {
			Mids map[string]string `json:"mids"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &payload); err != nil {
		f.log.Debug("ws decode error", zap.Error(err))
		return
	}
	if len(payload.Data.Mids) == 0 {
		return
	}
	now := time.Now().UTC()
	for symbol, raw := range payload.Data.Mids {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		f.client.setCachedMid(symbol, price, now)
	}
}
