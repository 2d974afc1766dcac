package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"funding-arb-bot/internal/alerts"
	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/funding"
	"funding-arb-bot/internal/hedge"
	"funding-arb-bot/internal/history"
	"funding-arb-bot/internal/metrics"
	"funding-arb-bot/internal/pnl"
	"funding-arb-bot/internal/position"
	"funding-arb-bot/internal/state/sqlite"
	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/venue"
	"funding-arb-bot/internal/venue/hyperliquid"
	"funding-arb-bot/internal/venue/lighter"

	"go.uber.org/zap"
)

// App wires the venue clients, the funding book, the risk gate and the
// hedge executor into the rebalance loop.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	clients   map[string]venue.Client
	book      *funding.Book
	gate      *strategy.Gate
	kill      *strategy.KillSwitch
	positions *position.Tracker
	pnl       *pnl.Tracker
	executor  *hedge.Executor
	history   *history.Writer
	met       *metrics.Metrics
	prom      *metrics.Prometheus
	notify    alerts.Notifier
	feed      *hyperliquid.Feed

	venueA string
	venueB string
}

// New assembles the bot. Trading credentials come from the environment
// only; the config file never carries secrets.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	hlWallet := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	hlKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	var hlSigner *hyperliquid.Signer
	if hlKey != "" {
		isMainnet := !strings.Contains(strings.ToLower(cfg.Hyperliquid.BaseURL), "testnet")
		hlSigner, err = hyperliquid.NewSigner(hlKey, isMainnet)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("hyperliquid signer: %w", err)
		}
		if hlWallet != "" && !strings.EqualFold(hlWallet, hlSigner.Address().Hex()) {
			_ = store.Close()
			return nil, fmt.Errorf("HL_WALLET_ADDRESS does not match HL_PRIVATE_KEY: got %s expected %s", hlWallet, hlSigner.Address().Hex())
		}
	}
	hlClient := hyperliquid.NewClient(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, hlSigner, hlWallet, log)
	var feed *hyperliquid.Feed
	if cfg.Hyperliquid.WSURL != "" {
		feed = hyperliquid.NewFeed(cfg.Hyperliquid.WSURL, cfg.Hyperliquid.ReconnectDelay, cfg.Hyperliquid.PingInterval, hlClient, log)
	}

	lighterKey := strings.TrimSpace(os.Getenv("LIGHTER_PRIVATE_KEY"))
	var lighterIndex int64
	if raw := strings.TrimSpace(os.Getenv("LIGHTER_ACCOUNT_INDEX")); raw != "" {
		lighterIndex, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("LIGHTER_ACCOUNT_INDEX: %w", err)
		}
	}
	lighterClient := lighter.NewClient(cfg.Lighter.BaseURL, cfg.Lighter.Timeout, lighterKey, lighterIndex, log)

	clients := map[string]venue.Client{
		venue.Hyperliquid: hlClient,
		venue.Lighter:     lighterClient,
	}

	met := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		met = prom.Metrics
	}

	var notify alerts.Notifier = alerts.NewNoop()
	if cfg.Telegram.Enabled {
		notify = alerts.NewTelegram(cfg.Telegram, log)
	}

	hist, err := history.New(cfg.History, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("history writer: %w", err)
	}

	executor := hedge.NewExecutor(clients, hedge.Config{
		FillTimeout:    cfg.Execution.FillTimeout,
		PollInterval:   cfg.Execution.FillPollInterval,
		UnwindAttempts: cfg.Execution.UnwindAttempts,
		UnwindBackoff:  cfg.Execution.UnwindBackoff,
		SlippageBps:    cfg.Execution.SlippageBps,
	}, log, met, notify)

	// Venue A is the configured primary leg; its fill sizes leg B.
	venueA := strings.ToLower(cfg.Strategy.PrimaryVenue)
	venueB := venue.Hyperliquid
	if venueA == venue.Hyperliquid {
		venueB = venue.Lighter
	}

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		clients: clients,
		book:    funding.NewBook(cfg.Strategy.FundingHorizon),
		gate: strategy.NewGate(strategy.Limits{
			MaxTotalNotionalUSD:  cfg.Risk.MaxTotalNotionalUSD,
			MaxSymbolNotionalUSD: cfg.Risk.MaxSymbolNotionalUSD,
			MaxLeverage:          cfg.Risk.MaxLeverage,
			MarginBufferRatio:    cfg.Risk.MarginBufferRatio,
		}),
		kill:      strategy.NewKillSwitch(cfg.Risk.MaxConsecutiveFailures, cfg.Risk.MaxFailuresPerHour),
		positions: position.NewTracker(store),
		pnl:       pnl.NewTracker(store),
		executor:  executor,
		history:   hist,
		met:       met,
		prom:      prom,
		notify:    notify,
		feed:      feed,
		venueA:    venueA,
		venueB:    venueB,
	}, nil
}

// Run restores persisted state and drives the rebalance loop until ctx
// is cancelled. An in-flight hedge attempt always reaches a terminal
// state before Run returns.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	if err := a.positions.Restore(ctx); err != nil {
		return err
	}
	if err := a.pnl.Restore(ctx); err != nil {
		return err
	}
	for _, pos := range a.positions.Snapshot() {
		a.gate.Seed(pos.Symbol, pos.Notional())
		a.log.Info("restored position",
			zap.String("symbol", pos.Symbol),
			zap.String("state", string(pos.State)),
			zap.Float64("notional_usd", pos.Notional()))
	}

	a.history.Start(ctx)
	defer a.history.Close()

	if a.feed != nil {
		if err := a.feed.Start(ctx); err != nil {
			a.log.Warn("price feed unavailable, marks fall back to rest", zap.Error(err))
		}
	}

	go a.serveHTTP(ctx)

	a.log.Info("rebalance loop starting",
		zap.Strings("symbols", a.cfg.Strategy.TrackedSymbols),
		zap.String("primary_venue", a.venueA),
		zap.Duration("interval", a.cfg.Strategy.RebalanceInterval))

	ticker := time.NewTicker(a.cfg.Strategy.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				a.log.Warn("tick failed", zap.Error(err))
			}
		}
	}
}

// serveHTTP exposes the operator routes, plus /metrics when Prometheus
// is enabled. The kill-switch reset and position views stay reachable
// regardless of the metrics setting.
func (a *App) serveHTTP(ctx context.Context) {
	mux := http.NewServeMux()
	if a.prom != nil {
		mux.Handle("/metrics", a.prom.Handler())
	}
	a.registerOperatorRoutes(mux)
	server := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Warn("metrics server failed", zap.Error(err))
	}
}
