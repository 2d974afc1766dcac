package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LoggingConfig   `yaml:"log"`
	Hyperliquid VenueConfig     `yaml:"hyperliquid"`
	Lighter     VenueConfig     `yaml:"lighter"`
	State       StateConfig     `yaml:"state"`
	History     HistoryConfig   `yaml:"history"`
	Strategy    StrategyConfig  `yaml:"strategy"`
	Risk        RiskConfig      `yaml:"risk"`
	Execution   ExecutionConfig `yaml:"execution"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Telegram    TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type VenueConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type StrategyConfig struct {
	TrackedSymbols    []string      `yaml:"tracked_symbols"`
	MinEdgeBps        float64       `yaml:"min_edge_bps"`
	ExitEdgeBps       float64       `yaml:"exit_edge_bps"`
	FundingHorizon    time.Duration `yaml:"funding_horizon"`
	RebalanceInterval time.Duration `yaml:"rebalance_interval"`
	StaleDataAge      time.Duration `yaml:"stale_data_age"`
	MaxMidSpreadBps   float64       `yaml:"max_mid_spread_bps"`
	PrimaryVenue      string        `yaml:"primary_venue"`
}

type RiskConfig struct {
	MaxTotalNotionalUSD    float64 `yaml:"max_total_notional_usd"`
	MaxSymbolNotionalUSD   float64 `yaml:"max_symbol_notional_usd"`
	MaxLeverage            float64 `yaml:"max_leverage"`
	MarginBufferRatio      float64 `yaml:"margin_buffer_ratio"`
	DriftThresholdBps      float64 `yaml:"drift_threshold_bps"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	MaxFailuresPerHour     int     `yaml:"max_failures_per_hour"`
}

type ExecutionConfig struct {
	OrderNotionalUSD float64       `yaml:"order_notional_usd"`
	SlippageBps      float64       `yaml:"slippage_bps"`
	TimeInForce      string        `yaml:"time_in_force"`
	FillTimeout      time.Duration `yaml:"fill_timeout"`
	FillPollInterval time.Duration `yaml:"fill_poll_interval"`
	UnwindAttempts   int           `yaml:"unwind_attempts"`
	UnwindBackoff    time.Duration `yaml:"unwind_backoff"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Hyperliquid.BaseURL == "" {
		cfg.Hyperliquid.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Hyperliquid.WSURL == "" {
		cfg.Hyperliquid.WSURL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Lighter.BaseURL == "" {
		cfg.Lighter.BaseURL = "https://mainnet.zklighter.elliot.ai"
	}
	applyVenueDefaults(&cfg.Hyperliquid)
	applyVenueDefaults(&cfg.Lighter)
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/funding-arb-bot.db"
	}
	if cfg.Strategy.MinEdgeBps == 0 {
		cfg.Strategy.MinEdgeBps = 20
	}
	if cfg.Strategy.ExitEdgeBps == 0 {
		cfg.Strategy.ExitEdgeBps = 5
	}
	if cfg.Strategy.FundingHorizon == 0 {
		cfg.Strategy.FundingHorizon = 8 * time.Hour
	}
	if cfg.Strategy.RebalanceInterval == 0 {
		cfg.Strategy.RebalanceInterval = 30 * time.Second
	}
	if cfg.Strategy.StaleDataAge == 0 {
		cfg.Strategy.StaleDataAge = 2 * time.Minute
	}
	if cfg.Strategy.MaxMidSpreadBps == 0 {
		cfg.Strategy.MaxMidSpreadBps = 50
	}
	if cfg.Strategy.PrimaryVenue == "" {
		cfg.Strategy.PrimaryVenue = "lighter"
	}
	if cfg.Risk.MaxConsecutiveFailures == 0 {
		cfg.Risk.MaxConsecutiveFailures = 3
	}
	if cfg.Risk.MaxFailuresPerHour == 0 {
		cfg.Risk.MaxFailuresPerHour = 10
	}
	if cfg.Execution.SlippageBps == 0 {
		cfg.Execution.SlippageBps = 5
	}
	if cfg.Execution.TimeInForce == "" {
		cfg.Execution.TimeInForce = "ioc"
	}
	if cfg.Execution.FillTimeout == 0 {
		cfg.Execution.FillTimeout = 10 * time.Second
	}
	if cfg.Execution.FillPollInterval == 0 {
		cfg.Execution.FillPollInterval = 500 * time.Millisecond
	}
	if cfg.Execution.UnwindAttempts == 0 {
		cfg.Execution.UnwindAttempts = 3
	}
	if cfg.Execution.UnwindBackoff == 0 {
		cfg.Execution.UnwindBackoff = time.Second
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
}

func applyVenueDefaults(v *VenueConfig) {
	if v.Timeout == 0 {
		v.Timeout = 10 * time.Second
	}
	if v.ReconnectDelay == 0 {
		v.ReconnectDelay = 3 * time.Second
	}
	if v.PingInterval == 0 {
		v.PingInterval = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	if len(cfg.Strategy.TrackedSymbols) == 0 {
		return errors.New("strategy.tracked_symbols is required")
	}
	if cfg.Strategy.ExitEdgeBps >= cfg.Strategy.MinEdgeBps {
		return errors.New("strategy.exit_edge_bps must be below strategy.min_edge_bps")
	}
	switch strings.ToLower(cfg.Strategy.PrimaryVenue) {
	case "hyperliquid", "lighter":
	default:
		return fmt.Errorf("strategy.primary_venue must be hyperliquid or lighter, got %q", cfg.Strategy.PrimaryVenue)
	}
	if cfg.Execution.OrderNotionalUSD <= 0 {
		return errors.New("execution.order_notional_usd must be > 0")
	}
	if cfg.Risk.MaxTotalNotionalUSD <= 0 {
		return errors.New("risk.max_total_notional_usd must be > 0")
	}
	if cfg.Risk.MaxSymbolNotionalUSD <= 0 {
		return errors.New("risk.max_symbol_notional_usd must be > 0")
	}
	if cfg.Risk.MaxSymbolNotionalUSD > cfg.Risk.MaxTotalNotionalUSD {
		return errors.New("risk.max_symbol_notional_usd exceeds risk.max_total_notional_usd")
	}
	if cfg.Risk.MaxLeverage <= 0 {
		return errors.New("risk.max_leverage must be > 0")
	}
	if cfg.Risk.MarginBufferRatio <= 0 || cfg.Risk.MarginBufferRatio >= 1 {
		return errors.New("risk.margin_buffer_ratio must be in (0, 1)")
	}
	if cfg.Risk.DriftThresholdBps <= 0 {
		return errors.New("risk.drift_threshold_bps must be > 0")
	}
	if cfg.Execution.OrderNotionalUSD > cfg.Risk.MaxSymbolNotionalUSD {
		return errors.New("execution.order_notional_usd exceeds risk.max_symbol_notional_usd")
	}
	switch strings.ToLower(cfg.Execution.TimeInForce) {
	case "ioc", "gtc", "post_only":
	default:
		return fmt.Errorf("execution.time_in_force must be ioc, gtc or post_only, got %q", cfg.Execution.TimeInForce)
	}
	return nil
}
