package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
strategy:
  tracked_symbols: [BTC, ETH]
  min_edge_bps: 20
  exit_edge_bps: 5
risk:
  max_total_notional_usd: 10000
  max_symbol_notional_usd: 2000
  max_leverage: 5
  margin_buffer_ratio: 0.2
  drift_threshold_bps: 50
execution:
  order_notional_usd: 500
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.Log.Level)
	}
	if cfg.Hyperliquid.BaseURL == "" || cfg.Lighter.BaseURL == "" {
		t.Fatalf("expected venue base url defaults")
	}
	if cfg.Strategy.RebalanceInterval != 30*time.Second {
		t.Fatalf("expected default rebalance interval, got %s", cfg.Strategy.RebalanceInterval)
	}
	if cfg.Strategy.FundingHorizon != 8*time.Hour {
		t.Fatalf("expected default funding horizon, got %s", cfg.Strategy.FundingHorizon)
	}
	if cfg.Strategy.PrimaryVenue != "lighter" {
		t.Fatalf("expected default primary venue lighter, got %s", cfg.Strategy.PrimaryVenue)
	}
	if cfg.Execution.TimeInForce != "ioc" {
		t.Fatalf("expected default tif ioc, got %s", cfg.Execution.TimeInForce)
	}
	if cfg.Execution.UnwindAttempts != 3 {
		t.Fatalf("expected default unwind attempts 3, got %d", cfg.Execution.UnwindAttempts)
	}
}

func TestLoadRejectsMissingSymbols(t *testing.T) {
	content := `
risk:
  max_total_notional_usd: 10000
  max_symbol_notional_usd: 2000
  max_leverage: 5
  margin_buffer_ratio: 0.2
  drift_threshold_bps: 50
execution:
  order_notional_usd: 500
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatalf("expected error for missing tracked symbols")
	}
}

func TestLoadRejectsExitAboveEntry(t *testing.T) {
	content := `
strategy:
  tracked_symbols: [BTC]
  min_edge_bps: 10
  exit_edge_bps: 15
risk:
  max_total_notional_usd: 10000
  max_symbol_notional_usd: 2000
  max_leverage: 5
  margin_buffer_ratio: 0.2
  drift_threshold_bps: 50
execution:
  order_notional_usd: 500
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatalf("expected error for exit edge above min edge")
	}
}

func TestLoadRejectsNotionalAboveSymbolCap(t *testing.T) {
	content := `
strategy:
  tracked_symbols: [BTC]
risk:
  max_total_notional_usd: 10000
  max_symbol_notional_usd: 2000
  max_leverage: 5
  margin_buffer_ratio: 0.2
  drift_threshold_bps: 50
execution:
  order_notional_usd: 5000
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatalf("expected error for order notional above symbol cap")
	}
}

func TestLoadRejectsUnknownPrimaryVenue(t *testing.T) {
	content := validConfig + `
  slippage_bps: 5
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Execution.SlippageBps != 5 {
		t.Fatalf("expected slippage 5, got %f", cfg.Execution.SlippageBps)
	}

	bad := `
strategy:
  tracked_symbols: [BTC]
  primary_venue: binance
risk:
  max_total_notional_usd: 10000
  max_symbol_notional_usd: 2000
  max_leverage: 5
  margin_buffer_ratio: 0.2
  drift_threshold_bps: 50
execution:
  order_notional_usd: 500
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatalf("expected error for unknown primary venue")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
