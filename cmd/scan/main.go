package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"funding-arb-bot/internal/app"
	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/logging"

	"go.uber.org/zap"
)

// scan prints the current funding edge table once and exits. It places
// no orders and needs no credentials.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	timeout := flag.Duration("timeout", 30*time.Second, "overall fetch timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := app.Scan(ctx, cfg, log, os.Stdout); err != nil {
		log.Error("scan failed", zap.Error(err))
		os.Exit(1)
	}
}
