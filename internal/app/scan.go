package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/funding"
	"funding-arb-bot/internal/venue"
	"funding-arb-bot/internal/venue/hyperliquid"
	"funding-arb-bot/internal/venue/lighter"

	"go.uber.org/zap"
)

// Scan fetches current funding on both venues for every tracked symbol
// and prints the per-8h edge table. No credentials are needed and no
// orders are placed.
func Scan(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	clients := map[string]venue.Client{
		venue.Hyperliquid: hyperliquid.NewClient(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, nil, "", log),
		venue.Lighter:     lighter.NewClient(cfg.Lighter.BaseURL, cfg.Lighter.Timeout, "", 0, log),
	}
	venueA := strings.ToLower(cfg.Strategy.PrimaryVenue)
	venueB := venue.Hyperliquid
	if venueA == venue.Hyperliquid {
		venueB = venue.Lighter
	}
	return scanWith(ctx, cfg, clients, venueA, venueB, out)
}

func scanWith(ctx context.Context, cfg *config.Config, clients map[string]venue.Client, venueA, venueB string, out io.Writer) error {
	book := funding.NewBook(cfg.Strategy.FundingHorizon)
	var lastErr error
	for _, symbol := range cfg.Strategy.TrackedSymbols {
		for name, client := range clients {
			sample, err := client.FundingRate(ctx, symbol)
			if err == nil {
				err = book.Record(sample)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// A symbol missing on one venue still gets a row.
				lastErr = fmt.Errorf("funding for %s on %s: %w", symbol, name, err)
			}
		}
	}

	now := time.Now().UTC()
	var snaps []funding.EdgeSnapshot
	var missing []string
	for _, symbol := range cfg.Strategy.TrackedSymbols {
		snap, ok := book.Edge(venueA, venueB, symbol, cfg.Strategy.StaleDataAge, now)
		if !ok {
			missing = append(missing, symbol)
			continue
		}
		snaps = append(snaps, snap)
	}
	if len(snaps) == 0 && lastErr != nil {
		return lastErr
	}
	sort.Slice(snaps, func(i, j int) bool {
		return math.Abs(snaps[i].EdgeBps) > math.Abs(snaps[j].EdgeBps)
	})

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SYMBOL\t%s/8h\t%s/8h\tEDGE BPS\tAPR %%\tACTION\n", strings.ToUpper(venueA), strings.ToUpper(venueB))
	for _, snap := range snaps {
		action := "hold"
		if math.Abs(snap.EdgeBps) >= cfg.Strategy.MinEdgeBps {
			if snap.EdgeBps > 0 {
				action = fmt.Sprintf("short %s / long %s", venueA, venueB)
			} else {
				action = fmt.Sprintf("short %s / long %s", venueB, venueA)
			}
		}
		fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%+.2f\t%+.1f\t%s\n",
			snap.Symbol, snap.RateA, snap.RateB, snap.EdgeBps, annualizedPct(snap.EdgeBps), action)
	}
	for _, symbol := range missing {
		fmt.Fprintf(tw, "%s\t-\t-\t-\t-\tno data\n", symbol)
	}
	return tw.Flush()
}

// annualizedPct converts a per-8h edge in bps to a simple annualized
// percentage, three funding periods a day.
func annualizedPct(edgeBps float64) float64 {
	return edgeBps / 10000 * 3 * 365 * 100
}
