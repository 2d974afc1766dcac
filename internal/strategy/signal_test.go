package strategy

import (
	"testing"
	"time"

	"funding-arb-bot/internal/funding"
)

func snap(symbol string, edgeBps float64, stale bool) funding.EdgeSnapshot {
	return funding.EdgeSnapshot{
		Symbol:     symbol,
		VenueA:     "hyperliquid",
		VenueB:     "lighter",
		EdgeBps:    edgeBps,
		ComputedAt: time.Now().UTC(),
		Stale:      stale,
	}
}

func TestEvaluate(t *testing.T) {
	th := Thresholds{MinEdgeBps: 20, ExitEdgeBps: 5}

	cases := []struct {
		name        string
		snap        funding.EdgeSnapshot
		hasPosition bool
		wantAction  Action
		wantLong    string
		wantShort   string
	}{
		{name: "positive edge enters short A", snap: snap("BTC", 25, false), wantAction: ActionEnter, wantLong: "lighter", wantShort: "hyperliquid"},
		{name: "negative edge enters short B", snap: snap("BTC", -30, false), wantAction: ActionEnter, wantLong: "hyperliquid", wantShort: "lighter"},
		{name: "edge below entry holds", snap: snap("BTC", 15, false), wantAction: ActionHold},
		{name: "edge at entry threshold holds", snap: snap("BTC", 19.99, false), wantAction: ActionHold},
		{name: "stale snapshot holds flat", snap: snap("BTC", 50, true), wantAction: ActionHold},
		{name: "stale snapshot flattens open position", snap: snap("BTC", 1, true), hasPosition: true, wantAction: ActionExit},
		{name: "stale snapshot flattens even on wide edge", snap: snap("BTC", 50, true), hasPosition: true, wantAction: ActionExit},
		{name: "decayed edge exits", snap: snap("BTC", 3, false), hasPosition: true, wantAction: ActionExit},
		{name: "edge between thresholds holds open", snap: snap("BTC", 10, false), hasPosition: true, wantAction: ActionHold},
		{name: "negative decayed edge exits", snap: snap("BTC", -2, false), hasPosition: true, wantAction: ActionExit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(tc.snap, tc.hasPosition, th)
			if d.Action != tc.wantAction {
				t.Fatalf("expected %s, got %s (%s)", tc.wantAction, d.Action, d.Reason)
			}
			if tc.wantAction == ActionEnter {
				if d.LongVenue != tc.wantLong || d.ShortVenue != tc.wantShort {
					t.Fatalf("expected long=%s short=%s, got long=%s short=%s", tc.wantLong, tc.wantShort, d.LongVenue, d.ShortVenue)
				}
			}
		})
	}
}

func TestRankEntriesOrdersByAbsoluteEdge(t *testing.T) {
	decisions := []Decision{
		{Symbol: "BTC", Action: ActionEnter, Edge: snap("BTC", 25, false)},
		{Symbol: "ETH", Action: ActionExit, Edge: snap("ETH", 2, false)},
		{Symbol: "SOL", Action: ActionEnter, Edge: snap("SOL", -40, false)},
		{Symbol: "DOGE", Action: ActionHold, Edge: snap("DOGE", 5, false)},
	}
	ranked := RankEntries(decisions)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ranked))
	}
	if ranked[0].Symbol != "SOL" || ranked[1].Symbol != "BTC" {
		t.Fatalf("expected SOL then BTC, got %s then %s", ranked[0].Symbol, ranked[1].Symbol)
	}
}

func TestMidSpreadBps(t *testing.T) {
	if got := MidSpreadBps(100, 100); got != 0 {
		t.Fatalf("expected 0 spread, got %v", got)
	}
	got := MidSpreadBps(100, 99)
	if got < 99.9 || got > 100.1 {
		t.Fatalf("expected ~100 bps, got %v", got)
	}
	if got := MidSpreadBps(0, 0); got != 0 {
		t.Fatalf("expected 0 for missing prices, got %v", got)
	}
}
