package strategy

import (
	"math"
	"sort"

	"funding-arb-bot/internal/funding"
)

type Action string

const (
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
	ActionHold  Action = "hold"
)

// Decision is the output of one symbol evaluation. LongVenue and
// ShortVenue are set only for enter decisions.
type Decision struct {
	Symbol     string
	Action     Action
	Edge       funding.EdgeSnapshot
	LongVenue  string
	ShortVenue string
	Reason     string
}

type Thresholds struct {
	MinEdgeBps  float64
	ExitEdgeBps float64
}

// Evaluate maps one edge snapshot to an action. Stale data never opens
// exposure, and an open position is flattened once the data has been
// stale past the threshold: an unobservable edge cannot justify staying
// in. The exit threshold is strictly below the entry threshold so
// positions do not flap around a single boundary.
func Evaluate(snap funding.EdgeSnapshot, hasPosition bool, th Thresholds) Decision {
	d := Decision{Symbol: snap.Symbol, Action: ActionHold, Edge: snap}
	if snap.Stale {
		if hasPosition {
			d.Action = ActionExit
			d.Reason = "funding data stale, flattening"
			return d
		}
		d.Reason = "stale funding data"
		return d
	}
	abs := math.Abs(snap.EdgeBps)
	if hasPosition {
		if abs < th.ExitEdgeBps {
			d.Action = ActionExit
			d.Reason = "edge decayed below exit threshold"
		} else {
			d.Reason = "holding open position"
		}
		return d
	}
	if abs < th.MinEdgeBps {
		d.Reason = "edge below entry threshold"
		return d
	}
	d.Action = ActionEnter
	if snap.EdgeBps > 0 {
		// Venue A pays more: collect by shorting A, longing B.
		d.ShortVenue = snap.VenueA
		d.LongVenue = snap.VenueB
	} else {
		d.ShortVenue = snap.VenueB
		d.LongVenue = snap.VenueA
	}
	d.Reason = "edge above entry threshold"
	return d
}

// RankEntries orders enter decisions by absolute edge, best first.
// Admission is sequential against the risk gate, so the ranking decides
// which opportunities get capacity when headroom is limited.
func RankEntries(decisions []Decision) []Decision {
	entries := make([]Decision, 0, len(decisions))
	for _, d := range decisions {
		if d.Action == ActionEnter {
			entries = append(entries, d)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return math.Abs(entries[i].Edge.EdgeBps) > math.Abs(entries[j].Edge.EdgeBps)
	})
	return entries
}

// MidSpreadBps is the relative distance between the two venue marks in
// basis points. Entries are skipped when it is wide: a large mark gap
// usually means one feed is lagging and fill prices will be poor.
func MidSpreadBps(priceA, priceB float64) float64 {
	ref := math.Max(priceA, priceB)
	if ref <= 0 {
		return 0
	}
	return math.Abs(priceA-priceB) / ref * 10000
}

