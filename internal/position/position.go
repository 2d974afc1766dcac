package position

import (
	"math"
	"time"

	"funding-arb-bot/internal/venue"
)

type State string

const (
	StateFlat   State = "FLAT"
	StateOpen   State = "OPEN"
	StateManual State = "MANUAL_INTERVENTION_REQUIRED"
)

// Leg is one side of a hedge as it actually filled on a venue.
type Leg struct {
	Venue      string     `json:"venue"`
	Side       venue.Side `json:"side"`
	Size       float64    `json:"size"`
	EntryPrice float64    `json:"entry_price"`
}

func (l Leg) Notional() float64 {
	return l.Size * l.EntryPrice
}

// Position is an open market-neutral pair for one symbol. LegA is the
// configured primary venue's leg.
type Position struct {
	Symbol       string    `json:"symbol"`
	LegA         Leg       `json:"leg_a"`
	LegB         Leg       `json:"leg_b"`
	EntryEdgeBps float64   `json:"entry_edge_bps"`
	OpenedAt     time.Time `json:"opened_at"`
	State        State     `json:"state"`
}

// Notional is the hedge size in USD at entry, the larger of the two
// legs so caps stay conservative.
func (p Position) Notional() float64 {
	return math.Max(p.LegA.Notional(), p.LegB.Notional())
}

// Leg returns the leg held on the named venue.
func (p Position) Leg(venueName string) (Leg, bool) {
	switch venueName {
	case p.LegA.Venue:
		return p.LegA, true
	case p.LegB.Venue:
		return p.LegB, true
	}
	return Leg{}, false
}

// DriftBps measures how far apart the two legs' current notionals have
// moved, in basis points of the larger one. Marks are per venue because
// the same symbol trades at slightly different prices on each.
func DriftBps(p Position, markA, markB float64) float64 {
	nA := p.LegA.Size * markA
	nB := p.LegB.Size * markB
	ref := math.Max(nA, nB)
	if ref <= 0 {
		return 0
	}
	return math.Abs(nA-nB) / ref * 10000
}
