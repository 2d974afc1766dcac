package funding

import (
	"sync"
	"time"

	"funding-arb-bot/internal/venue"
)

// EdgeSnapshot is one cross-venue funding comparison for a symbol. Rates
// are per-8h. EdgeBps is RateA minus RateB in basis points: positive
// means venue A pays more, so the carry trade is short A, long B.
type EdgeSnapshot struct {
	Symbol     string
	VenueA     string
	VenueB     string
	RateA      float64
	RateB      float64
	EdgeBps    float64
	ComputedAt time.Time
	Stale      bool
}

type observation struct {
	rate       float64
	observedAt time.Time
}

type series struct {
	obs []observation
}

// Book holds rolling windows of normalized funding observations keyed by
// venue and symbol. Observations older than the horizon are evicted on
// insert; reads never mutate.
type Book struct {
	mu      sync.RWMutex
	horizon time.Duration
	series  map[string]map[string]*series
}

func NewBook(horizon time.Duration) *Book {
	if horizon <= 0 {
		horizon = ReferenceInterval
	}
	return &Book{
		horizon: horizon,
		series:  make(map[string]map[string]*series),
	}
}

// Record normalizes and appends a sample. Invalid samples are rejected
// without touching the window.
func (b *Book) Record(s venue.FundingSample) error {
	rate, err := NormalizeSample(s)
	if err != nil {
		return err
	}
	if s.Venue == "" || s.Symbol == "" {
		return ErrInvalidSample
	}
	at := s.ObservedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	bySymbol, ok := b.series[s.Venue]
	if !ok {
		bySymbol = make(map[string]*series)
		b.series[s.Venue] = bySymbol
	}
	sr, ok := bySymbol[s.Symbol]
	if !ok {
		sr = &series{}
		bySymbol[s.Symbol] = sr
	}
	sr.obs = append(sr.obs, observation{rate: rate, observedAt: at})
	sr.evict(at.Add(-b.horizon))
	return nil
}

func (s *series) evict(cutoff time.Time) {
	idx := 0
	for idx < len(s.obs) && !s.obs[idx].observedAt.After(cutoff) {
		idx++
	}
	if idx > 0 {
		s.obs = append(s.obs[:0], s.obs[idx:]...)
	}
}

// Mean returns the smoothed per-8h rate over the horizon window and the
// timestamp of the freshest observation backing it.
func (b *Book) Mean(venueName, symbol string) (float64, time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bySymbol, ok := b.series[venueName]
	if !ok {
		return 0, time.Time{}, false
	}
	sr, ok := bySymbol[symbol]
	if !ok || len(sr.obs) == 0 {
		return 0, time.Time{}, false
	}
	var sum float64
	var latest time.Time
	for _, o := range sr.obs {
		sum += o.rate
		if o.observedAt.After(latest) {
			latest = o.observedAt
		}
	}
	return sum / float64(len(sr.obs)), latest, true
}

// Edge computes the smoothed cross-venue edge for symbol at now. The
// second return is false when either venue has no observations at all.
// A snapshot whose freshest backing observation on either venue is older
// than maxAge is returned with Stale set; callers must not act on it.
func (b *Book) Edge(venueA, venueB, symbol string, maxAge time.Duration, now time.Time) (EdgeSnapshot, bool) {
	rateA, latestA, okA := b.Mean(venueA, symbol)
	rateB, latestB, okB := b.Mean(venueB, symbol)
	if !okA || !okB {
		return EdgeSnapshot{}, false
	}
	snap := EdgeSnapshot{
		Symbol:     symbol,
		VenueA:     venueA,
		VenueB:     venueB,
		RateA:      rateA,
		RateB:      rateB,
		EdgeBps:    (rateA - rateB) * 10000,
		ComputedAt: now,
	}
	if maxAge > 0 {
		if now.Sub(latestA) > maxAge || now.Sub(latestB) > maxAge {
			snap.Stale = true
		}
	}
	return snap, true
}
