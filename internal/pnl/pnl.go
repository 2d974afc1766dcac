package pnl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"funding-arb-bot/internal/state"
)

const storePrefix = "pnl:"

// Summary is the running profit and loss for one symbol. RealizedUSD is
// trade PnL from closed legs, FundingUSD the accumulated funding
// payments, FeesUSD total fees paid. Amounts are signed: funding paid
// out shows as negative FundingUSD.
type Summary struct {
	Symbol      string    `json:"symbol"`
	RealizedUSD float64   `json:"realized_usd"`
	FundingUSD  float64   `json:"funding_usd"`
	FeesUSD     float64   `json:"fees_usd"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s Summary) NetUSD() float64 {
	return s.RealizedUSD + s.FundingUSD - s.FeesUSD
}

// Tracker accumulates per-symbol PnL and mirrors each update to the
// durable store so totals survive restarts. Full trade-by-trade history
// belongs to the Timescale sink, not here.
type Tracker struct {
	mu    sync.Mutex
	store state.Store
	bySym map[string]Summary
}

func NewTracker(store state.Store) *Tracker {
	return &Tracker{store: store, bySym: make(map[string]Summary)}
}

func (t *Tracker) Restore(ctx context.Context) error {
	records, err := t.store.List(ctx, storePrefix)
	if err != nil {
		return fmt.Errorf("restore pnl: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, raw := range records {
		var s Summary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return fmt.Errorf("restore pnl %s: %w", strings.TrimPrefix(key, storePrefix), err)
		}
		t.bySym[s.Symbol] = s
	}
	return nil
}

// AddRealized books trade PnL and fees from a closed or unwound leg.
func (t *Tracker) AddRealized(ctx context.Context, symbol string, pnlUSD, feesUSD float64) error {
	return t.apply(ctx, symbol, func(s *Summary) {
		s.RealizedUSD += pnlUSD
		s.FeesUSD += feesUSD
	})
}

// AddFunding books one funding payment, positive when collected.
func (t *Tracker) AddFunding(ctx context.Context, symbol string, amountUSD float64) error {
	return t.apply(ctx, symbol, func(s *Summary) {
		s.FundingUSD += amountUSD
	})
}

func (t *Tracker) apply(ctx context.Context, symbol string, mutate func(*Summary)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.bySym[symbol]
	s.Symbol = symbol
	mutate(&s)
	s.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode pnl %s: %w", symbol, err)
	}
	if err := t.store.Set(ctx, storePrefix+symbol, string(raw)); err != nil {
		return fmt.Errorf("persist pnl %s: %w", symbol, err)
	}
	t.bySym[symbol] = s
	return nil
}

func (t *Tracker) Symbol(symbol string) (Summary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.bySym[symbol]
	return s, ok
}

// Snapshot returns every symbol's summary sorted by symbol.
func (t *Tracker) Snapshot() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Summary, 0, len(t.bySym))
	for _, s := range t.bySym {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Total aggregates every symbol into one summary.
func (t *Tracker) Total() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total Summary
	for _, s := range t.bySym {
		total.RealizedUSD += s.RealizedUSD
		total.FundingUSD += s.FundingUSD
		total.FeesUSD += s.FeesUSD
		if s.UpdatedAt.After(total.UpdatedAt) {
			total.UpdatedAt = s.UpdatedAt
		}
	}
	return total
}
