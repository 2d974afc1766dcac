package position

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"funding-arb-bot/internal/state"
)

const storePrefix = "position:"

// Tracker owns the set of open positions and mirrors every change to
// the durable store, so a restart resumes with the same book. Positions
// in manual state survive restarts and stay excluded from trading until
// an operator clears them.
type Tracker struct {
	mu    sync.Mutex
	store state.Store
	open  map[string]Position
	locks map[string]*sync.Mutex
}

func NewTracker(store state.Store) *Tracker {
	return &Tracker{
		store: store,
		open:  make(map[string]Position),
		locks: make(map[string]*sync.Mutex),
	}
}

// Restore loads persisted positions. Corrupt records fail loudly rather
// than silently dropping an open hedge.
func (t *Tracker) Restore(ctx context.Context) error {
	records, err := t.store.List(ctx, storePrefix)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, raw := range records {
		var pos Position
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			return fmt.Errorf("restore position %s: %w", strings.TrimPrefix(key, storePrefix), err)
		}
		t.open[pos.Symbol] = pos
	}
	return nil
}

// Lock returns the per-symbol mutex. At most one hedge attempt may be
// in flight per symbol; callers hold this across the whole attempt.
func (t *Tracker) Lock(symbol string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	mu, ok := t.locks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		t.locks[symbol] = mu
	}
	return mu
}

func (t *Tracker) Open(ctx context.Context, pos Position) error {
	pos.State = StateOpen
	if err := t.persist(ctx, pos); err != nil {
		return err
	}
	t.mu.Lock()
	t.open[pos.Symbol] = pos
	t.mu.Unlock()
	return nil
}

// Update replaces an open position's legs, after a corrective rebalance.
func (t *Tracker) Update(ctx context.Context, pos Position) error {
	if err := t.persist(ctx, pos); err != nil {
		return err
	}
	t.mu.Lock()
	t.open[pos.Symbol] = pos
	t.mu.Unlock()
	return nil
}

func (t *Tracker) Close(ctx context.Context, symbol string) error {
	if err := t.store.Delete(ctx, storePrefix+symbol); err != nil {
		return fmt.Errorf("close position %s: %w", symbol, err)
	}
	t.mu.Lock()
	delete(t.open, symbol)
	t.mu.Unlock()
	return nil
}

// MarkManual flags a symbol whose hedge is in an unknown venue state.
// The record persists so the exclusion outlives restarts.
func (t *Tracker) MarkManual(ctx context.Context, pos Position) error {
	pos.State = StateManual
	if err := t.persist(ctx, pos); err != nil {
		return err
	}
	t.mu.Lock()
	t.open[pos.Symbol] = pos
	t.mu.Unlock()
	return nil
}

// Get returns the tracked position for symbol, open or manual.
func (t *Tracker) Get(symbol string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.open[symbol]
	return pos, ok
}

// Excluded reports whether symbol must not be traded.
func (t *Tracker) Excluded(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.open[symbol]
	return ok && pos.State == StateManual
}

// Snapshot returns a copy of every tracked position.
func (t *Tracker) Snapshot() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Position, 0, len(t.open))
	for _, pos := range t.open {
		out = append(out, pos)
	}
	return out
}

// OpenNotional sums the entry notional of open positions, total and for
// one symbol. Manual positions count: their exposure is still on the
// books until resolved.
func (t *Tracker) OpenNotional(symbol string) (total, symbolTotal float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym, pos := range t.open {
		n := pos.Notional()
		total += n
		if sym == symbol {
			symbolTotal += n
		}
	}
	return total, symbolTotal
}

func (t *Tracker) persist(ctx context.Context, pos Position) error {
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode position %s: %w", pos.Symbol, err)
	}
	if err := t.store.Set(ctx, storePrefix+pos.Symbol, string(raw)); err != nil {
		return fmt.Errorf("persist position %s: %w", pos.Symbol, err)
	}
	return nil
}
