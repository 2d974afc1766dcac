package position

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"funding-arb-bot/internal/venue"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memoryStore) Close() error { return nil }

func samplePosition(symbol string) Position {
	return Position{
		Symbol:       symbol,
		LegA:         Leg{Venue: "lighter", Side: venue.SideBuy, Size: 0.5, EntryPrice: 1000},
		LegB:         Leg{Venue: "hyperliquid", Side: venue.SideSell, Size: 0.5, EntryPrice: 1001},
		EntryEdgeBps: 25,
		OpenedAt:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		State:        StateOpen,
	}
}

func TestTrackerPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	tr := NewTracker(store)
	if err := tr.Open(ctx, samplePosition("BTC")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := tr.MarkManual(ctx, samplePosition("ETH")); err != nil {
		t.Fatalf("mark manual: %v", err)
	}

	restored := NewTracker(store)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	pos, ok := restored.Get("BTC")
	if !ok || pos.State != StateOpen {
		t.Fatalf("expected open BTC position, got %+v ok=%v", pos, ok)
	}
	if !restored.Excluded("ETH") {
		t.Fatalf("manual ETH position should stay excluded after restart")
	}
	if restored.Excluded("BTC") {
		t.Fatalf("open BTC position should not be excluded")
	}
}

func TestTrackerCloseRemovesRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	tr := NewTracker(store)

	if err := tr.Open(ctx, samplePosition("BTC")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := tr.Close(ctx, "BTC"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := tr.Get("BTC"); ok {
		t.Fatalf("expected position removed")
	}
	records, err := store.List(ctx, storePrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected store cleared, got %v", records)
	}
}

func TestTrackerRestoreRejectsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	if err := store.Set(ctx, storePrefix+"BTC", "{not json"); err != nil {
		t.Fatalf("set: %v", err)
	}
	tr := NewTracker(store)
	if err := tr.Restore(ctx); err == nil {
		t.Fatalf("expected error for corrupt record")
	}
}

func TestOpenNotional(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(newMemoryStore())
	if err := tr.Open(ctx, samplePosition("BTC")); err != nil {
		t.Fatalf("open: %v", err)
	}
	eth := samplePosition("ETH")
	eth.LegA.Size = 1
	eth.LegB.Size = 1
	if err := tr.Open(ctx, eth); err != nil {
		t.Fatalf("open: %v", err)
	}

	total, sym := tr.OpenNotional("BTC")
	// BTC larger leg 0.5*1001, ETH larger leg 1*1001.
	if math.Abs(total-1501.5) > 1e-9 {
		t.Fatalf("expected total 1501.5, got %v", total)
	}
	if math.Abs(sym-500.5) > 1e-9 {
		t.Fatalf("expected BTC notional 500.5, got %v", sym)
	}
}

func TestDriftBps(t *testing.T) {
	pos := samplePosition("BTC")

	if got := DriftBps(pos, 1000, 1000); got != 0 {
		t.Fatalf("expected zero drift for equal notionals, got %v", got)
	}
	// Leg A at 1000 is 500 USD, leg B at 1020 is 510 USD: ~196 bps.
	got := DriftBps(pos, 1000, 1020)
	if math.Abs(got-196.078) > 0.01 {
		t.Fatalf("expected ~196 bps, got %v", got)
	}
	if got := DriftBps(pos, 0, 0); got != 0 {
		t.Fatalf("expected zero drift for missing marks, got %v", got)
	}
}

func TestLockIsPerSymbol(t *testing.T) {
	tr := NewTracker(newMemoryStore())
	if tr.Lock("BTC") != tr.Lock("BTC") {
		t.Fatalf("expected same mutex for same symbol")
	}
	if tr.Lock("BTC") == tr.Lock("ETH") {
		t.Fatalf("expected distinct mutexes per symbol")
	}
}
