package strategy

import (
	"math/rand"
	"sync"
	"testing"

	"funding-arb-bot/internal/venue"
)

func healthyAccounts() map[string]venue.AccountState {
	return map[string]venue.AccountState{
		"hyperliquid": {Equity: 10000, UsedMargin: 1000, FreeMargin: 9000},
		"lighter":     {Equity: 10000, UsedMargin: 1000, FreeMargin: 9000},
	}
}

func TestGateReserveAndRelease(t *testing.T) {
	g := NewGate(Limits{
		MaxTotalNotionalUSD:  10000,
		MaxSymbolNotionalUSD: 4000,
		MaxLeverage:          5,
		MarginBufferRatio:    0.1,
	})

	if rej := g.Reserve("BTC", 3000, healthyAccounts()); rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	total, sym := g.Exposure("BTC")
	if total != 3000 || sym != 3000 {
		t.Fatalf("expected exposure 3000/3000, got %v/%v", total, sym)
	}

	rej := g.Reserve("BTC", 2000, healthyAccounts())
	if rej == nil || rej.Code != ReasonSymbolNotional {
		t.Fatalf("expected %s, got %v", ReasonSymbolNotional, rej)
	}

	g.Release("BTC", 3000)
	total, sym = g.Exposure("BTC")
	if total != 0 || sym != 0 {
		t.Fatalf("expected exposure released, got %v/%v", total, sym)
	}
}

func TestGateTotalCap(t *testing.T) {
	g := NewGate(Limits{MaxTotalNotionalUSD: 5000, MaxSymbolNotionalUSD: 5000})
	if rej := g.Reserve("BTC", 3000, healthyAccounts()); rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	rej := g.Reserve("ETH", 3000, healthyAccounts())
	if rej == nil || rej.Code != ReasonTotalNotional {
		t.Fatalf("expected %s, got %v", ReasonTotalNotional, rej)
	}
}

func TestGateLeverage(t *testing.T) {
	g := NewGate(Limits{MaxLeverage: 2})
	accounts := map[string]venue.AccountState{
		"hyperliquid": {Equity: 500, FreeMargin: 500},
		"lighter":     {Equity: 500, FreeMargin: 500},
	}
	// 2500 over combined equity 1000 is 2.5x.
	rej := g.Reserve("BTC", 2500, accounts)
	if rej == nil || rej.Code != ReasonLeverage {
		t.Fatalf("expected %s, got %v", ReasonLeverage, rej)
	}
	if rej := g.Reserve("BTC", 1500, accounts); rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}

	rej = g.Reserve("BTC", 100, map[string]venue.AccountState{})
	if rej == nil || rej.Code != ReasonLeverage {
		t.Fatalf("expected %s for zero equity, got %v", ReasonLeverage, rej)
	}
}

func TestGateMarginBuffer(t *testing.T) {
	g := NewGate(Limits{MaxLeverage: 5, MarginBufferRatio: 0.2})
	accounts := map[string]venue.AccountState{
		"hyperliquid": {Equity: 1000, UsedMargin: 700, FreeMargin: 300},
		"lighter":     {Equity: 1000, UsedMargin: 100, FreeMargin: 900},
	}
	// The trade needs 600/5 = 120 margin per leg; hyperliquid would be
	// left with 180 free against a 200 buffer.
	rej := g.Reserve("BTC", 600, accounts)
	if rej == nil || rej.Code != ReasonMarginBuffer {
		t.Fatalf("expected %s, got %v", ReasonMarginBuffer, rej)
	}
	if rej := g.Reserve("BTC", 400, accounts); rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
}

func TestGateConcurrentReservations(t *testing.T) {
	g := NewGate(Limits{MaxTotalNotionalUSD: 5000})
	var wg sync.WaitGroup
	admitted := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rej := g.Reserve("BTC", 1000, healthyAccounts()); rej == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)
	count := 0
	for range admitted {
		count++
	}
	if count != 5 {
		t.Fatalf("expected exactly 5 admissions under the 5000 cap, got %d", count)
	}
}

func TestGateReleaseNeverGoesNegative(t *testing.T) {
	g := NewGate(Limits{})
	g.Release("BTC", 1000)
	total, sym := g.Exposure("BTC")
	if total != 0 || sym != 0 {
		t.Fatalf("expected zero exposure, got %v/%v", total, sym)
	}
}

func TestGateRandomizedSweepNeverBreachesCaps(t *testing.T) {
	const (
		totalCap  = 50000.0
		symbolCap = 20000.0
	)
	rng := rand.New(rand.NewSource(7))
	g := NewGate(Limits{
		MaxTotalNotionalUSD:  totalCap,
		MaxSymbolNotionalUSD: symbolCap,
	})
	symbols := []string{"BTC", "ETH", "SOL"}
	held := make(map[string]float64)
	heldTotal := 0.0

	for i := 0; i < 2000; i++ {
		symbol := symbols[rng.Intn(len(symbols))]
		delta := float64(rng.Intn(5000) + 1)
		if rng.Intn(3) == 0 && held[symbol] > 0 {
			release := held[symbol] * rng.Float64()
			g.Release(symbol, release)
			held[symbol] -= release
			heldTotal -= release
			continue
		}
		rej := g.Reserve(symbol, delta, nil)
		if rej == nil {
			held[symbol] += delta
			heldTotal += delta
		} else if rej.Code != ReasonTotalNotional && rej.Code != ReasonSymbolNotional {
			t.Fatalf("step %d: unexpected rejection code %s", i, rej.Code)
		}
		total, sym := g.Exposure(symbol)
		if total > totalCap+1e-6 {
			t.Fatalf("step %d: total %v breaches cap %v", i, total, totalCap)
		}
		if sym > symbolCap+1e-6 {
			t.Fatalf("step %d: %s exposure %v breaches cap %v", i, symbol, sym, symbolCap)
		}
		if diff := total - heldTotal; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("step %d: gate total %v diverged from model %v", i, total, heldTotal)
		}
	}
}
