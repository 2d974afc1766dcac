package strategy

import (
	"fmt"
	"sync"

	"funding-arb-bot/internal/venue"
)

// Rejection reason codes. These are stable identifiers: they appear in
// logs, metrics labels and alert text, so renaming one is a breaking
// change for downstream dashboards.
const (
	ReasonTotalNotional  = "TOTAL_NOTIONAL_EXCEEDED"
	ReasonSymbolNotional = "SYMBOL_NOTIONAL_EXCEEDED"
	ReasonLeverage       = "LEVERAGE_EXCEEDED"
	ReasonMarginBuffer   = "MARGIN_BUFFER_VIOLATED"
)

type Rejection struct {
	Code   string
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk gate: %s: %s", r.Code, r.Detail)
}

type Limits struct {
	MaxTotalNotionalUSD  float64
	MaxSymbolNotionalUSD float64
	MaxLeverage          float64
	MarginBufferRatio    float64
}

// Gate enforces portfolio limits with check-and-reserve semantics. A
// successful Reserve immediately counts the delta against exposure, so
// two concurrent entries cannot both pass against the same headroom.
// Callers must Release on execution failure.
type Gate struct {
	mu       sync.Mutex
	limits   Limits
	total    float64
	bySymbol map[string]float64
}

func NewGate(limits Limits) *Gate {
	return &Gate{
		limits:   limits,
		bySymbol: make(map[string]float64),
	}
}

// Reserve admits delta USD of additional hedge notional for symbol, or
// explains why not. accounts carries the latest equity and margin per
// venue; the margin buffer is checked per venue independently because
// margin is not portable between them.
func (g *Gate) Reserve(symbol string, delta float64, accounts map[string]venue.AccountState) *Rejection {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limits.MaxTotalNotionalUSD > 0 && g.total+delta > g.limits.MaxTotalNotionalUSD {
		return &Rejection{
			Code:   ReasonTotalNotional,
			Detail: fmt.Sprintf("open %.2f + delta %.2f exceeds cap %.2f", g.total, delta, g.limits.MaxTotalNotionalUSD),
		}
	}
	if g.limits.MaxSymbolNotionalUSD > 0 && g.bySymbol[symbol]+delta > g.limits.MaxSymbolNotionalUSD {
		return &Rejection{
			Code:   ReasonSymbolNotional,
			Detail: fmt.Sprintf("%s open %.2f + delta %.2f exceeds cap %.2f", symbol, g.bySymbol[symbol], delta, g.limits.MaxSymbolNotionalUSD),
		}
	}
	if g.limits.MaxLeverage > 0 {
		var equity float64
		for _, acct := range accounts {
			equity += acct.Equity
		}
		if equity <= 0 {
			return &Rejection{Code: ReasonLeverage, Detail: "combined equity is zero"}
		}
		leverage := (g.total + delta) / equity
		if leverage > g.limits.MaxLeverage {
			return &Rejection{
				Code:   ReasonLeverage,
				Detail: fmt.Sprintf("implied leverage %.2fx exceeds %.2fx", leverage, g.limits.MaxLeverage),
			}
		}
	}
	if g.limits.MarginBufferRatio > 0 && g.limits.MaxLeverage > 0 {
		// Each leg consumes roughly delta/MaxLeverage of margin on its
		// venue. After the trade, free margin must stay above the buffer
		// fraction of equity on every venue.
		required := delta / g.limits.MaxLeverage
		for name, acct := range accounts {
			free := acct.FreeMargin - required
			if free < acct.Equity*g.limits.MarginBufferRatio {
				return &Rejection{
					Code:   ReasonMarginBuffer,
					Detail: fmt.Sprintf("%s free margin %.2f after trade below buffer %.2f", name, free, acct.Equity*g.limits.MarginBufferRatio),
				}
			}
		}
	}

	g.total += delta
	g.bySymbol[symbol] += delta
	return nil
}

// Seed registers exposure restored from the durable store at startup.
// Limits are not re-checked: the position already exists on the venues
// whether or not today's caps would admit it.
func (g *Gate) Seed(symbol string, delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.total += delta
	g.bySymbol[symbol] += delta
}

// Release returns delta USD of reserved notional, after a failed
// execution or a completed exit. Exposure never goes negative.
func (g *Gate) Release(symbol string, delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.total -= delta
	if g.total < 0 {
		g.total = 0
	}
	g.bySymbol[symbol] -= delta
	if g.bySymbol[symbol] <= 0 {
		delete(g.bySymbol, symbol)
	}
}

// Exposure reports current reserved notional, total and for one symbol.
func (g *Gate) Exposure(symbol string) (total, symbolTotal float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total, g.bySymbol[symbol]
}
