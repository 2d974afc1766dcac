package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"funding-arb-bot/internal/alerts"
	"funding-arb-bot/internal/funding"
	"funding-arb-bot/internal/hedge"
	"funding-arb-bot/internal/history"
	"funding-arb-bot/internal/position"
	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/venue"

	"go.uber.org/zap"
)

func (a *App) tick(ctx context.Context) error {
	accounts, err := a.fetchAccounts(ctx)
	if err != nil {
		return err
	}
	a.collectFunding(ctx)
	a.met.OpenPositions.Set(float64(len(a.positions.Snapshot())))

	now := time.Now().UTC()
	th := strategy.Thresholds{
		MinEdgeBps:  a.cfg.Strategy.MinEdgeBps,
		ExitEdgeBps: a.cfg.Strategy.ExitEdgeBps,
	}

	var decisions []strategy.Decision
	for _, symbol := range a.cfg.Strategy.TrackedSymbols {
		snap, ok := a.book.Edge(a.venueA, a.venueB, symbol, a.cfg.Strategy.StaleDataAge, now)
		if !ok {
			continue
		}
		a.history.EnqueueEdge(snap)
		_, hasPosition := a.positions.Get(symbol)
		decisions = append(decisions, strategy.Evaluate(snap, hasPosition, th))
	}

	// Exits and drift corrections run before entries so freed capacity
	// is available within the same tick.
	for _, d := range decisions {
		pos, ok := a.positions.Get(d.Symbol)
		if !ok || pos.State != position.StateOpen {
			continue
		}
		a.accrueFunding(ctx, pos, d.Edge)
		if d.Action == strategy.ActionExit {
			a.closePosition(ctx, pos, d.Reason)
			continue
		}
		a.correctDrift(ctx, pos)
	}

	if tripped, reason := a.kill.Tripped(); tripped {
		a.log.Warn("kill switch active, skipping entries", zap.String("reason", reason))
		return nil
	}
	for _, d := range strategy.RankEntries(decisions) {
		a.tryEnter(ctx, d, accounts)
	}
	return nil
}

func (a *App) fetchAccounts(ctx context.Context) (map[string]venue.AccountState, error) {
	type result struct {
		name  string
		state venue.AccountState
		err   error
	}
	results := make(chan result, len(a.clients))
	for name, client := range a.clients {
		go func(name string, client venue.Client) {
			state, err := client.AccountState(ctx)
			results <- result{name: name, state: state, err: err}
		}(name, client)
	}
	accounts := make(map[string]venue.AccountState, len(a.clients))
	for range a.clients {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("account state for %s: %w", r.name, r.err)
		}
		accounts[r.name] = r.state
	}
	return accounts, nil
}

func (a *App) collectFunding(ctx context.Context) {
	var wg sync.WaitGroup
	for _, symbol := range a.cfg.Strategy.TrackedSymbols {
		for name, client := range a.clients {
			wg.Add(1)
			go func(symbol, name string, client venue.Client) {
				defer wg.Done()
				sample, err := client.FundingRate(ctx, symbol)
				if err != nil {
					a.log.Warn("funding fetch failed",
						zap.String("venue", name),
						zap.String("symbol", symbol),
						zap.Error(err))
					return
				}
				if err := a.book.Record(sample); err != nil {
					a.log.Warn("funding sample rejected",
						zap.String("venue", name),
						zap.String("symbol", symbol),
						zap.Error(err))
					return
				}
				rate8h, _ := funding.NormalizeSample(sample)
				a.history.EnqueueFunding(history.FundingRecord{
					Time:     sample.ObservedAt,
					Venue:    sample.Venue,
					Symbol:   sample.Symbol,
					Rate8h:   rate8h,
					RawRate:  sample.Rate,
					Interval: sample.Interval,
				})
			}(symbol, name, client)
		}
	}
	wg.Wait()
}

func (a *App) tryEnter(ctx context.Context, d strategy.Decision, accounts map[string]venue.AccountState) {
	mu := a.positions.Lock(d.Symbol)
	mu.Lock()
	defer mu.Unlock()

	if a.positions.Excluded(d.Symbol) {
		return
	}
	if _, ok := a.positions.Get(d.Symbol); ok {
		return
	}

	markA, err := a.clients[a.venueA].MarkPrice(ctx, d.Symbol)
	if err != nil {
		a.log.Warn("mark fetch failed", zap.String("venue", a.venueA), zap.String("symbol", d.Symbol), zap.Error(err))
		return
	}
	markB, err := a.clients[a.venueB].MarkPrice(ctx, d.Symbol)
	if err != nil {
		a.log.Warn("mark fetch failed", zap.String("venue", a.venueB), zap.String("symbol", d.Symbol), zap.Error(err))
		return
	}
	if spread := strategy.MidSpreadBps(markA, markB); spread > a.cfg.Strategy.MaxMidSpreadBps {
		a.log.Info("skipping entry, venue prices diverged",
			zap.String("symbol", d.Symbol),
			zap.Float64("spread_bps", spread))
		return
	}

	notional := a.cfg.Execution.OrderNotionalUSD
	if rej := a.gate.Reserve(d.Symbol, notional, accounts); rej != nil {
		a.met.RiskRejections.Inc()
		a.log.Info("entry rejected by risk gate",
			zap.String("symbol", d.Symbol),
			zap.String("code", rej.Code),
			zap.String("detail", rej.Detail))
		return
	}

	sideA := venue.SideSell
	if d.LongVenue == a.venueA {
		sideA = venue.SideBuy
	}
	legA := a.orderIntent(a.venueA, d.Symbol, sideA, notional, markA, false)
	legB := a.orderIntent(a.venueB, d.Symbol, sideA.Opposite(), notional, markB, false)

	a.log.Info("entering hedge",
		zap.String("symbol", d.Symbol),
		zap.Float64("edge_bps", d.Edge.EdgeBps),
		zap.String("long_venue", d.LongVenue),
		zap.String("short_venue", d.ShortVenue),
		zap.Float64("notional_usd", notional))

	attempt, err := a.executor.Execute(ctx, legA, legB)
	a.history.EnqueueAttempt(attempt)

	switch attempt.State {
	case hedge.StateBothFilled:
		pos := position.Position{
			Symbol: d.Symbol,
			LegA: position.Leg{
				Venue:      a.venueA,
				Side:       sideA,
				Size:       attempt.ResultA.FilledSize,
				EntryPrice: attempt.ResultA.AvgPrice,
			},
			LegB: position.Leg{
				Venue:      a.venueB,
				Side:       sideA.Opposite(),
				Size:       attempt.ResultB.FilledSize,
				EntryPrice: attempt.ResultB.AvgPrice,
			},
			EntryEdgeBps: d.Edge.EdgeBps,
			OpenedAt:     time.Now().UTC(),
		}
		if err := a.positions.Open(ctx, pos); err != nil {
			a.log.Error("position persist failed", zap.String("symbol", d.Symbol), zap.Error(err))
		}
		// Partial fills leave the reservation larger than the position.
		a.gate.Release(d.Symbol, notional-pos.Notional())
		a.kill.RecordSuccess()
		a.met.EntriesOpened.Inc()
		a.notifyf(ctx, "entered %s: short %s / long %s, %.2f USD at %.1f bps edge",
			d.Symbol, d.ShortVenue, d.LongVenue, pos.Notional(), d.Edge.EdgeBps)
	case hedge.StateManual:
		pos := position.Position{
			Symbol: d.Symbol,
			LegA: position.Leg{
				Venue:      a.venueA,
				Side:       sideA,
				Size:       attempt.ResultA.FilledSize,
				EntryPrice: attempt.ResultA.AvgPrice,
			},
			EntryEdgeBps: d.Edge.EdgeBps,
			OpenedAt:     time.Now().UTC(),
		}
		if err := a.positions.MarkManual(ctx, pos); err != nil {
			a.log.Error("manual position persist failed", zap.String("symbol", d.Symbol), zap.Error(err))
		}
		a.gate.Release(d.Symbol, notional-pos.Notional())
		a.recordFailure(ctx, d.Symbol, err)
	default:
		a.gate.Release(d.Symbol, notional)
		if err != nil {
			a.recordFailure(ctx, d.Symbol, err)
		}
	}
}

func (a *App) closePosition(ctx context.Context, pos position.Position, reason string) {
	mu := a.positions.Lock(pos.Symbol)
	mu.Lock()
	defer mu.Unlock()

	a.log.Info("exiting hedge", zap.String("symbol", pos.Symbol), zap.String("reason", reason))

	var realized float64
	for _, leg := range []position.Leg{pos.LegA, pos.LegB} {
		mark, err := a.clients[leg.Venue].MarkPrice(ctx, pos.Symbol)
		if err != nil {
			a.failExit(ctx, pos, fmt.Errorf("mark for %s: %w", leg.Venue, err))
			return
		}
		intent := a.orderIntent(leg.Venue, pos.Symbol, leg.Side.Opposite(), leg.Size*mark, mark, true)
		intent.Size = leg.Size
		result, err := a.executor.ExecuteCorrection(ctx, intent)
		if err != nil || result.FilledSize < leg.Size {
			if err == nil {
				err = fmt.Errorf("exit filled %.6f of %.6f on %s", result.FilledSize, leg.Size, leg.Venue)
			}
			a.failExit(ctx, pos, err)
			return
		}
		if leg.Side == venue.SideBuy {
			realized += (result.AvgPrice - leg.EntryPrice) * leg.Size
		} else {
			realized += (leg.EntryPrice - result.AvgPrice) * leg.Size
		}
	}

	if err := a.pnl.AddRealized(ctx, pos.Symbol, realized, 0); err != nil {
		a.log.Warn("pnl persist failed", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	a.gate.Release(pos.Symbol, pos.Notional())
	if err := a.positions.Close(ctx, pos.Symbol); err != nil {
		a.log.Error("position close persist failed", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	a.met.ExitsClosed.Inc()
	a.kill.RecordSuccess()
	a.log.Info("hedge closed",
		zap.String("symbol", pos.Symbol),
		zap.Float64("realized_usd", realized))
	a.notifyf(ctx, "closed %s: realized %.2f USD (%s)", pos.Symbol, realized, reason)
}

// failExit flags the position for the operator. One leg may already be
// closed, so automatic retries could double exposure.
func (a *App) failExit(ctx context.Context, pos position.Position, err error) {
	a.log.Error("exit failed, manual intervention required",
		zap.String("symbol", pos.Symbol),
		zap.Error(err))
	if markErr := a.positions.MarkManual(ctx, pos); markErr != nil {
		a.log.Error("manual position persist failed", zap.String("symbol", pos.Symbol), zap.Error(markErr))
	}
	alerts.Critical(ctx, a.notify, a.log, "exit failed for %s: %v", pos.Symbol, err)
	a.recordFailure(ctx, pos.Symbol, err)
}

// correctDrift trims the oversized leg back toward neutral when venue
// prices have pulled the two notionals apart.
func (a *App) correctDrift(ctx context.Context, pos position.Position) {
	markA, err := a.clients[pos.LegA.Venue].MarkPrice(ctx, pos.Symbol)
	if err != nil {
		return
	}
	markB, err := a.clients[pos.LegB.Venue].MarkPrice(ctx, pos.Symbol)
	if err != nil {
		return
	}
	drift := position.DriftBps(pos, markA, markB)
	if drift <= a.cfg.Risk.DriftThresholdBps {
		return
	}

	mu := a.positions.Lock(pos.Symbol)
	mu.Lock()
	defer mu.Unlock()

	nA := pos.LegA.Size * markA
	nB := pos.LegB.Size * markB
	big, mark := &pos.LegA, markA
	if nB > nA {
		big, mark = &pos.LegB, markB
	}
	trimSize := (math.Abs(nA-nB) / 2) / mark
	if trimSize <= 0 {
		return
	}

	a.log.Info("correcting drift",
		zap.String("symbol", pos.Symbol),
		zap.Float64("drift_bps", drift),
		zap.String("venue", big.Venue),
		zap.Float64("trim_size", trimSize))

	intent := a.orderIntent(big.Venue, pos.Symbol, big.Side.Opposite(), trimSize*mark, mark, true)
	intent.Size = trimSize
	result, err := a.executor.ExecuteCorrection(ctx, intent)
	if err != nil {
		a.log.Warn("drift correction failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		a.recordFailure(ctx, pos.Symbol, err)
		return
	}
	before := pos.Notional()
	big.Size -= result.FilledSize
	if err := a.positions.Update(ctx, pos); err != nil {
		a.log.Error("position persist failed", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	if released := before - pos.Notional(); released > 0 {
		a.gate.Release(pos.Symbol, released)
	}
	a.met.Rebalances.Inc()
}

// accrueFunding books the estimated funding flow for one tick. Each leg
// pays or collects its own venue's rate; a short leg collects when the
// rate is positive.
func (a *App) accrueFunding(ctx context.Context, pos position.Position, snap funding.EdgeSnapshot) {
	fraction := float64(a.cfg.Strategy.RebalanceInterval) / float64(funding.ReferenceInterval)
	var amount float64
	for _, leg := range []position.Leg{pos.LegA, pos.LegB} {
		rate := snap.RateA
		if leg.Venue == snap.VenueB {
			rate = snap.RateB
		}
		flow := rate * leg.Notional() * fraction
		if leg.Side == venue.SideSell {
			amount += flow
		} else {
			amount -= flow
		}
	}
	if err := a.pnl.AddFunding(ctx, pos.Symbol, amount); err != nil {
		a.log.Warn("funding accrual persist failed", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
}

// notifyf sends an informational operator message, best effort.
func (a *App) notifyf(ctx context.Context, format string, args ...any) {
	if err := a.notify.Send(ctx, fmt.Sprintf(format, args...)); err != nil {
		a.log.Debug("notification failed", zap.Error(err))
	}
}

func (a *App) recordFailure(ctx context.Context, symbol string, err error) {
	if a.kill.RecordFailure(time.Now().UTC()) {
		a.met.KillSwitchEngaged.Inc()
		_, reason := a.kill.Tripped()
		alerts.Critical(ctx, a.notify, a.log, "kill switch tripped (%s), last failure on %s: %v", reason, symbol, err)
	}
}

// orderIntent builds a slippage-buffered limit order for the configured
// notional at the given mark.
func (a *App) orderIntent(venueName, symbol string, side venue.Side, notional, mark float64, reduceOnly bool) venue.OrderIntent {
	slip := a.cfg.Execution.SlippageBps / 10000
	price := mark * (1 + slip)
	if side == venue.SideSell {
		price = mark * (1 - slip)
	}
	return venue.OrderIntent{
		Venue:       venueName,
		Symbol:      symbol,
		Side:        side,
		Size:        notional / mark,
		Notional:    notional,
		Price:       price,
		TimeInForce: venue.TimeInForce(a.cfg.Execution.TimeInForce),
		ReduceOnly:  reduceOnly,
	}
}
