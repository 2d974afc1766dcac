package hedge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funding-arb-bot/internal/alerts"
	"funding-arb-bot/internal/metrics"
	"funding-arb-bot/internal/venue"

	"go.uber.org/zap"
)

var (
	ErrUnknownVenue  = errors.New("hedge: unknown venue")
	ErrManualCleanup = errors.New("hedge: unwind exhausted, manual intervention required")
)

type Config struct {
	FillTimeout    time.Duration
	PollInterval   time.Duration
	UnwindAttempts int
	UnwindBackoff  time.Duration
	SlippageBps    float64
}

// Executor runs the two-leg hedge protocol. Leg A goes first; leg B is
// resized to leg A's actual fill before placement so the pair stays
// neutral even on partial fills. A failed leg B triggers a bounded
// unwind of leg A, never an indefinite retry loop.
type Executor struct {
	clients map[string]venue.Client
	cfg     Config
	log     *zap.Logger
	met     *metrics.Metrics
	notify  alerts.Notifier
}

func NewExecutor(clients map[string]venue.Client, cfg Config, log *zap.Logger, met *metrics.Metrics, notify alerts.Notifier) *Executor {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.UnwindAttempts <= 0 {
		cfg.UnwindAttempts = 3
	}
	if cfg.UnwindBackoff <= 0 {
		cfg.UnwindBackoff = time.Second
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = 5
	}
	if met == nil {
		met = metrics.NewNoop()
	}
	if notify == nil {
		notify = alerts.NewNoop()
	}
	return &Executor{clients: clients, cfg: cfg, log: log, met: met, notify: notify}
}

// Execute places legA, waits for its fill, then places legB sized to
// the actual fill. The attempt runs on a context detached from the
// caller's cancellation: once leg A is in flight the attempt must reach
// a terminal state even during shutdown.
func (e *Executor) Execute(ctx context.Context, legA, legB venue.OrderIntent) (attempt Attempt, err error) {
	attempt = Attempt{
		Symbol:    legA.Symbol,
		State:     StatePending,
		LegA:      legA,
		LegB:      legB,
		StartedAt: time.Now().UTC(),
	}
	defer func() { attempt.EndedAt = time.Now().UTC() }()

	clientA, ok := e.clients[legA.Venue]
	if !ok {
		attempt.State = StateNoAction
		attempt.Err = legA.Venue
		return attempt, fmt.Errorf("%w: %s", ErrUnknownVenue, legA.Venue)
	}
	clientB, ok := e.clients[legB.Venue]
	if !ok {
		attempt.State = StateNoAction
		attempt.Err = legB.Venue
		return attempt, fmt.Errorf("%w: %s", ErrUnknownVenue, legB.Venue)
	}

	detached := context.WithoutCancel(ctx)

	resultA, err := e.placeAndWait(detached, clientA, legA)
	attempt.ResultA = resultA
	if err != nil || resultA.FilledSize == 0 {
		attempt.State = StateNoAction
		if err != nil {
			attempt.Err = err.Error()
			e.log.Warn("leg A rejected, no exposure taken",
				zap.String("symbol", legA.Symbol),
				zap.String("venue", legA.Venue),
				zap.Error(err))
			return attempt, err
		}
		e.log.Warn("leg A did not fill, no exposure taken",
			zap.String("symbol", legA.Symbol),
			zap.String("venue", legA.Venue),
			zap.String("status", string(resultA.Status)))
		return attempt, nil
	}
	attempt.State = StateLegAFilled

	// Resize leg B to leg A's actual fill. A partial leg A hedges a
	// smaller pair, never a lopsided one.
	legB.Size = resultA.FilledSize
	legB.Notional = resultA.FilledSize * resultA.AvgPrice
	attempt.LegB = legB

	resultB, err := e.placeAndWait(detached, clientB, legB)
	attempt.ResultB = resultB
	if err == nil && resultB.FilledSize >= resultA.FilledSize {
		attempt.State = StateBothFilled
		e.log.Info("hedge filled on both venues",
			zap.String("symbol", legA.Symbol),
			zap.Float64("size", resultA.FilledSize),
			zap.Float64("price_a", resultA.AvgPrice),
			zap.Float64("price_b", resultB.AvgPrice))
		return attempt, nil
	}

	// Naked exposure: whatever part of leg B did not fill must be taken
	// off on venue A.
	naked := resultA.FilledSize - resultB.FilledSize
	attempt.State = StateUnwinding
	e.log.Warn("leg B incomplete, unwinding leg A excess",
		zap.String("symbol", legA.Symbol),
		zap.Float64("naked_size", naked),
		zap.Error(err))

	if unwindErr := e.unwind(detached, clientA, legA, resultA.AvgPrice, naked); unwindErr != nil {
		attempt.State = StateManual
		attempt.Err = unwindErr.Error()
		e.met.UnwindFailures.Inc()
		alerts.Critical(detached, e.notify, e.log,
			"unwind failed for %s on %s, naked size %.6f, manual intervention required",
			legA.Symbol, legA.Venue, naked)
		return attempt, unwindErr
	}
	e.met.Unwinds.Inc()

	if resultB.FilledSize > 0 {
		// The matched remainder is a live hedge on both venues. Report it
		// filled at the actual size so the caller records the position.
		attempt.ResultA.FilledSize = resultB.FilledSize
		attempt.State = StateBothFilled
		e.log.Info("hedge reduced to matched size",
			zap.String("symbol", legA.Symbol),
			zap.Float64("size", resultB.FilledSize),
			zap.Float64("unwound_size", naked))
		return attempt, nil
	}

	attempt.State = StateUnwound
	if err == nil {
		err = fmt.Errorf("leg B filled %.6f of %.6f", resultB.FilledSize, resultA.FilledSize)
	}
	attempt.Err = err.Error()
	return attempt, err
}

// ExecuteCorrection places a single order outside the two-leg protocol,
// used for drift rebalances and position exits where each side is
// already reduce-only.
func (e *Executor) ExecuteCorrection(ctx context.Context, intent venue.OrderIntent) (venue.OrderResult, error) {
	client, ok := e.clients[intent.Venue]
	if !ok {
		return venue.OrderResult{}, fmt.Errorf("%w: %s", ErrUnknownVenue, intent.Venue)
	}
	return e.placeAndWait(context.WithoutCancel(ctx), client, intent)
}

func (e *Executor) placeAndWait(ctx context.Context, client venue.Client, intent venue.OrderIntent) (venue.OrderResult, error) {
	placeCtx, cancel := context.WithTimeout(ctx, e.cfg.FillTimeout)
	defer cancel()

	result, err := client.PlaceOrder(placeCtx, intent)
	if err != nil {
		e.met.OrdersFailed.Inc()
		return venue.OrderResult{}, fmt.Errorf("place %s %s on %s: %w", intent.Side, intent.Symbol, client.Name(), err)
	}
	e.met.OrdersPlaced.Inc()
	if result.Status.Terminal() {
		return result, nil
	}
	return e.waitForFill(placeCtx, client, intent, result)
}

// waitForFill polls order status until the order is terminal or the
// fill timeout expires. On timeout the order is cancelled and whatever
// filled by then is reported.
func (e *Executor) waitForFill(ctx context.Context, client venue.Client, intent venue.OrderIntent, last venue.OrderResult) (venue.OrderResult, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := client.CancelOrder(context.WithoutCancel(ctx), intent.Symbol, last.OrderID); err != nil {
				e.log.Warn("cancel after fill timeout failed",
					zap.String("venue", client.Name()),
					zap.String("order_id", last.OrderID),
					zap.Error(err))
			}
			final, err := client.OrderStatus(context.WithoutCancel(ctx), intent.Symbol, last.OrderID)
			if err != nil {
				last.Status = venue.StatusTimeout
				return last, nil
			}
			final.Status = venue.StatusTimeout
			return final, nil
		case <-ticker.C:
			result, err := client.OrderStatus(ctx, intent.Symbol, last.OrderID)
			if err != nil {
				e.log.Warn("order status poll failed",
					zap.String("venue", client.Name()),
					zap.String("order_id", last.OrderID),
					zap.Error(err))
				continue
			}
			last = result
			if result.Status.Terminal() {
				return result, nil
			}
		}
	}
}

// unwind closes size units of the leg A fill with reduce-only IOC
// orders. The limit is the fill price buffered in the closing
// direction, so the order crosses the book instead of resting behind
// the entry's own limit.
func (e *Executor) unwind(ctx context.Context, client venue.Client, legA venue.OrderIntent, fillPrice, size float64) error {
	side := legA.Side.Opposite()
	slip := e.cfg.SlippageBps / 10000
	price := fillPrice * (1 + slip)
	if side == venue.SideSell {
		price = fillPrice * (1 - slip)
	}
	intent := venue.OrderIntent{
		Venue:       legA.Venue,
		Symbol:      legA.Symbol,
		Side:        side,
		Size:        size,
		Price:       price,
		TimeInForce: venue.TifIOC,
		ReduceOnly:  true,
	}
	backoff := e.cfg.UnwindBackoff
	var lastErr error
	for attempt := 1; attempt <= e.cfg.UnwindAttempts; attempt++ {
		result, err := e.placeAndWait(ctx, client, intent)
		if err == nil && result.FilledSize >= intent.Size {
			return nil
		}
		if err == nil {
			// Partial unwind still reduces exposure; retry the rest.
			intent.Size -= result.FilledSize
			lastErr = fmt.Errorf("unwind filled %.6f, %.6f remaining", result.FilledSize, intent.Size)
		} else {
			lastErr = err
		}
		e.log.Warn("unwind attempt failed",
			zap.String("symbol", intent.Symbol),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt < e.cfg.UnwindAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrManualCleanup, lastErr)
}
