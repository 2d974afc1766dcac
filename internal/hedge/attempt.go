package hedge

import (
	"time"

	"funding-arb-bot/internal/venue"
)

// AttemptState tracks a two-leg hedge through its lifecycle. Every
// attempt ends in a terminal state; there is no path that leaves an
// order in flight unaccounted for.
type AttemptState string

const (
	StatePending     AttemptState = "PENDING"
	StateNoAction    AttemptState = "NO_ACTION"
	StateLegAFilled  AttemptState = "LEG_A_FILLED"
	StateBothFilled  AttemptState = "BOTH_FILLED"
	StateUnwinding   AttemptState = "UNWINDING"
	StateUnwound     AttemptState = "UNWOUND"
	StateManual      AttemptState = "MANUAL_INTERVENTION_REQUIRED"
)

func (s AttemptState) Terminal() bool {
	switch s {
	case StateNoAction, StateBothFilled, StateUnwound, StateManual:
		return true
	}
	return false
}

// Attempt is the full record of one hedge execution, kept for the
// history sink and for operator forensics when an attempt ends badly.
type Attempt struct {
	Symbol    string
	State     AttemptState
	LegA      venue.OrderIntent
	LegB      venue.OrderIntent
	ResultA   venue.OrderResult
	ResultB   venue.OrderResult
	StartedAt time.Time
	EndedAt   time.Time
	Err       string
}
