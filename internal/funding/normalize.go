package funding

import (
	"errors"
	"time"

	"funding-arb-bot/internal/venue"
)

// ReferenceInterval is the common basis all funding rates are scaled to
// before comparison. Venues publish rates per their own interval, 1h on
// Hyperliquid and 8h on Lighter.
const ReferenceInterval = 8 * time.Hour

var ErrInvalidSample = errors.New("funding: invalid sample")

// Normalize converts a raw venue rate to its per-8h equivalent using
// linear scaling. Rates with magnitude above 1 (100% per interval) are
// treated as venue data corruption and rejected.
func Normalize(rate float64, interval time.Duration) (float64, error) {
	if interval <= 0 {
		return 0, ErrInvalidSample
	}
	if rate > 1 || rate < -1 {
		return 0, ErrInvalidSample
	}
	return rate * (float64(ReferenceInterval) / float64(interval)), nil
}

// NormalizeSample returns the sample's rate on the per-8h basis.
func NormalizeSample(s venue.FundingSample) (float64, error) {
	return Normalize(s.Rate, s.Interval)
}
