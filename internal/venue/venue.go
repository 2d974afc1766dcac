package venue

import (
	"context"
	"time"
)

// Venue names used as keys throughout the bot. Exactly two venues exist;
// anything else in config is rejected at load time.
const (
	Hyperliquid = "hyperliquid"
	Lighter     = "lighter"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type TimeInForce string

const (
	TifIOC      TimeInForce = "ioc"
	TifGTC      TimeInForce = "gtc"
	TifPostOnly TimeInForce = "post_only"
)

type OrderStatus string

const (
	StatusFilled          OrderStatus = "FILLED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusOpen            OrderStatus = "OPEN"
	StatusRejected        OrderStatus = "REJECTED"
	StatusTimeout         OrderStatus = "TIMEOUT"
)

// Terminal reports whether the venue will make no further progress on the
// order. TIMEOUT is assigned locally when the fill wait expires, never by a
// venue.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusTimeout
}

// FundingSample is one raw funding observation as reported by a venue: a
// signed fraction per native funding interval. Samples are immutable;
// newer observations supersede older ones in the rolling buffer.
type FundingSample struct {
	Venue      string
	Symbol     string
	Rate       float64
	Interval   time.Duration
	ObservedAt time.Time
}

type AccountState struct {
	Equity     float64
	UsedMargin float64
	FreeMargin float64
}

// OrderIntent is one proposed order, one leg of a hedge. Size is in base
// units, Notional in USD; Price is the slippage-buffered limit price.
type OrderIntent struct {
	Venue       string
	Symbol      string
	Side        Side
	Size        float64
	Notional    float64
	Price       float64
	TimeInForce TimeInForce
	ReduceOnly  bool
	ClientID    string
}

type OrderResult struct {
	OrderID    string
	Status     OrderStatus
	FilledSize float64
	AvgPrice   float64
}

// Client is the authenticated per-venue collaborator. All methods are
// venue-scoped; implementations live under internal/venue/<name>.
type Client interface {
	Name() string
	FundingRate(ctx context.Context, symbol string) (FundingSample, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	AccountState(ctx context.Context) (AccountState, error)
	PlaceOrder(ctx context.Context, intent OrderIntent) (OrderResult, error)
	OrderStatus(ctx context.Context, symbol, orderID string) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
