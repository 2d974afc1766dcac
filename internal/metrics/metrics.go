package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	OrdersPlaced       Counter
	OrdersFailed       Counter
	EntriesOpened      Counter
	ExitsClosed        Counter
	Rebalances         Counter
	Unwinds            Counter
	UnwindFailures     Counter
	RiskRejections     Counter
	KillSwitchEngaged  Counter
	KillSwitchRestored Counter
	OpenPositions      Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:       n,
		OrdersFailed:       n,
		EntriesOpened:      n,
		ExitsClosed:        n,
		Rebalances:         n,
		Unwinds:            n,
		UnwindFailures:     n,
		RiskRejections:     n,
		KillSwitchEngaged:  n,
		KillSwitchRestored: n,
		OpenPositions:      noopGauge{},
	}
}
