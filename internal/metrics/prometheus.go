package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "funding_arb_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry       *prometheus.Registry
	ordersPlaced   prometheus.Counter
	ordersFailed   prometheus.Counter
	entriesOpened  prometheus.Counter
	exitsClosed    prometheus.Counter
	rebalances     prometheus.Counter
	unwinds        prometheus.Counter
	unwindFailures prometheus.Counter
	riskRejections prometheus.Counter
	killEngaged    prometheus.Counter
	killRestored   prometheus.Counter
	openPositions  prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed across both venues.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	entriesOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "entries_opened_total",
		Help:      "Total number of hedged positions opened.",
	})
	exitsClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "exits_closed_total",
		Help:      "Total number of hedged positions closed.",
	})
	rebalances := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "rebalances_total",
		Help:      "Total number of drift corrections executed.",
	})
	unwinds := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "unwinds_total",
		Help:      "Total number of single leg unwinds after a failed hedge.",
	})
	unwindFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "unwind_failures_total",
		Help:      "Total number of unwinds that exhausted all retries.",
	})
	riskRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "risk_rejections_total",
		Help:      "Total number of entries rejected by the risk gate.",
	})
	killEngaged := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "kill_switch_engaged_total",
		Help:      "Total number of kill switch engagements.",
	})
	killRestored := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "kill_switch_restored_total",
		Help:      "Total number of kill switch resets.",
	})
	openPositions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "open_positions",
		Help:      "Current number of tracked positions.",
	})

	registry.MustRegister(ordersPlaced, ordersFailed, entriesOpened, exitsClosed,
		rebalances, unwinds, unwindFailures, riskRejections, killEngaged, killRestored, openPositions)

	m := &Metrics{
		OrdersPlaced:       promCounter{ordersPlaced},
		OrdersFailed:       promCounter{ordersFailed},
		EntriesOpened:      promCounter{entriesOpened},
		ExitsClosed:        promCounter{exitsClosed},
		Rebalances:         promCounter{rebalances},
		Unwinds:            promCounter{unwinds},
		UnwindFailures:     promCounter{unwindFailures},
		RiskRejections:     promCounter{riskRejections},
		KillSwitchEngaged:  promCounter{killEngaged},
		KillSwitchRestored: promCounter{killRestored},
		OpenPositions:      promGauge{openPositions},
	}

	return &Prometheus{
		Metrics:        m,
		registry:       registry,
		ordersPlaced:   ordersPlaced,
		ordersFailed:   ordersFailed,
		entriesOpened:  entriesOpened,
		exitsClosed:    exitsClosed,
		rebalances:     rebalances,
		unwinds:        unwinds,
		unwindFailures: unwindFailures,
		riskRejections: riskRejections,
		killEngaged:    killEngaged,
		killRestored:   killRestored,
		openPositions:  openPositions,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
