package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "funding_arb"

// Prometheus wires the engine counters to a dedicated registry so the
// scrape endpoint only carries our series.
type Prometheus struct {
	*Metrics
	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(g)
		return g
	}

	return &Prometheus{
		Metrics: &Metrics{
			PairsOpened:  counter("pairs_opened_total", "Arbitrage pairs opened."),
			PairsClosed:  counter("pairs_closed_total", "Arbitrage pairs closed."),
			OpenFailures: counter("open_failures_total", "Pair open attempts that failed."),
			LegUnwinds:   counter("leg_unwinds_total", "Filled legs unwound after a partial open."),
			StopLosses:   counter("stop_losses_total", "Pairs closed by the stop loss rule."),
			ActivePairs:  gauge("active_pairs", "Currently open arbitrage pairs."),
			DailyPnLUSD:  gauge("daily_pnl_usd", "Realized PnL for the current UTC day."),
		},
		registry: reg,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
