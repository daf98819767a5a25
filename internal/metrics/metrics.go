// Package metrics exposes engine counters behind a minimal interface so
// the hot path never depends on the exporter. The default implementation
// is a no-op; the Prometheus one lives in prometheus.go.
package metrics

type Counter interface {
	Inc()
	Add(delta float64)
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	PairsOpened  Counter
	PairsClosed  Counter
	OpenFailures Counter
	LegUnwinds   Counter
	StopLosses   Counter

	ActivePairs Gauge
	DailyPnLUSD Gauge
}

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	return &Metrics{
		PairsOpened:  noopCounter{},
		PairsClosed:  noopCounter{},
		OpenFailures: noopCounter{},
		LegUnwinds:   noopCounter{},
		StopLosses:   noopCounter{},
		ActivePairs:  noopGauge{},
		DailyPnLUSD:  noopGauge{},
	}
}
