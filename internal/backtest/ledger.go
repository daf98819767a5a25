package backtest

import (
	"sync"
	"time"

	"funding-arb-bot/internal/arb"
	"funding-arb-bot/internal/engine"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time      time.Time
	Equity    float64
	Drawdown  float64
	OpenCount int
}

// PositionEvent is an append-only record of a pair entering or leaving
// the registry during a run.
type PositionEvent struct {
	Time        time.Time
	PairID      string
	Event       string
	LongKey     string
	ShortKey    string
	NotionalUSD float64
	RateDiff    float64
	PnLUSD      float64
}

// FundingSample is one observed quote, kept for the funding CSV.
type FundingSample struct {
	Time   time.Time
	Venue  string
	Symbol string
	Rate   float64
	Mark   float64
}

// Ledger implements engine.Recorder and accumulates everything a run
// report needs.
type Ledger struct {
	mu        sync.Mutex
	trades    []engine.Trade
	positions []PositionEvent
	funding   []FundingSample
	equity    []EquityPoint
}

var _ engine.Recorder = (*Ledger)(nil)

func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) PairOpened(p arb.Pair) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = append(l.positions, PositionEvent{
		Time:        p.OpenedAt,
		PairID:      p.ID,
		Event:       "opened",
		LongKey:     p.Long.Key(),
		ShortKey:    p.Short.Key(),
		NotionalUSD: p.CombinedNotionalUSD() / 2,
		RateDiff:    p.EntryRateDiff,
	})
}

func (l *Ledger) PairClosed(t engine.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, t)
	l.positions = append(l.positions, PositionEvent{
		Time:        t.ClosedAt,
		PairID:      t.PairID,
		Event:       "closed",
		LongKey:     t.LongVenue + ":" + t.LongSymbol,
		ShortKey:    t.ShortVenue + ":" + t.ShortSymbol,
		NotionalUSD: t.NotionalUSD,
		RateDiff:    t.ExitRateDiff,
		PnLUSD:      t.PnLUSD,
	})
}

func (l *Ledger) RecordFunding(q arb.Quote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funding = append(l.funding, FundingSample{
		Time:   q.ObservedAt,
		Venue:  q.Venue,
		Symbol: q.Symbol,
		Rate:   q.Rate,
		Mark:   q.MarkPrice,
	})
}

func (l *Ledger) RecordEquity(p EquityPoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.equity = append(l.equity, p)
}

func (l *Ledger) Trades() []engine.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]engine.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *Ledger) Positions() []PositionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PositionEvent, len(l.positions))
	copy(out, l.positions)
	return out
}

func (l *Ledger) Funding() []FundingSample {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FundingSample, len(l.funding))
	copy(out, l.funding)
	return out
}

func (l *Ledger) EquityCurve() []EquityPoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EquityPoint, len(l.equity))
	copy(out, l.equity)
	return out
}
