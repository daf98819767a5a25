package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/engine"
	"funding-arb-bot/internal/market"
	"funding-arb-bot/internal/metrics"
	"funding-arb-bot/internal/risk"
	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/venue"
)

// Runner replays a historical window through the exact detection, risk
// and execution logic the live loop uses, with simulated venues behind
// the same interface. Runs are deterministic for identical input.
type Runner struct {
	Start      time.Time
	End        time.Time
	Step       time.Duration
	InitialUSD float64

	clock  *Clock
	venues map[string]venue.Venue
	store  *market.Store
	coord  *engine.Coordinator
	gate   *risk.Gate
	ledger *Ledger
	log    *zap.Logger
}

// Result bundles everything a finished run produced.
type Result struct {
	EquityCurve []EquityPoint
	Ledger      *Ledger
	Summary     Summary
}

// NewRunner wires the harness from loaded per-venue series and the same
// strategy/risk configuration the live engine takes.
func NewRunner(start, end time.Time, step time.Duration, initialUSD float64,
	data map[string]map[string]*Series, strat config.StrategyConfig, riskCfg config.RiskConfig,
	log *zap.Logger) (*Runner, error) {

	if !end.After(start) {
		return nil, errors.New("end must be after start")
	}
	if step <= 0 {
		step = time.Hour
	}
	if initialUSD <= 0 {
		initialUSD = 10000
	}
	if log == nil {
		log = zap.NewNop()
	}

	clock := NewClock(start)
	venues := make(map[string]venue.Venue, len(data))
	var pairs []config.TradingPair
	for venueName, series := range data {
		sim := NewSimVenue(venueName, clock, series)
		venues[venueName] = sim
		for _, symbol := range sim.Symbols() {
			pairs = append(pairs, config.TradingPair{Venue: venueName, Symbol: symbol})
		}
	}
	if len(venues) < 2 {
		return nil, fmt.Errorf("need data for at least two venues, have %d", len(venues))
	}
	strat.Pairs = pairs
	// The fill wait must not sleep sim time away; simulated fills are
	// immediate so the first poll always succeeds.
	strat.FillTimeout = time.Millisecond
	strat.FillPoll = time.Millisecond

	store := market.NewStore()
	ledger := NewLedger()
	gate := risk.NewGate(riskCfg, log, clock.Now)
	detector := strategy.NewDetector(strat.MinRateDiff, strategy.Mode(strat.DetectorMode), strategy.CostModel{
		NotionalUSD:        strat.BestModeNotionalUSD,
		Fees:               strat.Fees,
		DefaultFeePct:      strat.DefaultFeePct,
		DefaultSlippagePct: strat.DefaultSlippagePct,
	}, log)
	coord := engine.NewCoordinator(venues, store, detector, gate, metrics.NewNoop(), ledger, strat, log, clock.Now)
	seq := 0
	coord.SetIDGenerator(func() string {
		seq++
		return fmt.Sprintf("pair-%06d", seq)
	})

	return &Runner{
		Start:      start,
		End:        end,
		Step:       step,
		InitialUSD: initialUSD,
		clock:      clock,
		venues:     venues,
		store:      store,
		coord:      coord,
		gate:       gate,
		ledger:     ledger,
		log:        log,
	}, nil
}

// Run drives the loop: per step, refresh quotes, run one engine cycle,
// record an equity point. Closed-pair PnL folds into running capital so
// equity is capital plus the open pairs' marked PnL. Remaining pairs are
// force-closed at the horizon.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	capital := r.InitialUSD
	closedPnL := 0.0
	maxEquity := capital

	r.ledger.RecordEquity(EquityPoint{Time: r.clock.Now(), Equity: capital})

	for t := r.Start; !t.After(r.End); t = t.Add(r.Step) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		r.clock.Set(t)

		if err := r.coord.UpdateFundingRates(ctx); err != nil {
			return Result{}, fmt.Errorf("update funding rates at %s: %w", t, err)
		}
		for _, q := range r.store.All() {
			r.ledger.RecordFunding(q)
		}

		r.coord.RunCycle(ctx)

		closedPnL = sumPnL(r.ledger.Trades())
		openPnL := 0.0
		for _, p := range r.coord.Pairs() {
			openPnL += p.TotalPnL()
		}
		equity := capital + closedPnL + openPnL
		if equity > maxEquity {
			maxEquity = equity
		}
		r.ledger.RecordEquity(EquityPoint{
			Time:      t,
			Equity:    equity,
			Drawdown:  maxEquity - equity,
			OpenCount: r.coord.ActiveCount(),
		})
	}

	r.coord.CloseAll(ctx, engine.ReasonShutdown)
	closedPnL = sumPnL(r.ledger.Trades())
	finalEquity := capital + closedPnL
	if finalEquity > maxEquity {
		maxEquity = finalEquity
	}
	r.ledger.RecordEquity(EquityPoint{
		Time:     r.End,
		Equity:   finalEquity,
		Drawdown: maxEquity - finalEquity,
	})

	curve := r.ledger.EquityCurve()
	summary := Summarize(curve, r.ledger.Trades(), r.Start, r.End)
	r.log.Info("backtest finished",
		zap.Float64("final_equity", finalEquity),
		zap.Float64("total_return_pct", summary.TotalReturnPct),
		zap.Int("trades", summary.TotalTrades))
	return Result{EquityCurve: curve, Ledger: r.ledger, Summary: summary}, nil
}

func sumPnL(trades []engine.Trade) float64 {
	total := 0.0
	for _, t := range trades {
		total += t.PnLUSD
	}
	return total
}
