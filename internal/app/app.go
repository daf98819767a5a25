// Package app assembles the live trading process: venues, quote store,
// detector, risk gate, coordinator, journal, history writer and the
// monitoring API, driven by a fixed-interval cycle.
package app

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"funding-arb-bot/internal/api"
	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/engine"
	"funding-arb-bot/internal/history"
	"funding-arb-bot/internal/journal"
	"funding-arb-bot/internal/market"
	"funding-arb-bot/internal/metrics"
	"funding-arb-bot/internal/risk"
	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/venue"
)

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *market.Store
	gate    *risk.Gate
	coord   *engine.Coordinator
	journal *journal.Journal
	history *history.Writer
	server  *api.Server
}

// New wires the process from config and the already-constructed venue
// adapters. The journal is mandatory; the history writer is optional and
// nil when disabled.
func New(cfg *config.Config, venues map[string]venue.Venue, log *zap.Logger) (*App, error) {
	store := market.NewStore()
	gate := risk.NewGate(cfg.Risk, log, nil)

	detector := strategy.NewDetector(cfg.Strategy.MinRateDiff, strategy.Mode(cfg.Strategy.DetectorMode), strategy.CostModel{
		NotionalUSD:        cfg.Strategy.BestModeNotionalUSD,
		Fees:               cfg.Strategy.Fees,
		DefaultFeePct:      cfg.Strategy.DefaultFeePct,
		DefaultSlippagePct: cfg.Strategy.DefaultSlippagePct,
	}, log)

	jrnl, err := journal.Open(cfg.Journal.SQLitePath, log)
	if err != nil {
		return nil, err
	}

	hist, err := history.New(cfg.History, log)
	if err != nil {
		_ = jrnl.Close()
		return nil, err
	}

	prom := metrics.NewPrometheus()
	coord := engine.NewCoordinator(venues, store, detector, gate, prom.Metrics, jrnl, cfg.Strategy, log, nil)
	server := api.NewServer(cfg.API.Addr, coord, store, gate, prom.Handler(), log)

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		gate:    gate,
		coord:   coord,
		journal: jrnl,
		history: hist,
		server:  server,
	}, nil
}

// Run drives the cycle loop and the API server until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	defer a.journal.Close()
	defer a.history.Close()

	a.history.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Start(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Strategy.CycleInterval)
		defer ticker.Stop()
		for {
			a.cycle(ctx)
			select {
			case <-ctx.Done():
				a.log.Info("shutting down", zap.Int("open_pairs", a.coord.ActiveCount()))
				return nil
			case <-ticker.C:
			}
		}
	})
	return g.Wait()
}

func (a *App) cycle(ctx context.Context) {
	if err := a.coord.UpdateFundingRates(ctx); err != nil {
		a.log.Error("funding rate update failed", zap.Error(err))
	}
	a.coord.RunCycle(ctx)
	a.snapshotHistory()
}

func (a *App) snapshotHistory() {
	if a.history == nil {
		return
	}
	for _, q := range a.store.All() {
		a.history.EnqueueFunding(history.FundingSample{
			Time:        q.ObservedAt,
			Venue:       q.Venue,
			Symbol:      q.Symbol,
			Rate:        q.Rate,
			MarkPrice:   q.MarkPrice,
			IndexPrice:  q.IndexPrice,
			NextFunding: q.NextFunding,
		})
	}
	now := time.Now().UTC()
	for _, p := range a.coord.Pairs() {
		a.history.EnqueuePair(history.PairSnapshot{
			Time:            now,
			PairID:          p.ID,
			State:           string(p.State),
			LongVenue:       p.Long.Venue,
			LongSymbol:      p.Long.Symbol,
			ShortVenue:      p.Short.Venue,
			ShortSymbol:     p.Short.Symbol,
			EntryRateDiff:   p.EntryRateDiff,
			CurrentRateDiff: p.CurrentRateDiff,
			NotionalUSD:     p.CombinedNotionalUSD(),
			PnLUSD:          p.TotalPnL(),
		})
	}
}
