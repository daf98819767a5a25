// Package engine contains the execution coordinator: the single component
// allowed to place orders and mutate the pair registry. It turns detector
// output into two-leg positions and walks them through their lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"funding-arb-bot/internal/arb"
	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/market"
	"funding-arb-bot/internal/metrics"
	"funding-arb-bot/internal/risk"
	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/venue"
)

// Close reasons recorded on the trade journal.
const (
	ReasonRateConverged = "rate_converged"
	ReasonMaxHolding    = "max_holding"
	ReasonStopLoss      = "stop_loss"
	ReasonShutdown      = "shutdown"
	ReasonManual        = "manual"
)

var ErrPairNotFound = errors.New("pair not found")

// Coordinator drives detection, admission and execution. execMu
// serializes every open and close end to end so at most one execution
// sequence is in flight; mu guards only the registry map, so readers
// (API, app loop) never block behind a slow venue call.
type Coordinator struct {
	venues   map[string]venue.Venue
	store    *market.Store
	detector *strategy.Detector
	gate     *risk.Gate
	metrics  *metrics.Metrics
	recorder Recorder
	cfg      config.StrategyConfig
	log      *zap.Logger
	now      func() time.Time

	execMu sync.Mutex
	newID  func() string

	mu    sync.RWMutex
	pairs map[string]*arb.Pair
}

func NewCoordinator(
	venues map[string]venue.Venue,
	store *market.Store,
	detector *strategy.Detector,
	gate *risk.Gate,
	m *metrics.Metrics,
	recorder Recorder,
	cfg config.StrategyConfig,
	log *zap.Logger,
	now func() time.Time,
) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Coordinator{
		venues:   venues,
		store:    store,
		detector: detector,
		gate:     gate,
		metrics:  m,
		recorder: recorder,
		cfg:      cfg,
		log:      log,
		now:      now,
		newID:    uuid.NewString,
		pairs:    make(map[string]*arb.Pair),
	}
}

// SetIDGenerator overrides pair ID generation. The replay harness
// installs a sequential generator so identical runs produce identical
// ledgers.
func (c *Coordinator) SetIDGenerator(fn func() string) {
	if fn != nil {
		c.newID = fn
	}
}

// UpdateFundingRates fetches a fresh quote for every configured
// (venue, symbol) concurrently and replaces the stored snapshots. A
// transient failure on one venue does not block the others; it is logged
// and the stale quote stays until the next cycle.
func (c *Coordinator) UpdateFundingRates(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, tp := range c.cfg.Pairs {
		tp := tp
		v, ok := c.venues[tp.Venue]
		if !ok {
			c.log.Warn("configured venue not wired", zap.String("venue", tp.Venue))
			continue
		}
		g.Go(func() error {
			q, err := v.GetFundingRate(ctx, tp.Symbol)
			if err != nil {
				if venue.IsTransient(err) {
					c.log.Warn("funding rate fetch failed",
						zap.String("key", tp.Key()), zap.Error(err))
					return nil
				}
				return fmt.Errorf("funding rate %s: %w", tp.Key(), err)
			}
			c.store.Put(q)
			return nil
		})
	}
	return g.Wait()
}

// RunCycle executes one decision pass: refresh open pairs, close the
// ones whose exit condition holds, then scan for and open new
// opportunities. Pair iteration is ordered by ID so the pass is
// deterministic for a given market state.
func (c *Coordinator) RunCycle(ctx context.Context) {
	c.refreshPairs(ctx)
	c.checkExits(ctx)

	quotes := c.store.All()
	if len(quotes) < 2 {
		return
	}
	for _, opp := range c.detector.Detect(quotes, c.now()) {
		if c.hasPairSpanning(opp) {
			continue
		}
		if err := c.gate.CanAdmit(opp); err != nil {
			c.log.Debug("opportunity rejected",
				zap.String("long", opp.LongKey()),
				zap.String("short", opp.ShortKey()),
				zap.Error(err))
			continue
		}
		size := c.gate.Size(opp)
		if size <= 0 {
			continue
		}
		if net := c.estimatePnL(ctx, opp, size); net <= 0 {
			c.log.Debug("opportunity unprofitable after costs",
				zap.String("long", opp.LongKey()),
				zap.String("short", opp.ShortKey()),
				zap.Float64("net_usd", net))
			continue
		}
		if _, err := c.Open(ctx, opp, size); err != nil {
			c.log.Error("pair open failed",
				zap.String("long", opp.LongKey()),
				zap.String("short", opp.ShortKey()),
				zap.Error(err))
		}
	}
}

// estimatePnL prices the opportunity at the given notional using
// configured fees and the venues' own slippage estimates, falling back to
// the configured default when an estimate is unavailable.
func (c *Coordinator) estimatePnL(ctx context.Context, opp arb.Opportunity, notionalUSD float64) float64 {
	fees := map[string]float64{
		opp.LongVenue:  c.feePct(opp.LongVenue),
		opp.ShortVenue: c.feePct(opp.ShortVenue),
	}
	slippage := map[string]float64{
		opp.LongVenue:  c.slippagePct(ctx, opp.LongVenue, opp.LongSymbol, arb.SideBuy, notionalUSD),
		opp.ShortVenue: c.slippagePct(ctx, opp.ShortVenue, opp.ShortSymbol, arb.SideSell, notionalUSD),
	}
	return strategy.EstimateTheoreticalPnL(opp, notionalUSD, fees, slippage)
}

func (c *Coordinator) feePct(venueName string) float64 {
	if v, ok := c.cfg.Fees[venueName]; ok {
		return v
	}
	return c.cfg.DefaultFeePct
}

func (c *Coordinator) slippagePct(ctx context.Context, venueName, symbol string, side arb.Side, notionalUSD float64) float64 {
	v, ok := c.venues[venueName]
	if !ok {
		return c.cfg.DefaultSlippagePct
	}
	price, err := v.GetMarkPrice(ctx, symbol)
	if err != nil || price <= 0 {
		return c.cfg.DefaultSlippagePct
	}
	pct, err := v.EstimateSlippage(ctx, symbol, side, notionalUSD/price)
	if err != nil {
		return c.cfg.DefaultSlippagePct
	}
	return pct
}

// Open places the long leg first, then the short leg, waiting for each
// fill before proceeding. If the short leg fails after the long leg
// filled, the long leg is unwound with an offsetting market order and the
// returned error is a *PartialLegError. The pair enters the registry only
// once both legs are confirmed.
func (c *Coordinator) Open(ctx context.Context, opp arb.Opportunity, notionalUSD float64) (arb.Pair, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	longVenue, ok := c.venues[opp.LongVenue]
	if !ok {
		return arb.Pair{}, fmt.Errorf("venue %s not wired", opp.LongVenue)
	}
	shortVenue, ok := c.venues[opp.ShortVenue]
	if !ok {
		return arb.Pair{}, fmt.Errorf("venue %s not wired", opp.ShortVenue)
	}

	longOrder, err := c.placeAndWait(ctx, longVenue, opp.LongSymbol, arb.SideBuy, notionalUSD)
	if err != nil {
		c.metrics.OpenFailures.Inc()
		return arb.Pair{}, fmt.Errorf("long leg %s: %w", opp.LongKey(), err)
	}

	shortOrder, err := c.placeAndWait(ctx, shortVenue, opp.ShortSymbol, arb.SideSell, notionalUSD)
	if err != nil {
		c.metrics.OpenFailures.Inc()
		return arb.Pair{}, c.unwindLeg(ctx, longVenue, longOrder, err)
	}

	now := c.now()
	pair := arb.Pair{
		ID:              c.newID(),
		State:           arb.PairOpen,
		Long:            legFromOrder(opp.LongVenue, longOrder, arb.SideBuy, now),
		Short:           legFromOrder(opp.ShortVenue, shortOrder, arb.SideSell, now),
		EntryRateDiff:   opp.RateDiff,
		CurrentRateDiff: opp.RateDiff,
		OpenedAt:        now,
		UpdatedAt:       now,
	}

	// Venue-reported positions supersede the order-derived legs when
	// available; fills can differ from the requested amount.
	if leg, found, err := longVenue.GetPosition(ctx, opp.LongSymbol); err == nil && found {
		leg.OpenedAt = now
		pair.Long = leg
	}
	if leg, found, err := shortVenue.GetPosition(ctx, opp.ShortSymbol); err == nil && found {
		leg.OpenedAt = now
		pair.Short = leg
	}

	c.gate.Register(pair)
	c.mu.Lock()
	c.pairs[pair.ID] = &pair
	active := len(c.pairs)
	c.mu.Unlock()

	c.metrics.PairsOpened.Inc()
	c.metrics.ActivePairs.Set(float64(active))
	c.recorder.PairOpened(pair)
	c.log.Info("pair opened",
		zap.String("pair_id", pair.ID),
		zap.String("long", opp.LongKey()),
		zap.String("short", opp.ShortKey()),
		zap.Float64("notional_usd", notionalUSD),
		zap.Float64("entry_rate_diff", opp.RateDiff))
	return pair, nil
}

// placeAndWait submits a market order sized to the notional at the
// current mark price, then polls until the venue reports it filled.
func (c *Coordinator) placeAndWait(ctx context.Context, v venue.Venue, symbol string, side arb.Side, notionalUSD float64) (arb.Order, error) {
	price, err := v.GetMarkPrice(ctx, symbol)
	if err != nil {
		return arb.Order{}, fmt.Errorf("mark price: %w", err)
	}
	if price <= 0 {
		return arb.Order{}, fmt.Errorf("mark price %f is not positive", price)
	}
	amount := notionalUSD / price

	order, err := v.CreateOrder(ctx, symbol, arb.OrderMarket, side, amount, 0)
	if err != nil {
		return arb.Order{}, fmt.Errorf("create order: %w", err)
	}

	err = awaitCondition(ctx, c.cfg.FillTimeout, c.cfg.FillPoll, func(ctx context.Context) (bool, error) {
		o, err := v.GetOrder(ctx, symbol, order.ID)
		if err != nil {
			if venue.IsTransient(err) {
				return false, nil
			}
			return false, err
		}
		switch o.Status {
		case arb.OrderFilled:
			order = o
			return true, nil
		case arb.OrderCanceled, arb.OrderRejected:
			return false, fmt.Errorf("order %s %s: %w", o.ID, o.Status, venue.ErrRejected)
		default:
			return false, nil
		}
	})
	if err != nil {
		if errors.Is(err, ErrWaitTimeout) {
			// Best effort: stop the order so it cannot fill later.
			if cerr := v.CancelOrder(ctx, symbol, order.ID); cerr != nil {
				c.log.Warn("cancel after fill timeout failed",
					zap.String("order_id", order.ID), zap.Error(cerr))
			}
		}
		return arb.Order{}, fmt.Errorf("fill confirmation: %w", err)
	}
	return order, nil
}

// unwindLeg closes out the already-filled leg after the counterpart
// failed, and wraps the cause in a PartialLegError either way.
func (c *Coordinator) unwindLeg(ctx context.Context, v venue.Venue, filled arb.Order, cause error) error {
	perr := &PartialLegError{
		Venue:  v.Name(),
		Symbol: filled.Symbol,
		Side:   filled.Side,
		Amount: filled.FilledAmount,
		Err:    cause,
	}
	_, err := c.placeAndWait(ctx, v, filled.Symbol, filled.Side.Opposite(), filled.FilledAmount*filled.AvgFillPrice)
	if err != nil {
		c.log.Error("leg unwind failed, residual exposure remains",
			zap.String("venue", perr.Venue),
			zap.String("symbol", perr.Symbol),
			zap.Float64("amount", perr.Amount),
			zap.Error(err))
		return perr
	}
	perr.Unwound = true
	c.metrics.LegUnwinds.Inc()
	c.log.Warn("filled leg unwound after partial open",
		zap.String("venue", perr.Venue),
		zap.String("symbol", perr.Symbol),
		zap.Float64("amount", perr.Amount))
	return perr
}

// refreshPairs pulls venue position state into every open pair and
// refreshes the current rate differential from the quote store. Venue
// calls happen outside the registry lock; results are written back under
// it.
func (c *Coordinator) refreshPairs(ctx context.Context) {
	for _, id := range c.sortedPairIDs() {
		c.mu.RLock()
		p, ok := c.pairs[id]
		var long, short arb.Leg
		if ok {
			long, short = p.Long, p.Short
		}
		c.mu.RUnlock()
		if !ok {
			continue
		}

		c.refreshLeg(ctx, &long)
		c.refreshLeg(ctx, &short)

		longQ, lok := c.store.Get(long.Venue, long.Symbol)
		shortQ, sok := c.store.Get(short.Venue, short.Symbol)

		c.mu.Lock()
		if p, ok := c.pairs[id]; ok {
			p.Long, p.Short = long, short
			if lok && sok {
				p.CurrentRateDiff = shortQ.Rate - longQ.Rate
			}
			p.UpdatedAt = c.now()
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) refreshLeg(ctx context.Context, leg *arb.Leg) {
	v, ok := c.venues[leg.Venue]
	if !ok {
		return
	}
	fresh, found, err := v.GetPosition(ctx, leg.Symbol)
	if err != nil {
		c.log.Warn("position refresh failed",
			zap.String("key", leg.Key()), zap.Error(err))
		return
	}
	if !found {
		return
	}
	fresh.OpenedAt = leg.OpenedAt
	*leg = fresh
}

// checkExits closes every pair whose exit condition holds, evaluated in
// order: max holding time, rate convergence, stop loss.
func (c *Coordinator) checkExits(ctx context.Context) {
	now := c.now()
	for _, id := range c.sortedPairIDs() {
		c.mu.RLock()
		ptr, ok := c.pairs[id]
		var p arb.Pair
		if ok {
			p = *ptr
		}
		c.mu.RUnlock()
		if !ok {
			continue
		}

		var reason string
		switch {
		case now.Sub(p.OpenedAt) >= c.cfg.MaxHolding:
			reason = ReasonMaxHolding
		case p.CurrentRateDiff < c.cfg.ExitRateDiff:
			reason = ReasonRateConverged
		case c.gate.ShouldStopLoss(p):
			reason = ReasonStopLoss
			c.metrics.StopLosses.Inc()
		default:
			continue
		}

		if err := c.Close(ctx, id, reason); err != nil {
			c.log.Error("pair close failed",
				zap.String("pair_id", id),
				zap.String("reason", reason),
				zap.Error(err))
		}
	}
}

// Close exits both legs of the pair with offsetting market orders,
// reusing the fill confirmation wait. A leg whose confirmation times out
// is finalized with its last known state rather than blocking the
// registry forever; the discrepancy is logged.
func (c *Coordinator) Close(ctx context.Context, pairID, reason string) error {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	c.mu.Lock()
	ptr, ok := c.pairs[pairID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPairNotFound, pairID)
	}
	ptr.State = arb.PairClosing
	p := *ptr
	c.mu.Unlock()

	c.closeLeg(ctx, &p.Long)
	c.closeLeg(ctx, &p.Short)

	now := c.now()
	p.State = arb.PairClosed
	p.UpdatedAt = now

	c.gate.Unregister(p)
	c.mu.Lock()
	delete(c.pairs, pairID)
	active := len(c.pairs)
	c.mu.Unlock()

	c.metrics.PairsClosed.Inc()
	c.metrics.ActivePairs.Set(float64(active))
	c.metrics.DailyPnLUSD.Set(c.gate.DailyPnL())

	c.recorder.PairClosed(Trade{
		PairID:        p.ID,
		LongVenue:     p.Long.Venue,
		LongSymbol:    p.Long.Symbol,
		ShortVenue:    p.Short.Venue,
		ShortSymbol:   p.Short.Symbol,
		NotionalUSD:   p.CombinedNotionalUSD() / 2,
		EntryRateDiff: p.EntryRateDiff,
		ExitRateDiff:  p.CurrentRateDiff,
		PnLUSD:        p.TotalPnL(),
		Reason:        reason,
		OpenedAt:      p.OpenedAt,
		ClosedAt:      now,
	})
	c.log.Info("pair closed",
		zap.String("pair_id", p.ID),
		zap.String("reason", reason),
		zap.Float64("pnl_usd", p.TotalPnL()))
	return nil
}

// closeLeg offsets one leg and folds the realized result back into it.
func (c *Coordinator) closeLeg(ctx context.Context, leg *arb.Leg) {
	v, ok := c.venues[leg.Venue]
	if !ok {
		c.log.Error("cannot close leg, venue not wired", zap.String("key", leg.Key()))
		return
	}
	notional := leg.NotionalUSD()
	if notional <= 0 {
		return
	}
	if _, err := c.placeAndWait(ctx, v, leg.Symbol, leg.Side.Opposite(), notional); err != nil {
		c.log.Error("leg close confirmation failed, finalizing with last known state",
			zap.String("key", leg.Key()), zap.Error(err))
	}
	if fresh, found, err := v.GetPosition(ctx, leg.Symbol); err == nil {
		if found {
			fresh.OpenedAt = leg.OpenedAt
			*leg = fresh
		} else {
			// Flat: everything unrealized became realized at exit. The
			// amount is kept so exposure accounting still sees the
			// notional that was committed.
			leg.RealizedPnL += leg.UnrealizedPnL
			leg.UnrealizedPnL = 0
		}
	}
}

// CloseAll exits every open pair, in ID order.
func (c *Coordinator) CloseAll(ctx context.Context, reason string) {
	for _, id := range c.sortedPairIDs() {
		if err := c.Close(ctx, id, reason); err != nil {
			c.log.Error("close all: pair close failed",
				zap.String("pair_id", id), zap.Error(err))
		}
	}
}

func (c *Coordinator) sortedPairIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.pairs))
	for id := range c.pairs {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Pairs returns copies of the open pairs ordered by ID.
func (c *Coordinator) Pairs() []arb.Pair {
	c.mu.RLock()
	out := make([]arb.Pair, 0, len(c.pairs))
	for _, p := range c.pairs {
		out = append(out, *p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Coordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pairs)
}

func (c *Coordinator) hasPairSpanning(opp arb.Opportunity) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.pairs {
		if p.Spans(opp) {
			return true
		}
	}
	return false
}

func legFromOrder(venueName string, o arb.Order, side arb.Side, now time.Time) arb.Leg {
	return arb.Leg{
		Venue:        venueName,
		Symbol:       o.Symbol,
		Side:         side,
		Amount:       o.FilledAmount,
		EntryPrice:   o.AvgFillPrice,
		CurrentPrice: o.AvgFillPrice,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
}
