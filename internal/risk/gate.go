// Package risk implements admission control, position sizing and the
// exposure/daily-PnL bookkeeping for arbitrage pairs.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"funding-arb-bot/internal/arb"
	"funding-arb-bot/internal/config"

	"go.uber.org/zap"
)

var (
	ErrDailyDrawdown = errors.New("daily drawdown limit reached")
	ErrMaxPositions  = errors.New("max concurrent positions reached")
	ErrVenueExposure = errors.New("venue exposure limit reached")
)

// Gate is the stateful risk gate. All mutation goes through its mutex;
// the coordinator calls it synchronously so register/unregister ordering
// follows call order.
type Gate struct {
	cfg config.RiskConfig
	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	dailyPnL  float64
	lastReset time.Time
	exposure  map[string]float64
}

// Snapshot is a read-only view of the gate for the monitoring surface.
type Snapshot struct {
	DailyPnLUSD            float64            `json:"daily_pnl_usd"`
	MaxDailyDrawdownUSD    float64            `json:"max_daily_drawdown_usd"`
	Exposure               map[string]float64 `json:"exposure_usd"`
	MaxPositionSizeUSD     float64            `json:"max_position_size_usd"`
	MaxConcurrentPositions int                `json:"max_concurrent_positions"`
	TrackedVenues          int                `json:"tracked_venues"`
}

// NewGate builds a gate. now may be nil, in which case wall-clock time is
// used; the backtest harness injects its virtual clock here.
func NewGate(cfg config.RiskConfig, log *zap.Logger, now func() time.Time) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{
		cfg:       cfg,
		log:       log,
		now:       now,
		lastReset: now().UTC(),
		exposure:  make(map[string]float64),
	}
}

// CanAdmit evaluates the admission rules in order and returns the first
// failure. Rules: daily drawdown breach, count of venues with live
// exposure, per-venue exposure saturation.
func (g *Gate) CanAdmit(opp arb.Opportunity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDailyLocked()

	if g.dailyPnL <= -g.cfg.MaxDailyDrawdownUSD {
		return fmt.Errorf("daily pnl %.2f: %w", g.dailyPnL, ErrDailyDrawdown)
	}
	if len(g.exposure) >= g.cfg.MaxConcurrentPositions {
		return fmt.Errorf("%d exposures tracked: %w", len(g.exposure), ErrMaxPositions)
	}
	if g.exposure[opp.LongVenue] >= g.cfg.MaxPositionSizeUSD {
		return fmt.Errorf("venue %s: %w", opp.LongVenue, ErrVenueExposure)
	}
	if g.exposure[opp.ShortVenue] >= g.cfg.MaxPositionSizeUSD {
		return fmt.Errorf("venue %s: %w", opp.ShortVenue, ErrVenueExposure)
	}
	return nil
}

// Size returns the USD notional to commit to the opportunity: the tighter
// of the two venues' remaining headroom, scaled by how far the
// differential sits toward the reference saturation point. Sizes below
// the minimum ticket round down to zero.
func (g *Gate) Size(opp arb.Opportunity) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	longAvail := g.cfg.MaxPositionSizeUSD - g.exposure[opp.LongVenue]
	shortAvail := g.cfg.MaxPositionSizeUSD - g.exposure[opp.ShortVenue]
	available := math.Min(longAvail, shortAvail)
	if available <= 0 {
		return 0
	}

	scale := math.Min(opp.RateDiff/g.cfg.ReferenceRateDiff, 1.0)
	size := available * scale
	if size < g.cfg.MinTicketUSD {
		return 0
	}
	g.log.Debug("position sized",
		zap.String("long", opp.LongKey()),
		zap.String("short", opp.ShortKey()),
		zap.Float64("size_usd", size),
		zap.Float64("scale", scale),
	)
	return size
}

// Register adds the pair's per-leg notional to the exposure ledger.
func (g *Gate) Register(p arb.Pair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exposure[p.Long.Venue] += p.Long.NotionalUSD()
	g.exposure[p.Short.Venue] += p.Short.NotionalUSD()
	g.log.Info("pair registered",
		zap.String("pair_id", p.ID),
		zap.Float64("long_exposure_usd", g.exposure[p.Long.Venue]),
		zap.Float64("short_exposure_usd", g.exposure[p.Short.Venue]),
	)
}

// Unregister removes the pair's notional from the ledger (floored at
// zero) and folds its total PnL into the daily accumulator. A venue whose
// exposure fully unwinds drops out of the ledger so it no longer counts
// toward the concurrent limit.
func (g *Gate) Unregister(p arb.Pair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exposure[p.Long.Venue] = math.Max(0, g.exposure[p.Long.Venue]-p.Long.NotionalUSD())
	g.exposure[p.Short.Venue] = math.Max(0, g.exposure[p.Short.Venue]-p.Short.NotionalUSD())
	for _, venueName := range []string{p.Long.Venue, p.Short.Venue} {
		if g.exposure[venueName] == 0 {
			delete(g.exposure, venueName)
		}
	}

	g.resetDailyLocked()
	g.dailyPnL += p.TotalPnL()
	g.log.Info("pair unregistered",
		zap.String("pair_id", p.ID),
		zap.Float64("pnl_usd", p.TotalPnL()),
		zap.Float64("daily_pnl_usd", g.dailyPnL),
	)
}

// ShouldStopLoss reports whether the pair's loss exceeds the configured
// fraction of its combined notional. Exact equality does not trigger.
func (g *Gate) ShouldStopLoss(p arb.Pair) bool {
	threshold := p.CombinedNotionalUSD() * g.cfg.StopLossFraction
	if p.TotalPnL() < -threshold {
		g.log.Warn("stop loss triggered",
			zap.String("pair_id", p.ID),
			zap.Float64("pnl_usd", p.TotalPnL()),
			zap.Float64("threshold_usd", threshold),
		)
		return true
	}
	return false
}

func (g *Gate) DailyPnL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDailyLocked()
	return g.dailyPnL
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	exposure := make(map[string]float64, len(g.exposure))
	for venue, usd := range g.exposure {
		exposure[venue] = usd
	}
	return Snapshot{
		DailyPnLUSD:            g.dailyPnL,
		MaxDailyDrawdownUSD:    g.cfg.MaxDailyDrawdownUSD,
		Exposure:               exposure,
		MaxPositionSizeUSD:     g.cfg.MaxPositionSizeUSD,
		MaxConcurrentPositions: g.cfg.MaxConcurrentPositions,
		TrackedVenues:          len(g.exposure),
	}
}

// resetDailyLocked zeroes the daily PnL once the UTC calendar day has
// advanced past the last reset.
func (g *Gate) resetDailyLocked() {
	now := g.now().UTC()
	y1, m1, d1 := g.lastReset.UTC().Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return
	}
	g.dailyPnL = 0
	g.lastReset = now
	g.log.Info("daily risk metrics reset")
}
