package risk

import (
	"errors"
	"testing"
	"time"

	"funding-arb-bot/internal/arb"
	"funding-arb-bot/internal/config"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSizeUSD:     10000,
		MaxDailyDrawdownUSD:    500,
		MaxConcurrentPositions: 2,
		StopLossFraction:       0.01,
		MinTicketUSD:           100,
		ReferenceRateDiff:      0.1,
	}
}

func opportunity(diff float64) arb.Opportunity {
	return arb.Opportunity{
		LongVenue:   "BINANCE",
		LongSymbol:  "BTCUSDT",
		ShortVenue:  "BYBIT",
		ShortSymbol: "BTCUSDT",
		RateDiff:    diff,
	}
}

func pair(id string, longNotional, shortNotional, pnl float64) arb.Pair {
	return arb.Pair{
		ID: id,
		Long: arb.Leg{
			Venue: "BINANCE", Symbol: "BTCUSDT", Side: arb.SideBuy,
			Amount: 1, CurrentPrice: longNotional,
			UnrealizedPnL: pnl / 2,
		},
		Short: arb.Leg{
			Venue: "BYBIT", Symbol: "BTCUSDT", Side: arb.SideSell,
			Amount: 1, CurrentPrice: shortNotional,
			UnrealizedPnL: pnl / 2,
		},
	}
}

func TestAdmitFreshGate(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)
	if err := g.CanAdmit(opportunity(0.02)); err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
}

func TestAdmitRejectsOnDailyDrawdown(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)
	g.Register(pair("p1", 5000, 5000, 0))
	g.Unregister(pair("p1", 5000, 5000, -600))

	err := g.CanAdmit(opportunity(0.02))
	if !errors.Is(err, ErrDailyDrawdown) {
		t.Fatalf("expected ErrDailyDrawdown, got %v", err)
	}
}

func TestAdmitRejectsOnMaxPositions(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)
	g.Register(pair("p1", 1000, 1000, 0))
	g.Register(arb.Pair{
		ID:    "p2",
		Long:  arb.Leg{Venue: "OKX", Symbol: "ETHUSDT", Side: arb.SideBuy, Amount: 1, CurrentPrice: 1000},
		Short: arb.Leg{Venue: "DERIBIT", Symbol: "ETHUSDT", Side: arb.SideSell, Amount: 1, CurrentPrice: 1000},
	})

	// Two tracked exposures on four venues hits the max-concurrent
	// limit of 2 before the venue exposure rule is even consulted.
	err := g.CanAdmit(opportunity(0.02))
	if !errors.Is(err, ErrMaxPositions) {
		t.Fatalf("expected ErrMaxPositions, got %v", err)
	}
}

func TestUnregisterFreesConcurrencySlots(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)
	p1 := pair("p1", 1000, 1000, 0)
	p2 := arb.Pair{
		ID:    "p2",
		Long:  arb.Leg{Venue: "OKX", Symbol: "ETHUSDT", Side: arb.SideBuy, Amount: 1, CurrentPrice: 1000},
		Short: arb.Leg{Venue: "DERIBIT", Symbol: "ETHUSDT", Side: arb.SideSell, Amount: 1, CurrentPrice: 1000},
	}
	g.Register(p1)
	g.Register(p2)
	if err := g.CanAdmit(opportunity(0.02)); !errors.Is(err, ErrMaxPositions) {
		t.Fatalf("expected ErrMaxPositions while both pairs open, got %v", err)
	}

	// Fully unwound venues stop counting toward the concurrent limit.
	g.Unregister(p1)
	g.Unregister(p2)
	if err := g.CanAdmit(opportunity(0.02)); err != nil {
		t.Fatalf("expected admission with all exposure released, got %v", err)
	}
	if snap := g.Snapshot(); snap.TrackedVenues != 0 {
		t.Fatalf("expected empty exposure ledger, got %d venues", snap.TrackedVenues)
	}
}

func TestAdmitRejectsOnVenueExposure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPositions = 10
	g := NewGate(cfg, nil, nil)
	g.Register(pair("p1", 10000, 500, 0))

	err := g.CanAdmit(opportunity(0.02))
	if !errors.Is(err, ErrVenueExposure) {
		t.Fatalf("expected ErrVenueExposure, got %v", err)
	}
}

func TestSizeScalesWithRateDiff(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)

	// Half the reference diff maps to half the available headroom.
	if got := g.Size(opportunity(0.05)); got != 5000 {
		t.Fatalf("expected 5000, got %v", got)
	}
	// At or above the reference diff maps to full size.
	if got := g.Size(opportunity(0.2)); got != 10000 {
		t.Fatalf("expected 10000, got %v", got)
	}
}

func TestSizeUsesTighterVenueHeadroom(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)
	g.Register(pair("p1", 8000, 2000, 0))

	// BINANCE has 2000 headroom, BYBIT 8000; the tighter side wins.
	if got := g.Size(opportunity(0.2)); got != 2000 {
		t.Fatalf("expected 2000, got %v", got)
	}
}

func TestSizeBelowMinTicketIsZero(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)

	// 10000 headroom at 0.1% of the reference diff sizes to 10, which
	// is below the $100 floor.
	if got := g.Size(opportunity(0.0001)); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestRegisterUnregisterAreInverse(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)
	p := pair("p1", 5000, 5000, 0)

	g.Register(p)
	g.Unregister(p)

	snap := g.Snapshot()
	for venueName, usd := range snap.Exposure {
		if usd != 0 {
			t.Fatalf("expected zero exposure on %s, got %v", venueName, usd)
		}
	}
}

func TestExposureNeverNegative(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)
	g.Register(pair("p1", 1000, 1000, 0))
	// Prices moved; the unregistered notional exceeds the registered one.
	g.Unregister(pair("p1", 2000, 2000, 0))

	snap := g.Snapshot()
	for venueName, usd := range snap.Exposure {
		if usd < 0 {
			t.Fatalf("negative exposure on %s: %v", venueName, usd)
		}
	}
}

func TestUnregisterFoldsPnLIntoDaily(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)
	p := pair("p1", 5000, 5000, 42)
	g.Register(p)
	g.Unregister(p)

	if got := g.DailyPnL(); got != 42 {
		t.Fatalf("expected daily pnl 42, got %v", got)
	}
}

func TestStopLossBoundary(t *testing.T) {
	g := NewGate(testConfig(), nil, nil)

	// Combined notional 10000, stop loss fraction 1% → threshold 100.
	if g.ShouldStopLoss(pair("p1", 5000, 5000, -100)) {
		t.Fatal("stop loss must not trigger at exact equality")
	}
	if !g.ShouldStopLoss(pair("p1", 5000, 5000, -100.01)) {
		t.Fatal("stop loss must trigger below the threshold")
	}
	if g.ShouldStopLoss(pair("p1", 5000, 5000, 50)) {
		t.Fatal("stop loss must not trigger in profit")
	}
}

func TestDailyPnLResetsAcrossUTCDay(t *testing.T) {
	current := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	g := NewGate(testConfig(), nil, func() time.Time { return current })

	p := pair("p1", 5000, 5000, -200)
	g.Register(p)
	g.Unregister(p)
	if got := g.DailyPnL(); got != -200 {
		t.Fatalf("expected -200, got %v", got)
	}

	current = time.Date(2024, 3, 2, 0, 30, 0, 0, time.UTC)
	if got := g.DailyPnL(); got != 0 {
		t.Fatalf("expected reset to 0 after day boundary, got %v", got)
	}
	if err := g.CanAdmit(opportunity(0.02)); err != nil {
		t.Fatalf("expected admission after reset, got %v", err)
	}
}
