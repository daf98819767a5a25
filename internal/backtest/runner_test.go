package backtest

import (
	"context"
	"testing"
	"time"

	"funding-arb-bot/internal/config"
)

func testData() map[string]map[string]*Series {
	// A wide differential that collapses halfway through the window:
	// BINANCE stays cheap while BYBIT's rate decays toward it.
	hours := 72
	binance := make([]Point, hours)
	bybit := make([]Point, hours)
	for i := 0; i < hours; i++ {
		ts := t0.Add(time.Duration(i) * time.Hour)
		// Wide enough that the differential beats the simulated
		// round-trip costs until it collapses at hour 36.
		rate := 0.2
		if i >= 36 {
			rate = 0.012
		}
		binance[i] = Point{Time: ts, Rate: 0.01, MarkPrice: 50000, IndexPrice: 50000}
		bybit[i] = Point{Time: ts, Rate: rate, MarkPrice: 50010, IndexPrice: 50010}
	}
	return map[string]map[string]*Series{
		"BINANCE": {"BTCUSDT": NewSeries(binance)},
		"BYBIT":   {"BTCUSDT": NewSeries(bybit)},
	}
}

func backtestConfigs() (config.StrategyConfig, config.RiskConfig) {
	strat := config.StrategyConfig{
		MinRateDiff:        0.02,
		ExitRateDiff:       0.005,
		DetectorMode:       "all",
		DefaultFeePct:      0.001,
		DefaultSlippagePct: 0.001,
		MaxHolding:         24 * time.Hour,
	}
	riskCfg := config.RiskConfig{
		MaxPositionSizeUSD:     10000,
		MaxDailyDrawdownUSD:    5000,
		MaxConcurrentPositions: 5,
		StopLossFraction:       0.05,
		MinTicketUSD:           100,
		ReferenceRateDiff:      0.1,
	}
	return strat, riskCfg
}

func runOnce(t *testing.T) Result {
	t.Helper()
	strat, riskCfg := backtestConfigs()
	runner, err := NewRunner(t0, t0.Add(71*time.Hour), time.Hour, 10000, testData(), strat, riskCfg, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	res, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res
}

func TestRunnerOpensAndClosesPairs(t *testing.T) {
	res := runOnce(t)

	trades := res.Ledger.Trades()
	if len(trades) == 0 {
		t.Fatal("expected at least one closed trade")
	}
	for _, tr := range trades {
		if tr.LongVenue != "BINANCE" || tr.ShortVenue != "BYBIT" {
			t.Fatalf("expected long BINANCE / short BYBIT, got %s/%s", tr.LongVenue, tr.ShortVenue)
		}
	}
	if len(res.EquityCurve) == 0 {
		t.Fatal("expected equity points")
	}
	// Horizon end leaves no open pairs behind.
	last := res.EquityCurve[len(res.EquityCurve)-1]
	if last.OpenCount != 0 {
		t.Fatalf("expected all pairs force-closed, %d still open", last.OpenCount)
	}
}

func TestRunnerDeterminism(t *testing.T) {
	a := runOnce(t)
	b := runOnce(t)

	if len(a.EquityCurve) != len(b.EquityCurve) {
		t.Fatalf("curve length differs: %d vs %d", len(a.EquityCurve), len(b.EquityCurve))
	}
	for i := range a.EquityCurve {
		pa, pb := a.EquityCurve[i], b.EquityCurve[i]
		if !pa.Time.Equal(pb.Time) || pa.Equity != pb.Equity || pa.Drawdown != pb.Drawdown || pa.OpenCount != pb.OpenCount {
			t.Fatalf("equity point %d differs: %+v vs %+v", i, pa, pb)
		}
	}

	ta, tb := a.Ledger.Trades(), b.Ledger.Trades()
	if len(ta) != len(tb) {
		t.Fatalf("trade count differs: %d vs %d", len(ta), len(tb))
	}
	for i := range ta {
		if ta[i].PnLUSD != tb[i].PnLUSD || ta[i].Reason != tb[i].Reason ||
			ta[i].LongVenue != tb[i].LongVenue || ta[i].ShortVenue != tb[i].ShortVenue {
			t.Fatalf("trade %d differs: %+v vs %+v", i, ta[i], tb[i])
		}
	}

	if a.Summary != b.Summary {
		t.Fatalf("summaries differ:\n%+v\n%+v", a.Summary, b.Summary)
	}
}

func TestRunnerRejectsSingleVenue(t *testing.T) {
	strat, riskCfg := backtestConfigs()
	data := map[string]map[string]*Series{
		"BINANCE": {"BTCUSDT": flatSeries(50000, 0.01, 48)},
	}
	if _, err := NewRunner(t0, t0.Add(time.Hour), time.Hour, 10000, data, strat, riskCfg, nil); err == nil {
		t.Fatal("expected error for a single venue")
	}
}

func TestRunnerRejectsInvertedWindow(t *testing.T) {
	strat, riskCfg := backtestConfigs()
	if _, err := NewRunner(t0, t0.Add(-time.Hour), time.Hour, 10000, testData(), strat, riskCfg, nil); err == nil {
		t.Fatal("expected error for end before start")
	}
}
