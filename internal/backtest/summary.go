package backtest

import (
	"math"
	"time"

	"funding-arb-bot/internal/engine"
)

// Summary is the post-run metrics record.
type Summary struct {
	TotalReturnPct      float64 `json:"total_return"`
	AnnualizedReturnPct float64 `json:"annualized_return"`
	MaxDrawdownPct      float64 `json:"max_drawdown"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	TotalTrades         int     `json:"total_trades"`
	WinningTrades       int     `json:"winning_trades"`
	LosingTrades        int     `json:"losing_trades"`
	WinRatePct          float64 `json:"win_rate"`
	AvgProfitUSD        float64 `json:"avg_profit"`
	AvgLossUSD          float64 `json:"avg_loss"`
	ProfitFactor        float64 `json:"profit_factor"`
	MaxConsecutiveWins  int     `json:"max_consecutive_wins"`
	MaxConsecutiveLoss  int     `json:"max_consecutive_losses"`
}

// Summarize derives the run metrics from the equity curve and the closed
// trades. The Sharpe ratio uses daily-resampled returns, population
// standard deviation and a √252 annualization factor.
func Summarize(curve []EquityPoint, trades []engine.Trade, start, end time.Time) Summary {
	var s Summary
	if len(curve) == 0 {
		return s
	}

	initial := curve[0].Equity
	final := curve[len(curve)-1].Equity
	if initial != 0 {
		s.TotalReturnPct = (final/initial - 1) * 100
	}

	days := end.Sub(start).Hours() / 24
	if days > 0 {
		s.AnnualizedReturnPct = (math.Pow(1+s.TotalReturnPct/100, 365/days) - 1) * 100
	}

	maxDD := 0.0
	for _, p := range curve {
		if p.Drawdown > maxDD {
			maxDD = p.Drawdown
		}
	}
	if initial != 0 {
		s.MaxDrawdownPct = maxDD / initial * 100
	}

	s.SharpeRatio = sharpe(dailyReturns(curve))

	s.TotalTrades = len(trades)
	if s.TotalTrades == 0 {
		return s
	}

	var profits, losses []float64
	wins, lossStreak, winStreak := 0, 0, 0
	for _, t := range trades {
		if t.PnLUSD > 0 {
			s.WinningTrades++
			profits = append(profits, t.PnLUSD)
			wins++
			winStreak = max(winStreak, wins)
			lossStreak = 0
		} else {
			s.LosingTrades++
			losses = append(losses, math.Abs(t.PnLUSD))
			lossStreak++
			s.MaxConsecutiveLoss = max(s.MaxConsecutiveLoss, lossStreak)
			wins = 0
		}
	}
	s.MaxConsecutiveWins = winStreak
	s.WinRatePct = float64(s.WinningTrades) / float64(s.TotalTrades) * 100

	s.AvgProfitUSD = mean(profits)
	s.AvgLossUSD = mean(losses)
	totalProfit, totalLoss := sum(profits), sum(losses)
	if totalLoss > 0 {
		s.ProfitFactor = totalProfit / totalLoss
	} else if totalProfit > 0 {
		s.ProfitFactor = math.Inf(1)
	}
	return s
}

// dailyReturns resamples the curve to the last equity value per UTC day
// and returns day-over-day fractional changes.
func dailyReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	var days []float64
	var lastDay time.Time
	for _, p := range curve {
		day := p.Time.UTC().Truncate(24 * time.Hour)
		if len(days) == 0 || !day.Equal(lastDay) {
			days = append(days, p.Equity)
			lastDay = day
		} else {
			days[len(days)-1] = p.Equity
		}
	}
	if len(days) < 2 {
		return nil
	}
	out := make([]float64, 0, len(days)-1)
	for i := 1; i < len(days); i++ {
		if days[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, days[i]/days[i-1]-1)
	}
	return out
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	avg := mean(returns)
	variance := 0.0
	for _, r := range returns {
		d := r - avg
		variance += d * d
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return avg / std * math.Sqrt(252)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}
