package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// WriteReport writes the run's equity curve, trade ledger, position
// events, funding samples and summary metrics under dir.
func WriteReport(dir string, res Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := writeCSV(filepath.Join(dir, "equity_curve.csv"),
		[]string{"timestamp", "equity", "drawdown", "active_positions"},
		len(res.EquityCurve), func(i int) []string {
			p := res.EquityCurve[i]
			return []string{
				p.Time.UTC().Format(time.RFC3339),
				formatFloat(p.Equity),
				formatFloat(p.Drawdown),
				strconv.Itoa(p.OpenCount),
			}
		}); err != nil {
		return fmt.Errorf("equity curve: %w", err)
	}

	trades := res.Ledger.Trades()
	if err := writeCSV(filepath.Join(dir, "trades.csv"),
		[]string{"pair_id", "long", "short", "notional_usd", "entry_rate_diff", "exit_rate_diff", "pnl_usd", "reason", "opened_at", "closed_at"},
		len(trades), func(i int) []string {
			t := trades[i]
			return []string{
				t.PairID,
				t.LongVenue + ":" + t.LongSymbol,
				t.ShortVenue + ":" + t.ShortSymbol,
				formatFloat(t.NotionalUSD),
				formatFloat(t.EntryRateDiff),
				formatFloat(t.ExitRateDiff),
				formatFloat(t.PnLUSD),
				t.Reason,
				t.OpenedAt.UTC().Format(time.RFC3339),
				t.ClosedAt.UTC().Format(time.RFC3339),
			}
		}); err != nil {
		return fmt.Errorf("trades: %w", err)
	}

	positions := res.Ledger.Positions()
	if err := writeCSV(filepath.Join(dir, "positions.csv"),
		[]string{"timestamp", "pair_id", "event", "long", "short", "notional_usd", "rate_diff", "pnl_usd"},
		len(positions), func(i int) []string {
			p := positions[i]
			return []string{
				p.Time.UTC().Format(time.RFC3339),
				p.PairID,
				p.Event,
				p.LongKey,
				p.ShortKey,
				formatFloat(p.NotionalUSD),
				formatFloat(p.RateDiff),
				formatFloat(p.PnLUSD),
			}
		}); err != nil {
		return fmt.Errorf("positions: %w", err)
	}

	funding := res.Ledger.Funding()
	if err := writeCSV(filepath.Join(dir, "funding_rates.csv"),
		[]string{"timestamp", "venue", "symbol", "funding_rate", "mark_price"},
		len(funding), func(i int) []string {
			f := funding[i]
			return []string{
				f.Time.UTC().Format(time.RFC3339),
				f.Venue,
				f.Symbol,
				formatFloat(f.Rate),
				formatFloat(f.Mark),
			}
		}); err != nil {
		return fmt.Errorf("funding rates: %w", err)
	}

	metricsJSON, err := json.MarshalIndent(res.Summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "metrics.json"), metricsJSON, 0o644)
}

func writeCSV(path string, header []string, rows int, row func(int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		if err := w.Write(row(i)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
