package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"funding-arb-bot/internal/app"
	"funding-arb-bot/internal/backtest"
	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/logging"
	"funding-arb-bot/internal/venue"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "arb",
		Short: "Cross-venue funding rate arbitrage bot",
		Long:  "Scans funding-rate differentials across derivatives venues and manages delta-neutral long/short pairs under risk constraints.",
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to config file")
	rootCmd.AddCommand(runCmd(), backtestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(".env"); err != nil {
				fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log)
			defer log.Sync()
			log.Info("config loaded", zap.String("path", cfgFile))

			venues, err := buildVenues(cfg, log)
			if err != nil {
				return err
			}

			application, err := app.New(cfg, venues, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// buildVenues constructs the configured venue adapters. Only the "sim"
// kind ships here; live adapters implement venue.Venue out of tree and
// register through their own build.
func buildVenues(cfg *config.Config, log *zap.Logger) (map[string]venue.Venue, error) {
	venues := make(map[string]venue.Venue, len(cfg.Venues))
	clock := backtest.NewWallClock()
	for _, vc := range cfg.Venues {
		switch vc.Kind {
		case "sim":
			data, err := backtest.LoadDir(vc.DataDir)
			if err != nil {
				return nil, fmt.Errorf("venue %s: %w", vc.Name, err)
			}
			series, ok := data[strings.ToUpper(vc.Name)]
			if !ok {
				return nil, fmt.Errorf("venue %s: no series named %s_*.csv in %s", vc.Name, strings.ToLower(vc.Name), vc.DataDir)
			}
			venues[vc.Name] = backtest.NewSimVenue(vc.Name, clock, series)
			log.Info("paper venue wired", zap.String("venue", vc.Name), zap.Int("symbols", len(series)))
		default:
			return nil, fmt.Errorf("venue %s: unknown kind %q", vc.Name, vc.Kind)
		}
	}
	if len(venues) < 2 {
		return nil, fmt.Errorf("need at least two venues, have %d", len(venues))
	}
	return venues, nil
}

func backtestCmd() *cobra.Command {
	var (
		startStr string
		endStr   string
		dataDir  string
		output   string
		step     time.Duration
		capital  float64
		minDiff  float64
		exitDiff float64
		maxPos   float64
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical data through the decision engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log)
			defer log.Sync()

			start, err := time.Parse("2006-01-02", startStr)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := time.Parse("2006-01-02", endStr)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			if minDiff > 0 {
				cfg.Strategy.MinRateDiff = minDiff
			}
			if exitDiff > 0 {
				cfg.Strategy.ExitRateDiff = exitDiff
			}
			if maxPos > 0 {
				cfg.Risk.MaxPositionSizeUSD = maxPos
			}

			data, err := backtest.LoadDir(dataDir)
			if err != nil {
				return err
			}
			runner, err := backtest.NewRunner(start, end, step, capital, data, cfg.Strategy, cfg.Risk, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			if err := backtest.WriteReport(output, res); err != nil {
				return err
			}

			s := res.Summary
			fmt.Printf("Total return:       %.2f%%\n", s.TotalReturnPct)
			fmt.Printf("Annualized return:  %.2f%%\n", s.AnnualizedReturnPct)
			fmt.Printf("Max drawdown:       %.2f%%\n", s.MaxDrawdownPct)
			fmt.Printf("Sharpe ratio:       %.2f\n", s.SharpeRatio)
			fmt.Printf("Trades:             %d (%.1f%% win rate)\n", s.TotalTrades, s.WinRatePct)
			fmt.Printf("Profit factor:      %.2f\n", s.ProfitFactor)
			fmt.Printf("Report written to:  %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&startStr, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dataDir, "data", "data/historical", "historical data directory")
	cmd.Flags().StringVar(&output, "output", "backtest_results", "report output directory")
	cmd.Flags().DurationVar(&step, "step", time.Hour, "simulation time step")
	cmd.Flags().Float64Var(&capital, "capital", 10000, "initial capital in USD")
	cmd.Flags().Float64Var(&minDiff, "min-diff", 0, "override entry rate-diff threshold (percent)")
	cmd.Flags().Float64Var(&exitDiff, "exit-diff", 0, "override exit rate-diff threshold (percent)")
	cmd.Flags().Float64Var(&maxPos, "max-position", 0, "override max position size in USD")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
