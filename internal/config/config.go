package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	Journal  JournalConfig  `yaml:"journal"`
	History  HistoryConfig  `yaml:"history"`
	Venues   []VenueConfig  `yaml:"venues"`
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type JournalConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// VenueConfig declares one venue the engine trades on. Kind selects the
// adapter; only "sim" (paper trading against a historical data dir) ships
// in this repository, production adapters implement venue.Venue out of
// tree.
type VenueConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	DataDir string `yaml:"data_dir"`
}

type TradingPair struct {
	Venue  string `yaml:"venue"`
	Symbol string `yaml:"symbol"`
}

func (p TradingPair) Key() string { return p.Venue + ":" + p.Symbol }

type StrategyConfig struct {
	Pairs []TradingPair `yaml:"pairs"`
	// MinRateDiff and ExitRateDiff are percent per funding interval.
	MinRateDiff  float64 `yaml:"min_rate_diff"`
	ExitRateDiff float64 `yaml:"exit_rate_diff"`
	// DetectorMode is "all" (every pair above threshold) or "best"
	// (single best candidate by net theoretical profit).
	DetectorMode string `yaml:"detector_mode"`
	// BestModeNotionalUSD is the reference notional used to rank
	// candidates in "best" mode.
	BestModeNotionalUSD float64            `yaml:"best_mode_notional_usd"`
	Fees                map[string]float64 `yaml:"fees"`
	DefaultFeePct       float64            `yaml:"default_fee_pct"`
	DefaultSlippagePct  float64            `yaml:"default_slippage_pct"`
	MaxHolding          time.Duration      `yaml:"max_holding"`
	CycleInterval       time.Duration      `yaml:"cycle_interval"`
	FillTimeout         time.Duration      `yaml:"fill_timeout"`
	FillPoll            time.Duration      `yaml:"fill_poll"`
}

type RiskConfig struct {
	MaxPositionSizeUSD     float64 `yaml:"max_position_size_usd"`
	MaxDailyDrawdownUSD    float64 `yaml:"max_daily_drawdown_usd"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	StopLossFraction       float64 `yaml:"stop_loss_fraction"`
	MinTicketUSD           float64 `yaml:"min_ticket_usd"`
	// ReferenceRateDiff is the sizing saturation point: a differential
	// at or above it maps to full available size.
	ReferenceRateDiff float64 `yaml:"reference_rate_diff"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 7
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 7
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8000"
	}
	if cfg.Journal.SQLitePath == "" {
		cfg.Journal.SQLitePath = "data/funding-arb-bot.db"
	}
	if cfg.History.Schema == "" {
		cfg.History.Schema = "public"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
	if cfg.Strategy.MinRateDiff == 0 {
		cfg.Strategy.MinRateDiff = 0.01
	}
	if cfg.Strategy.ExitRateDiff == 0 {
		cfg.Strategy.ExitRateDiff = 0.005
	}
	if cfg.Strategy.DetectorMode == "" {
		cfg.Strategy.DetectorMode = "all"
	}
	if cfg.Strategy.BestModeNotionalUSD == 0 {
		cfg.Strategy.BestModeNotionalUSD = 10000
	}
	if cfg.Strategy.DefaultFeePct == 0 {
		cfg.Strategy.DefaultFeePct = 0.1
	}
	if cfg.Strategy.DefaultSlippagePct == 0 {
		cfg.Strategy.DefaultSlippagePct = 0.05
	}
	if cfg.Strategy.MaxHolding == 0 {
		cfg.Strategy.MaxHolding = 24 * time.Hour
	}
	if cfg.Strategy.CycleInterval == 0 {
		cfg.Strategy.CycleInterval = 10 * time.Second
	}
	if cfg.Strategy.FillTimeout == 0 {
		cfg.Strategy.FillTimeout = 60 * time.Second
	}
	if cfg.Strategy.FillPoll == 0 {
		cfg.Strategy.FillPoll = time.Second
	}
	if cfg.Risk.MaxPositionSizeUSD == 0 {
		cfg.Risk.MaxPositionSizeUSD = 10000
	}
	if cfg.Risk.MaxDailyDrawdownUSD == 0 {
		cfg.Risk.MaxDailyDrawdownUSD = 500
	}
	if cfg.Risk.MaxConcurrentPositions == 0 {
		cfg.Risk.MaxConcurrentPositions = 5
	}
	if cfg.Risk.StopLossFraction == 0 {
		cfg.Risk.StopLossFraction = 0.01
	}
	if cfg.Risk.MinTicketUSD == 0 {
		cfg.Risk.MinTicketUSD = 100
	}
	if cfg.Risk.ReferenceRateDiff == 0 {
		cfg.Risk.ReferenceRateDiff = 0.1
	}
}

func validate(cfg *Config) error {
	if len(cfg.Strategy.Pairs) == 0 {
		return errors.New("strategy.pairs is required")
	}
	for _, p := range cfg.Strategy.Pairs {
		if p.Venue == "" || p.Symbol == "" {
			return fmt.Errorf("invalid trading pair %q: venue and symbol are required", p.Key())
		}
	}
	if cfg.Strategy.DetectorMode != "all" && cfg.Strategy.DetectorMode != "best" {
		return fmt.Errorf("strategy.detector_mode must be all or best, got %q", cfg.Strategy.DetectorMode)
	}
	if cfg.Strategy.MinRateDiff < 0 {
		return errors.New("strategy.min_rate_diff must be >= 0")
	}
	if cfg.Risk.MaxPositionSizeUSD <= 0 {
		return errors.New("risk.max_position_size_usd must be > 0")
	}
	if cfg.Risk.StopLossFraction <= 0 {
		return errors.New("risk.stop_loss_fraction must be > 0")
	}
	if cfg.Risk.ReferenceRateDiff <= 0 {
		return errors.New("risk.reference_rate_diff must be > 0")
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	return nil
}
