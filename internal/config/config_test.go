package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
strategy:
  pairs:
    - venue: BINANCE
      symbol: BTCUSDT
    - venue: BYBIT
      symbol: BTCUSDT
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Strategy.MinRateDiff != 0.01 {
		t.Fatalf("expected default min_rate_diff 0.01, got %v", cfg.Strategy.MinRateDiff)
	}
	if cfg.Strategy.DetectorMode != "all" {
		t.Fatalf("expected default detector_mode all, got %q", cfg.Strategy.DetectorMode)
	}
	if cfg.Strategy.MaxHolding != 24*time.Hour {
		t.Fatalf("expected default max_holding 24h, got %v", cfg.Strategy.MaxHolding)
	}
	if cfg.Risk.MaxPositionSizeUSD != 10000 {
		t.Fatalf("expected default max_position_size_usd 10000, got %v", cfg.Risk.MaxPositionSizeUSD)
	}
	if cfg.Risk.MinTicketUSD != 100 {
		t.Fatalf("expected default min_ticket_usd 100, got %v", cfg.Risk.MinTicketUSD)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Log.Level)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
  min_rate_diff: 0.05
  detector_mode: best
risk:
  max_daily_drawdown_usd: 250
`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Strategy.MinRateDiff != 0.05 {
		t.Fatalf("expected 0.05, got %v", cfg.Strategy.MinRateDiff)
	}
	if cfg.Strategy.DetectorMode != "best" {
		t.Fatalf("expected best, got %q", cfg.Strategy.DetectorMode)
	}
	if cfg.Risk.MaxDailyDrawdownUSD != 250 {
		t.Fatalf("expected 250, got %v", cfg.Risk.MaxDailyDrawdownUSD)
	}
}

func TestLoadRejectsMissingPairs(t *testing.T) {
	if _, err := Load(writeConfig(t, "log:\n  level: debug\n")); err == nil {
		t.Fatal("expected error for missing pairs")
	}
}

func TestLoadRejectsBadDetectorMode(t *testing.T) {
	if _, err := Load(writeConfig(t, minimalConfig+"  detector_mode: most\n")); err == nil {
		t.Fatal("expected error for invalid detector_mode")
	}
}

func TestLoadRejectsHistoryWithoutDSN(t *testing.T) {
	if _, err := Load(writeConfig(t, minimalConfig+"history:\n  enabled: true\n")); err == nil {
		t.Fatal("expected error for enabled history without dsn")
	}
}

func TestLoadEnvDoesNotClobber(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ARB_TEST_KEY=from_file\n# comment\nARB_TEST_OTHER=\"quoted\"\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("ARB_TEST_KEY", "from_env")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("ARB_TEST_KEY"); got != "from_env" {
		t.Fatalf("existing env must win, got %q", got)
	}
	if got := os.Getenv("ARB_TEST_OTHER"); got != "quoted" {
		t.Fatalf("expected quotes stripped, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
}
