package backtest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDirParsesVenueAndSymbol(t *testing.T) {
	dir := t.TempDir()
	csvBody := "timestamp,funding_rate,mark_price,index_price\n" +
		"2024-01-01T00:00:00Z,0.01,50000,49990\n" +
		"2024-01-01T01:00:00Z,0.02,50100,50090\n"
	if err := os.WriteFile(filepath.Join(dir, "binance_btcusdt.csv"), []byte(csvBody), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}

	data, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	series, ok := data["BINANCE"]["BTCUSDT"]
	if !ok {
		t.Fatalf("expected BINANCE/BTCUSDT, got %v", data)
	}
	if series.Len() != 2 {
		t.Fatalf("expected 2 points, got %d", series.Len())
	}
	p, _ := series.At(t0)
	if p.Rate != 0.01 || p.MarkPrice != 50000 || p.IndexPrice != 49990 {
		t.Fatalf("unexpected first point: %+v", p)
	}
}

func TestLoadDirMissingColumn(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bybit_ethusdt.csv"),
		[]byte("timestamp,mark_price\n2024-01-01T00:00:00Z,3000\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if _, err := LoadDir(dir); err == nil {
		t.Fatal("expected error for missing funding_rate column")
	}
}

func TestLoadDirIndexPriceDefaultsToMark(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "okx_btcusdt.csv"),
		[]byte("timestamp,funding_rate,mark_price\n2024-01-01 00:00:00,0.03,42000\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	data, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	p, ok := data["OKX"]["BTCUSDT"].At(t0)
	if !ok || p.IndexPrice != 42000 {
		t.Fatalf("expected index price defaulted to mark, got %+v", p)
	}
}
