// Package journal persists the pair lifecycle to a local SQLite file.
// It is an observability record, not engine state: the engine never
// reads it back.
package journal

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"funding-arb-bot/internal/arb"
	"funding-arb-bot/internal/engine"
)

type Journal struct {
	db  *sql.DB
	log *zap.Logger
}

func Open(path string, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db, log: log}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS pairs (
	pair_id         TEXT PRIMARY KEY,
	long_venue      TEXT NOT NULL,
	long_symbol     TEXT NOT NULL,
	short_venue     TEXT NOT NULL,
	short_symbol    TEXT NOT NULL,
	entry_rate_diff REAL NOT NULL,
	notional_usd    REAL NOT NULL,
	opened_at       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	pair_id         TEXT PRIMARY KEY,
	long_venue      TEXT NOT NULL,
	long_symbol     TEXT NOT NULL,
	short_venue     TEXT NOT NULL,
	short_symbol    TEXT NOT NULL,
	notional_usd    REAL NOT NULL,
	entry_rate_diff REAL NOT NULL,
	exit_rate_diff  REAL NOT NULL,
	pnl_usd         REAL NOT NULL,
	reason          TEXT NOT NULL,
	opened_at       TEXT NOT NULL,
	closed_at       TEXT NOT NULL
)`)
	return err
}

// PairOpened implements engine.Recorder. Write failures are logged, not
// surfaced; the journal must never abort an execution.
func (j *Journal) PairOpened(p arb.Pair) {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO pairs (pair_id, long_venue, long_symbol, short_venue, short_symbol, entry_rate_diff, notional_usd, opened_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Long.Venue, p.Long.Symbol, p.Short.Venue, p.Short.Symbol,
		p.EntryRateDiff, p.CombinedNotionalUSD()/2, p.OpenedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		j.log.Error("journal pair insert failed", zap.String("pair_id", p.ID), zap.Error(err))
	}
}

// PairClosed implements engine.Recorder.
func (j *Journal) PairClosed(t engine.Trade) {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO trades (pair_id, long_venue, long_symbol, short_venue, short_symbol, notional_usd, entry_rate_diff, exit_rate_diff, pnl_usd, reason, opened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PairID, t.LongVenue, t.LongSymbol, t.ShortVenue, t.ShortSymbol,
		t.NotionalUSD, t.EntryRateDiff, t.ExitRateDiff, t.PnLUSD, t.Reason,
		t.OpenedAt.UTC().Format(time.RFC3339Nano), t.ClosedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		j.log.Error("journal trade insert failed", zap.String("pair_id", t.PairID), zap.Error(err))
	}
	if _, err := j.db.Exec(`DELETE FROM pairs WHERE pair_id = ?`, t.PairID); err != nil {
		j.log.Error("journal pair cleanup failed", zap.String("pair_id", t.PairID), zap.Error(err))
	}
}

// Trades returns the recorded trade history, oldest first.
func (j *Journal) Trades() ([]engine.Trade, error) {
	rows, err := j.db.Query(
		`SELECT pair_id, long_venue, long_symbol, short_venue, short_symbol, notional_usd, entry_rate_diff, exit_rate_diff, pnl_usd, reason, opened_at, closed_at
		 FROM trades ORDER BY closed_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Trade
	for rows.Next() {
		var t engine.Trade
		var openedAt, closedAt string
		if err := rows.Scan(&t.PairID, &t.LongVenue, &t.LongSymbol, &t.ShortVenue, &t.ShortSymbol,
			&t.NotionalUSD, &t.EntryRateDiff, &t.ExitRateDiff, &t.PnLUSD, &t.Reason, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		t.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
		t.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
