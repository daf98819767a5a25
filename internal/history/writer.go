// Package history ships funding-rate and pair snapshots to a TimescaleDB
// instance for offline analysis. Writes are fire-and-forget through
// bounded queues; a full queue drops the sample rather than stalling the
// trading loop.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"funding-arb-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type FundingSample struct {
	Time        time.Time
	Venue       string
	Symbol      string
	Rate        float64
	MarkPrice   float64
	IndexPrice  float64
	NextFunding time.Time
}

type PairSnapshot struct {
	Time            time.Time
	PairID          string
	State           string
	LongVenue       string
	LongSymbol      string
	ShortVenue      string
	ShortSymbol     string
	EntryRateDiff   float64
	CurrentRateDiff float64
	NotionalUSD     float64
	PnLUSD          float64
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	funding   chan FundingSample
	pairs     chan PairSnapshot
	started   atomic.Bool
	dropFund  atomic.Uint64
	dropPairs atomic.Uint64
}

// New opens the connection and ensures the schema. A disabled config
// yields a nil Writer; all methods are nil-safe so callers never branch.
func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		funding: make(chan FundingSample, queueSize),
		pairs:   make(chan PairSnapshot, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueFunding(sample FundingSample) {
	if w == nil {
		return
	}
	select {
	case w.funding <- sample:
	default:
		if w.dropFund.Add(1) == 1 && w.log != nil {
			w.log.Warn("history funding queue full")
		}
	}
}

func (w *Writer) EnqueuePair(snap PairSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.pairs <- snap:
	default:
		if w.dropPairs.Add(1) == 1 && w.log != nil {
			w.log.Warn("history pair queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-w.funding:
			w.writeFunding(ctx, sample)
		case snap := <-w.pairs:
			w.writePair(ctx, snap)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("history db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		venue TEXT NOT NULL,
		symbol TEXT NOT NULL,
		rate DOUBLE PRECISION NOT NULL,
		mark_price DOUBLE PRECISION NOT NULL,
		index_price DOUBLE PRECISION NOT NULL,
		next_funding TIMESTAMPTZ,
		PRIMARY KEY (ts, venue, symbol)
	)`, w.table("funding_rates"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair_id TEXT NOT NULL,
		state TEXT NOT NULL,
		long_venue TEXT NOT NULL,
		long_symbol TEXT NOT NULL,
		short_venue TEXT NOT NULL,
		short_symbol TEXT NOT NULL,
		entry_rate_diff DOUBLE PRECISION NOT NULL,
		current_rate_diff DOUBLE PRECISION NOT NULL,
		notional_usd DOUBLE PRECISION NOT NULL,
		pnl_usd DOUBLE PRECISION NOT NULL
	)`, w.table("pair_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("funding_rates"))); err != nil && w.log != nil {
		w.log.Warn("history funding_rates hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("pair_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("history pair_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeFunding(ctx context.Context, sample FundingSample) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, venue, symbol, rate, mark_price, index_price, next_funding
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (ts, venue, symbol) DO UPDATE SET
		rate = EXCLUDED.rate,
		mark_price = EXCLUDED.mark_price,
		index_price = EXCLUDED.index_price,
		next_funding = EXCLUDED.next_funding`, w.table("funding_rates"))
	if _, err := w.db.ExecContext(ctx, query,
		sample.Time,
		sample.Venue,
		sample.Symbol,
		sample.Rate,
		sample.MarkPrice,
		sample.IndexPrice,
		sample.NextFunding,
	); err != nil && w.log != nil {
		w.log.Warn("history funding insert failed", zap.Error(err))
	}
}

func (w *Writer) writePair(ctx context.Context, snap PairSnapshot) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair_id, state, long_venue, long_symbol, short_venue, short_symbol,
		entry_rate_diff, current_rate_diff, notional_usd, pnl_usd
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, w.table("pair_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.PairID,
		snap.State,
		snap.LongVenue,
		snap.LongSymbol,
		snap.ShortVenue,
		snap.ShortSymbol,
		snap.EntryRateDiff,
		snap.CurrentRateDiff,
		snap.NotionalUSD,
		snap.PnLUSD,
	); err != nil && w.log != nil {
		w.log.Warn("history pair insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
