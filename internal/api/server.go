// Package api serves the read-only monitoring surface: health, open
// positions, the latest funding snapshot and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"funding-arb-bot/internal/arb"
	"funding-arb-bot/internal/risk"
)

// Engine is the view of the coordinator the API needs.
type Engine interface {
	Pairs() []arb.Pair
	ActiveCount() int
}

// Quotes is the view of the market store the API needs.
type Quotes interface {
	All() []arb.Quote
}

// RiskView exposes the gate snapshot.
type RiskView interface {
	Snapshot() risk.Snapshot
}

type Server struct {
	engine  Engine
	quotes  Quotes
	riskv   RiskView
	metrics http.Handler
	log     *zap.Logger
	started time.Time
	srv     *http.Server
}

func NewServer(addr string, engine Engine, quotes Quotes, riskv RiskView, metricsHandler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		quotes:  quotes,
		riskv:   riskv,
		metrics: metricsHandler,
		log:     log,
		started: time.Now(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/funding_rates", s.handleFundingRates)
	mux.HandleFunc("/risk", s.handleRisk)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.log.Info("api listening", zap.String("addr", s.srv.Addr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"active_pairs":   s.engine.ActiveCount(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	pairs := s.engine.Pairs()
	out := make([]map[string]any, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, map[string]any{
			"pair_id":           p.ID,
			"state":             p.State,
			"long":              legJSON(p.Long),
			"short":             legJSON(p.Short),
			"entry_rate_diff":   p.EntryRateDiff,
			"current_rate_diff": p.CurrentRateDiff,
			"total_pnl_usd":     p.TotalPnL(),
			"notional_usd":      p.CombinedNotionalUSD(),
			"opened_at":         p.OpenedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out, "count": len(out)})
}

func (s *Server) handleFundingRates(w http.ResponseWriter, r *http.Request) {
	quotes := s.quotes.All()
	out := make([]map[string]any, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, map[string]any{
			"venue":        q.Venue,
			"symbol":       q.Symbol,
			"rate":         q.Rate,
			"mark_price":   q.MarkPrice,
			"index_price":  q.IndexPrice,
			"next_funding": q.NextFunding,
			"observed_at":  q.ObservedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"funding_rates": out})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.riskv.Snapshot())
}

func legJSON(l arb.Leg) map[string]any {
	return map[string]any{
		"venue":          l.Venue,
		"symbol":         l.Symbol,
		"side":           l.Side,
		"amount":         l.Amount,
		"entry_price":    l.EntryPrice,
		"current_price":  l.CurrentPrice,
		"unrealized_pnl": l.UnrealizedPnL,
		"realized_pnl":   l.RealizedPnL,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
