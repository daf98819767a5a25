// Package market holds the latest funding-rate quote per (venue, symbol).
package market

import (
	"sort"
	"sync"

	"funding-arb-bot/internal/arb"
)

type Key struct {
	Venue  string
	Symbol string
}

// Store is the single-writer snapshot store: the coordinator's cycle is
// the only mutator, readers (API surface) take copies.
type Store struct {
	mu     sync.RWMutex
	quotes map[Key]arb.Quote
}

func NewStore() *Store {
	return &Store{quotes: make(map[Key]arb.Quote)}
}

// Put replaces the stored quote wholesale.
func (s *Store) Put(q arb.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[Key{Venue: q.Venue, Symbol: q.Symbol}] = q
}

func (s *Store) Get(venue, symbol string) (arb.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[Key{Venue: venue, Symbol: symbol}]
	return q, ok
}

// All returns every stored quote ordered by venue then symbol. The stable
// order keeps downstream detection deterministic across runs.
func (s *Store) All() []arb.Quote {
	s.mu.RLock()
	out := make([]arb.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		out = append(out, q)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}
