package engine

import (
	"time"

	"funding-arb-bot/internal/arb"
)

// Trade is the record the coordinator emits when a pair finishes its
// lifecycle.
type Trade struct {
	PairID        string
	LongVenue     string
	LongSymbol    string
	ShortVenue    string
	ShortSymbol   string
	NotionalUSD   float64
	EntryRateDiff float64
	ExitRateDiff  float64
	PnLUSD        float64
	Reason        string
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// Recorder receives pair lifecycle events. Implementations must not
// block the caller for long; the coordinator invokes them inline.
type Recorder interface {
	PairOpened(p arb.Pair)
	PairClosed(t Trade)
}

type nopRecorder struct{}

func (nopRecorder) PairOpened(arb.Pair) {}
func (nopRecorder) PairClosed(Trade)    {}
