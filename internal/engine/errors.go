package engine

import (
	"fmt"

	"funding-arb-bot/internal/arb"
)

// PartialLegError reports a pair open that filled one leg but not the
// other. Unwound tells whether the filled leg was successfully closed
// back out; when false, residual exposure remains on Venue and needs
// manual intervention.
type PartialLegError struct {
	Venue   string
	Symbol  string
	Side    arb.Side
	Amount  float64
	Unwound bool
	Err     error
}

func (e *PartialLegError) Error() string {
	state := "unwound"
	if !e.Unwound {
		state = "NOT unwound, manual intervention required"
	}
	return fmt.Sprintf("partial pair open: %s leg %.6f %s on %s filled but counterpart failed (%s): %v",
		e.Side, e.Amount, e.Symbol, e.Venue, state, e.Err)
}

func (e *PartialLegError) Unwrap() error { return e.Err }
