// Package venue declares the capability interface the engine requires from
// a derivatives venue, plus the error taxonomy venue calls report with.
// Concrete live adapters are out of tree; the backtest package carries a
// simulated implementation.
package venue

import (
	"context"
	"errors"
	"time"

	"funding-arb-bot/internal/arb"
)

var (
	// ErrTransient marks connectivity failures; the affected action is
	// skipped this cycle and retried on the next one.
	ErrTransient = errors.New("transient venue error")
	// ErrRejected marks an order the venue refused or canceled; the
	// current open/close attempt terminates without automatic retry.
	ErrRejected = errors.New("order rejected by venue")
	// ErrNotFound marks an unknown symbol, order or position.
	ErrNotFound = errors.New("not found")
)

func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

type BookLevel struct {
	Price float64
	Size  float64
}

type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
	Time time.Time
}

// Venue is the full capability surface the coordinator and harness depend
// on. All methods may fail with ErrTransient or ErrRejected wrapped in a
// descriptive error.
type Venue interface {
	Name() string
	GetFundingRate(ctx context.Context, symbol string) (arb.Quote, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	CreateOrder(ctx context.Context, symbol string, typ arb.OrderType, side arb.Side, amount, price float64) (arb.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (arb.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetPosition(ctx context.Context, symbol string) (arb.Leg, bool, error)
	GetBalance(ctx context.Context) (map[string]float64, error)
	// EstimateSlippage returns the expected execution slippage for a
	// market order, in percent of notional.
	EstimateSlippage(ctx context.Context, symbol string, side arb.Side, amount float64) (float64, error)
}
