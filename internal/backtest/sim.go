package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"funding-arb-bot/internal/arb"
	"funding-arb-bot/internal/venue"
)

const (
	// marketSlippage is the fixed execution slippage applied to simulated
	// market orders, as a fraction of price.
	marketSlippage = 0.0005
	// bookSpread is the synthetic order book's full spread as a fraction
	// of mark price.
	bookSpread = 0.001
	// baseSlippagePct is the floor of the size-scaled slippage estimate,
	// in percent of notional.
	baseSlippagePct = 0.05
)

// SimVenue is the deterministic in-memory venue used by the replay
// harness and paper mode. All state it reports derives from the loaded
// series and the orders placed against it; no call touches the network.
type SimVenue struct {
	name   string
	clock  *Clock
	series map[string]*Series

	mu        sync.Mutex
	seq       int
	orders    map[string]arb.Order
	positions map[string]*arb.Leg
}

var _ venue.Venue = (*SimVenue)(nil)

func NewSimVenue(name string, clock *Clock, series map[string]*Series) *SimVenue {
	return &SimVenue{
		name:      name,
		clock:     clock,
		series:    series,
		orders:    make(map[string]arb.Order),
		positions: make(map[string]*arb.Leg),
	}
}

func (v *SimVenue) Name() string { return v.name }

func (v *SimVenue) at(symbol string) (Point, error) {
	s, ok := v.series[symbol]
	if !ok {
		return Point{}, fmt.Errorf("%s has no series for %s: %w", v.name, symbol, venue.ErrNotFound)
	}
	p, ok := s.At(v.clock.Now())
	if !ok {
		return Point{}, fmt.Errorf("%s series for %s is empty: %w", v.name, symbol, venue.ErrNotFound)
	}
	return p, nil
}

func (v *SimVenue) GetFundingRate(ctx context.Context, symbol string) (arb.Quote, error) {
	p, err := v.at(symbol)
	if err != nil {
		return arb.Quote{}, err
	}
	now := v.clock.Now()
	return arb.Quote{
		Venue:       v.name,
		Symbol:      symbol,
		Rate:        p.Rate,
		NextFunding: nextFundingTime(now),
		MarkPrice:   p.MarkPrice,
		IndexPrice:  p.IndexPrice,
		ObservedAt:  now,
	}, nil
}

// nextFundingTime is the next 8h settlement boundary at or after t.
func nextFundingTime(t time.Time) time.Time {
	hoursToNext := (8 - (t.Hour() % 8)) % 8
	return t.Truncate(time.Hour).Add(time.Duration(hoursToNext) * time.Hour)
}

func (v *SimVenue) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	p, err := v.at(symbol)
	if err != nil {
		return 0, err
	}
	return p.MarkPrice, nil
}

// GetOrderBook synthesizes a book around the mark price: a fixed
// fractional spread with geometrically thinning depth away from the top.
func (v *SimVenue) GetOrderBook(ctx context.Context, symbol string, depth int) (venue.OrderBook, error) {
	p, err := v.at(symbol)
	if err != nil {
		return venue.OrderBook{}, err
	}
	if depth <= 0 {
		depth = 20
	}
	spread := p.MarkPrice * bookSpread
	bestBid := p.MarkPrice - spread/2
	bestAsk := p.MarkPrice + spread/2

	book := venue.OrderBook{
		Bids: make([]venue.BookLevel, 0, depth),
		Asks: make([]venue.BookLevel, 0, depth),
		Time: v.clock.Now(),
	}
	for i := 0; i < depth; i++ {
		offset := float64(i) * 0.0005 * p.MarkPrice
		size := 10 / float64(i+1)
		book.Bids = append(book.Bids, venue.BookLevel{Price: bestBid - offset, Size: size})
		book.Asks = append(book.Asks, venue.BookLevel{Price: bestAsk + offset, Size: size})
	}
	return book, nil
}

// CreateOrder fills immediately. Market orders execute at the mark price
// shifted against the taker by the fixed slippage; limit orders execute
// at their limit price.
func (v *SimVenue) CreateOrder(ctx context.Context, symbol string, typ arb.OrderType, side arb.Side, amount, price float64) (arb.Order, error) {
	if amount <= 0 {
		return arb.Order{}, fmt.Errorf("amount %f: %w", amount, venue.ErrRejected)
	}
	execPrice := price
	if typ == arb.OrderMarket {
		p, err := v.at(symbol)
		if err != nil {
			return arb.Order{}, err
		}
		execPrice = p.MarkPrice
		if side == arb.SideBuy {
			execPrice *= 1 + marketSlippage
		} else {
			execPrice *= 1 - marketSlippage
		}
	}
	if execPrice <= 0 {
		return arb.Order{}, fmt.Errorf("price %f: %w", execPrice, venue.ErrRejected)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	order := arb.Order{
		Venue:        v.name,
		Symbol:       symbol,
		ID:           fmt.Sprintf("%s-%s-%d-%s", v.name, symbol, v.seq, side),
		Side:         side,
		Type:         typ,
		Price:        execPrice,
		Amount:       amount,
		Status:       arb.OrderFilled,
		FilledAmount: amount,
		AvgFillPrice: execPrice,
		CreatedAt:    v.clock.Now(),
	}
	v.orders[order.ID] = order
	v.applyFill(symbol, side, amount, execPrice)
	return order, nil
}

func (v *SimVenue) GetOrder(ctx context.Context, symbol, orderID string) (arb.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok {
		return arb.Order{}, fmt.Errorf("order %s: %w", orderID, venue.ErrNotFound)
	}
	return o, nil
}

func (v *SimVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, venue.ErrNotFound)
	}
	if o.Status == arb.OrderFilled || o.Status == arb.OrderCanceled {
		return fmt.Errorf("order %s already %s: %w", orderID, o.Status, venue.ErrRejected)
	}
	o.Status = arb.OrderCanceled
	v.orders[orderID] = o
	return nil
}

func (v *SimVenue) GetPosition(ctx context.Context, symbol string) (arb.Leg, bool, error) {
	p, err := v.at(symbol)
	if err != nil {
		return arb.Leg{}, false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	pos, ok := v.positions[symbol]
	if !ok {
		return arb.Leg{}, false, nil
	}
	if pos.Side == arb.SideBuy {
		pos.UnrealizedPnL = pos.Amount * (p.MarkPrice - pos.EntryPrice)
	} else {
		pos.UnrealizedPnL = pos.Amount * (pos.EntryPrice - p.MarkPrice)
	}
	pos.CurrentPrice = p.MarkPrice
	pos.UpdatedAt = v.clock.Now()
	return *pos, true, nil
}

func (v *SimVenue) GetBalance(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"USDT": 100000, "USD": 100000}, nil
}

// EstimateSlippage scales the base slippage by order size, saturating at
// double the base.
func (v *SimVenue) EstimateSlippage(ctx context.Context, symbol string, side arb.Side, amount float64) (float64, error) {
	sizeFactor := math.Min(amount/10, 1.0)
	return baseSlippagePct * (1 + sizeFactor), nil
}

// applyFill folds an execution into the symbol's position: same-side
// fills average the entry price by size; opposite-side fills realize PnL
// proportionally, close the position when the sizes match exactly, and
// flip side on an over-fill. Caller holds v.mu.
func (v *SimVenue) applyFill(symbol string, side arb.Side, amount, price float64) {
	now := v.clock.Now()
	pos, ok := v.positions[symbol]
	if !ok {
		v.positions[symbol] = &arb.Leg{
			Venue:        v.name,
			Symbol:       symbol,
			Side:         side,
			Amount:       amount,
			EntryPrice:   price,
			CurrentPrice: price,
			OpenedAt:     now,
			UpdatedAt:    now,
		}
		return
	}

	if pos.Side == side {
		newAmount := pos.Amount + amount
		pos.EntryPrice = (pos.EntryPrice*pos.Amount + price*amount) / newAmount
		pos.Amount = newAmount
		pos.CurrentPrice = price
		pos.UpdatedAt = now
		return
	}

	direction := 1.0
	if pos.Side == arb.SideSell {
		direction = -1
	}
	switch {
	case amount < pos.Amount:
		pos.RealizedPnL += amount * (price - pos.EntryPrice) * direction
		pos.Amount -= amount
		pos.CurrentPrice = price
		pos.UpdatedAt = now
	case amount == pos.Amount:
		delete(v.positions, symbol)
	default:
		realized := pos.Amount * (price - pos.EntryPrice) * direction
		v.positions[symbol] = &arb.Leg{
			Venue:        v.name,
			Symbol:       symbol,
			Side:         side,
			Amount:       amount - pos.Amount,
			EntryPrice:   price,
			CurrentPrice: price,
			RealizedPnL:  realized,
			OpenedAt:     now,
			UpdatedAt:    now,
		}
	}
}

// Symbols returns the symbols this venue has data for, sorted.
func (v *SimVenue) Symbols() []string {
	out := make([]string, 0, len(v.series))
	for s := range v.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
