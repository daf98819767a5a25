// Package arb defines the data model shared by the detector, risk gate,
// execution coordinator and backtest harness.
package arb

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the offsetting side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
)

type Order struct {
	Venue        string
	Symbol       string
	ID           string
	Side         Side
	Type         OrderType
	Price        float64
	Amount       float64
	Status       OrderStatus
	FilledAmount float64
	AvgFillPrice float64
	CreatedAt    time.Time
}

// Quote is one funding-rate observation for a perpetual contract.
// Rate is the periodic funding rate in percent per funding interval
// (0.01 means 0.01% per 8h). Quotes are replaced wholesale each refresh
// cycle and never mutated in place.
type Quote struct {
	Venue       string
	Symbol      string
	Rate        float64
	NextFunding time.Time
	MarkPrice   float64
	IndexPrice  float64
	ObservedAt  time.Time
}

func (q Quote) Key() string { return q.Venue + ":" + q.Symbol }

// Opportunity is an immutable candidate pairing produced by the detector:
// long the venue with the lower funding rate, short the higher one.
// RateDiff and TheoreticalProfit are percent per funding interval.
type Opportunity struct {
	LongVenue         string
	LongSymbol        string
	ShortVenue        string
	ShortSymbol       string
	RateDiff          float64
	TheoreticalProfit float64
	DetectedAt        time.Time
}

func (o Opportunity) LongKey() string  { return o.LongVenue + ":" + o.LongSymbol }
func (o Opportunity) ShortKey() string { return o.ShortVenue + ":" + o.ShortSymbol }

// Leg mirrors venue-reported position state for one side of a pair.
// It is owned exclusively by the venue it trades on.
type Leg struct {
	Venue         string
	Symbol        string
	Side          Side
	Amount        float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	RealizedPnL   float64
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

func (l Leg) Key() string { return l.Venue + ":" + l.Symbol }

// NotionalUSD is the current USD value of the leg.
func (l Leg) NotionalUSD() float64 { return l.Amount * l.CurrentPrice }

func (l Leg) PnL() float64 { return l.UnrealizedPnL + l.RealizedPnL }

type PairState string

const (
	PairPendingLegs PairState = "PENDING_LEGS"
	PairOpen        PairState = "OPEN"
	PairClosing     PairState = "CLOSING"
	PairClosed      PairState = "CLOSED"
)

// Pair is the unit of risk accounting: exactly one long leg and one short
// leg on two distinct venues, created only after both legs confirm filled.
type Pair struct {
	ID              string
	State           PairState
	Long            Leg
	Short           Leg
	EntryRateDiff   float64
	CurrentRateDiff float64
	OpenedAt        time.Time
	UpdatedAt       time.Time
}

func (p Pair) TotalPnL() float64 {
	return p.Long.PnL() + p.Short.PnL()
}

// CombinedNotionalUSD is the sum of both legs' current notional.
func (p Pair) CombinedNotionalUSD() float64 {
	return p.Long.NotionalUSD() + p.Short.NotionalUSD()
}

// Spans reports whether the pair covers the same venue/symbol combination
// on both legs as the given opportunity.
func (p Pair) Spans(o Opportunity) bool {
	return p.Long.Venue == o.LongVenue && p.Long.Symbol == o.LongSymbol &&
		p.Short.Venue == o.ShortVenue && p.Short.Symbol == o.ShortSymbol
}
