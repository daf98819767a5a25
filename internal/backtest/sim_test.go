package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"funding-arb-bot/internal/arb"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func flatSeries(price, rate float64, hours int) *Series {
	points := make([]Point, hours)
	for i := range points {
		points[i] = Point{
			Time:       t0.Add(time.Duration(i) * time.Hour),
			Rate:       rate,
			MarkPrice:  price,
			IndexPrice: price,
		}
	}
	return NewSeries(points)
}

func newTestVenue(price, rate float64) (*SimVenue, *Clock) {
	clock := NewClock(t0)
	v := NewSimVenue("TESTX", clock, map[string]*Series{
		"BTCUSDT": flatSeries(price, rate, 48),
	})
	return v, clock
}

func TestSeriesNearestLookup(t *testing.T) {
	s := NewSeries([]Point{
		{Time: t0, MarkPrice: 100},
		{Time: t0.Add(time.Hour), MarkPrice: 200},
	})

	p, ok := s.At(t0.Add(20 * time.Minute))
	if !ok || p.MarkPrice != 100 {
		t.Fatalf("expected nearest 100, got %+v ok=%v", p, ok)
	}
	p, _ = s.At(t0.Add(40 * time.Minute))
	if p.MarkPrice != 200 {
		t.Fatalf("expected nearest 200, got %+v", p)
	}
	// Out-of-range lookups clamp to the edges.
	p, _ = s.At(t0.Add(-time.Hour))
	if p.MarkPrice != 100 {
		t.Fatalf("expected clamp to first point, got %+v", p)
	}
	p, _ = s.At(t0.Add(10 * time.Hour))
	if p.MarkPrice != 200 {
		t.Fatalf("expected clamp to last point, got %+v", p)
	}
}

func TestMarketOrderFillsWithSlippage(t *testing.T) {
	v, _ := newTestVenue(50000, 0.01)
	ctx := context.Background()

	order, err := v.CreateOrder(ctx, "BTCUSDT", arb.OrderMarket, arb.SideBuy, 0.1, 0)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != arb.OrderFilled {
		t.Fatalf("expected immediate fill, got %s", order.Status)
	}
	want := 50000 * (1 + marketSlippage)
	if math.Abs(order.AvgFillPrice-want) > 1e-9 {
		t.Fatalf("expected fill at %v, got %v", want, order.AvgFillPrice)
	}

	sell, err := v.CreateOrder(ctx, "ETH-MISSING", arb.OrderMarket, arb.SideSell, 0.1, 0)
	if err == nil {
		t.Fatalf("expected error for unknown symbol, got order %+v", sell)
	}
}

func TestPositionAggregatesSameSide(t *testing.T) {
	v, _ := newTestVenue(100, 0.01)
	ctx := context.Background()

	// Two buys at different effective prices average the entry.
	if _, err := v.CreateOrder(ctx, "BTCUSDT", arb.OrderLimit, arb.SideBuy, 1, 100); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := v.CreateOrder(ctx, "BTCUSDT", arb.OrderLimit, arb.SideBuy, 1, 200); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	pos, ok, err := v.GetPosition(ctx, "BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("get position: ok=%v err=%v", ok, err)
	}
	if pos.Amount != 2 {
		t.Fatalf("expected amount 2, got %v", pos.Amount)
	}
	if pos.EntryPrice != 150 {
		t.Fatalf("expected weighted entry 150, got %v", pos.EntryPrice)
	}
}

func TestPositionReducesProportionally(t *testing.T) {
	v, _ := newTestVenue(100, 0.01)
	ctx := context.Background()

	if _, err := v.CreateOrder(ctx, "BTCUSDT", arb.OrderLimit, arb.SideBuy, 2, 100); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := v.CreateOrder(ctx, "BTCUSDT", arb.OrderLimit, arb.SideSell, 1, 120); err != nil {
		t.Fatalf("partial sell: %v", err)
	}

	pos, ok, _ := v.GetPosition(ctx, "BTCUSDT")
	if !ok {
		t.Fatal("expected position to remain")
	}
	if pos.Amount != 1 {
		t.Fatalf("expected amount 1, got %v", pos.Amount)
	}
	if pos.RealizedPnL != 20 {
		t.Fatalf("expected realized 20, got %v", pos.RealizedPnL)
	}
}

func TestPositionFlipsOnOverfill(t *testing.T) {
	v, _ := newTestVenue(100, 0.01)
	ctx := context.Background()

	if _, err := v.CreateOrder(ctx, "BTCUSDT", arb.OrderLimit, arb.SideBuy, 1, 100); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := v.CreateOrder(ctx, "BTCUSDT", arb.OrderLimit, arb.SideSell, 3, 110); err != nil {
		t.Fatalf("overfill sell: %v", err)
	}

	pos, ok, _ := v.GetPosition(ctx, "BTCUSDT")
	if !ok {
		t.Fatal("expected flipped position")
	}
	if pos.Side != arb.SideSell {
		t.Fatalf("expected flipped short, got %s", pos.Side)
	}
	if pos.Amount != 2 {
		t.Fatalf("expected amount 2, got %v", pos.Amount)
	}
	if pos.RealizedPnL != 10 {
		t.Fatalf("expected realized 10 from the closed long, got %v", pos.RealizedPnL)
	}
}

func TestPositionClosesExactly(t *testing.T) {
	v, _ := newTestVenue(100, 0.01)
	ctx := context.Background()

	if _, err := v.CreateOrder(ctx, "BTCUSDT", arb.OrderLimit, arb.SideBuy, 1.5, 100); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := v.CreateOrder(ctx, "BTCUSDT", arb.OrderLimit, arb.SideSell, 1.5, 100); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok, _ := v.GetPosition(ctx, "BTCUSDT"); ok {
		t.Fatal("expected position removed on exact close")
	}
}

func TestSyntheticOrderBookShape(t *testing.T) {
	v, _ := newTestVenue(50000, 0.01)
	book, err := v.GetOrderBook(context.Background(), "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("get order book: %v", err)
	}
	if len(book.Bids) != 5 || len(book.Asks) != 5 {
		t.Fatalf("expected 5 levels each side, got %d/%d", len(book.Bids), len(book.Asks))
	}
	if book.Bids[0].Price >= book.Asks[0].Price {
		t.Fatalf("crossed book: bid %v >= ask %v", book.Bids[0].Price, book.Asks[0].Price)
	}
	for i := 1; i < 5; i++ {
		if book.Bids[i].Size >= book.Bids[i-1].Size {
			t.Fatalf("depth must thin away from the top: %v then %v", book.Bids[i-1].Size, book.Bids[i].Size)
		}
	}
}

func TestNextFundingTime(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	next := nextFundingTime(at)
	want := time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
	// On the boundary the next settlement is the boundary itself.
	boundary := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	if got := nextFundingTime(boundary); !got.Equal(boundary) {
		t.Fatalf("expected %s, got %s", boundary, got)
	}
}

func TestClockAdvance(t *testing.T) {
	clock := NewClock(t0)
	clock.Advance(time.Hour)
	if !clock.Now().Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected %s, got %s", t0.Add(time.Hour), clock.Now())
	}
	clock.Set(t0)
	if !clock.Now().Equal(t0) {
		t.Fatalf("expected reset to %s, got %s", t0, clock.Now())
	}
}
