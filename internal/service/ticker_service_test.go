package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/domain"
	"krader/internal/event"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decP(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func drainEvents(ch <-chan event.Event) []event.Event {
	var out []event.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestTickerService_FirstTradeAlwaysPublishes(t *testing.T) {
	pair := btcusd(t)
	bus := event.NewBus()
	_, ch := bus.Subscribe(8)

	svc := NewTickerService(bus, dec("0.0001"))
	svc.Track(pair)
	svc.ApplyTicker(domain.TickerUpdate{Pair: pair, Last: decP("64250.5"), Timestamp: time.Now()})

	evs := drainEvents(ch)
	if len(evs) != 1 {
		t.Fatalf("Events = %d, want 1", len(evs))
	}
	if evs[0].Kind != event.KindTickerChanged || evs[0].Ticker == nil {
		t.Fatalf("Event = %+v", evs[0])
	}
	if !evs[0].Ticker.LastPrice.Equal(dec("64250.5")) {
		t.Errorf("LastPrice = %s", evs[0].Ticker.LastPrice)
	}
}

func TestTickerService_EpsilonThrottle(t *testing.T) {
	pair := btcusd(t)
	bus := event.NewBus()
	_, ch := bus.Subscribe(16)

	svc := NewTickerService(bus, dec("0.001")) // 0.1%
	svc.Track(pair)

	base := time.Now()
	svc.ApplyTicker(domain.TickerUpdate{Pair: pair, Last: decP("10000"), Timestamp: base})
	// +0.005% move: below epsilon, stored but not published.
	svc.ApplyTicker(domain.TickerUpdate{Pair: pair, Last: decP("10000.5"), Timestamp: base.Add(time.Second)})
	// +0.2% versus the last published price: clears the throttle.
	svc.ApplyTicker(domain.TickerUpdate{Pair: pair, Last: decP("10020"), Timestamp: base.Add(2 * time.Second)})

	evs := drainEvents(ch)
	if len(evs) != 2 {
		t.Fatalf("Events = %d, want 2 (first trade plus the 0.2%% move)", len(evs))
	}
	if !evs[1].Ticker.LastPrice.Equal(dec("10020")) {
		t.Errorf("Second published price = %s", evs[1].Ticker.LastPrice)
	}

	// The suppressed value still landed in the readable snapshot at the
	// time it arrived.
	snap, err := svc.Ticker(pair)
	if err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if !snap.LastPrice.Equal(dec("10020")) {
		t.Errorf("Snapshot price = %s", snap.LastPrice)
	}
}

func TestTickerService_StaleTimestampIgnored(t *testing.T) {
	pair := btcusd(t)
	svc := NewTickerService(event.NewBus(), dec("0.0001"))
	svc.Track(pair)

	base := time.Now()
	svc.ApplyTicker(domain.TickerUpdate{Pair: pair, Last: decP("200"), Timestamp: base})
	// An older frame must not regress the price.
	svc.ApplyTicker(domain.TickerUpdate{Pair: pair, Last: decP("100"), Timestamp: base.Add(-time.Minute)})

	snap, _ := svc.Ticker(pair)
	if !snap.LastPrice.Equal(dec("200")) {
		t.Errorf("LastPrice = %s, want 200", snap.LastPrice)
	}
}

func TestTickerService_TopOfBookFeedsQuotes(t *testing.T) {
	pair := btcusd(t)
	bus := event.NewBus()
	_, ch := bus.Subscribe(8)

	svc := NewTickerService(bus, dec("0.0001"))
	svc.Track(pair)
	svc.ApplyTopOfBook(pair, dec("64250"), dec("64251"), time.Now())

	snap, _ := svc.Ticker(pair)
	if !snap.BestBid.Equal(dec("64250")) || !snap.BestAsk.Equal(dec("64251")) {
		t.Errorf("Quotes = %s / %s", snap.BestBid, snap.BestAsk)
	}
	if !snap.Mid().Equal(dec("64250.5")) {
		t.Errorf("Mid = %s", snap.Mid())
	}
	if len(drainEvents(ch)) != 1 {
		t.Error("First quote should publish")
	}
}

func TestTickerService_UntrackedDropped(t *testing.T) {
	pair := btcusd(t)
	svc := NewTickerService(event.NewBus(), dec("0.0001"))

	svc.ApplyTicker(domain.TickerUpdate{Pair: pair, Last: decP("1"), Timestamp: time.Now()})
	if _, err := svc.Ticker(pair); err != domain.ErrNotTracked {
		t.Errorf("Ticker error = %v, want ErrNotTracked", err)
	}
}

func TestTickerService_ForgetDropsState(t *testing.T) {
	pair := btcusd(t)
	svc := NewTickerService(event.NewBus(), dec("0.0001"))
	svc.Track(pair)
	svc.ApplyTicker(domain.TickerUpdate{Pair: pair, Last: decP("5"), Timestamp: time.Now()})
	svc.Forget(pair)

	if _, err := svc.Ticker(pair); err != domain.ErrNotTracked {
		t.Errorf("Ticker error = %v, want ErrNotTracked", err)
	}
}
