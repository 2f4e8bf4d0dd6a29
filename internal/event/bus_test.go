package event

import (
	"testing"

	"krader/internal/domain"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	id1, ch1 := bus.Subscribe(4)
	_, ch2 := bus.Subscribe(4)

	btc := domain.Pair{Base: "BTC", Quote: "USD"}
	bus.Publish(Event{Pair: btc, Kind: KindTickerChanged})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != KindTickerChanged || ev.Pair != btc {
				t.Errorf("Consumer %d got wrong event: %+v", i, ev)
			}
		default:
			t.Errorf("Consumer %d received nothing", i)
		}
	}

	bus.Unsubscribe(id1)
	if bus.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	// ch1 must be closed, ch2 unaffected.
	if _, open := <-ch1; open {
		t.Error("Unsubscribed channel should be closed")
	}
	bus.Publish(Event{Pair: btc, Kind: KindBookChanged})
	select {
	case ev := <-ch2:
		if ev.Kind != KindBookChanged {
			t.Errorf("Expected BookChanged, got %s", ev.Kind)
		}
	default:
		t.Error("Remaining consumer should still receive events")
	}
}

func TestBus_DropOldest(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, ch := bus.Subscribe(2)
	btc := domain.Pair{Base: "BTC", Quote: "USD"}

	// Three publishes into a buffer of two: the first must be evicted.
	bus.Publish(Event{Pair: btc, Kind: KindTickerChanged, State: "a"})
	bus.Publish(Event{Pair: btc, Kind: KindTickerChanged, State: "b"})
	bus.Publish(Event{Pair: btc, Kind: KindTickerChanged, State: "c"})

	if bus.Dropped() != 1 {
		t.Errorf("Expected 1 drop, got %d", bus.Dropped())
	}

	got := []string{}
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.State)
		default:
			t.Fatalf("Queue drained early: %v", got)
		}
	}
	if got[0] != "b" || got[1] != "c" {
		t.Errorf("Expected latest-N events [b c], got %v", got)
	}
}

func TestBus_CloseIsSafe(t *testing.T) {
	bus := NewBus()
	_, ch := bus.Subscribe(1)

	bus.Close()
	bus.Close() // idempotent

	if _, open := <-ch; open {
		t.Error("Close should close subscriber channels")
	}

	// Publishing and subscribing after close must not panic.
	bus.Publish(Event{Kind: KindConnectionStateChanged})
	_, dead := bus.Subscribe(1)
	if _, open := <-dead; open {
		t.Error("Subscribe after close should return a closed channel")
	}
}
