package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/domain"
	"krader/internal/event"
	"krader/internal/infra/cache"
	"krader/internal/infra/kraken"
	"krader/internal/service"
)

type fakeFeed struct {
	mu      sync.Mutex
	subs    []string
	unsubs  []string
	resyncs []domain.Pair
}

func (f *fakeFeed) Connect(ctx context.Context) error { return nil }
func (f *fakeFeed) Disconnect()                       {}

func (f *fakeFeed) Subscribe(pair domain.Pair, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, pair.String()+":"+channel)
}

func (f *fakeFeed) Unsubscribe(pair domain.Pair, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, pair.String()+":"+channel)
}

func (f *fakeFeed) RequestBookSnapshot(pair domain.Pair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs = append(f.resyncs, pair)
}

type fakeRest struct {
	assetPairCalls atomic.Int64
	tickerCalls    atomic.Int64
}

func (r *fakeRest) AssetPair(ctx context.Context, pair domain.Pair) ([]byte, error) {
	r.assetPairCalls.Add(1)
	return []byte(`{"error":[],"result":{"XXBTZUSD":{"wsname":"XBT/USD","base":"XXBT","quote":"ZUSD","pair_decimals":1,"lot_decimals":8,"ordermin":"0.0001"}}}`), nil
}

func (r *fakeRest) Ticker(ctx context.Context, pair domain.Pair) ([]byte, error) {
	r.tickerCalls.Add(1)
	return []byte(`{"error":[],"result":{"XXBTZUSD":{"a":["101","1","1"],"b":["100","1","1"],"c":["100.5","0.1"],"v":["10","20"]}}}`), nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeFeed) {
	t.Helper()
	f := &fakeFeed{}
	bus := event.NewBus()
	e := &Engine{
		inbox:   make(chan kraken.Message, 64),
		worker:  f,
		bus:     bus,
		rest:    &fakeRest{},
		books:   service.NewBookService(bus, f, 10, 16),
		tickers: service.NewTickerService(bus, decimal.RequireFromString("0.0001")),
		cache:   cache.New(time.Minute, time.Hour, nil),
	}
	t.Cleanup(e.cache.Close)
	return e, f
}

func pair(t *testing.T, s string) domain.Pair {
	t.Helper()
	p, err := domain.ParsePair(s)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEngine_SubscribeWiresBothChannels(t *testing.T) {
	e, f := newTestEngine(t)
	p := pair(t, "BTC/USD")

	e.Subscribe(p)

	f.mu.Lock()
	subs := append([]string(nil), f.subs...)
	f.mu.Unlock()
	if len(subs) != 2 {
		t.Fatalf("Subscriptions = %v, want ticker and book", subs)
	}

	if _, err := e.CurrentBook(p, 0); err != nil {
		t.Errorf("CurrentBook after subscribe: %v", err)
	}
	if _, err := e.CurrentTicker(p); err != nil {
		t.Errorf("CurrentTicker after subscribe: %v", err)
	}

	e.Unsubscribe(p)
	if _, err := e.CurrentBook(p, 0); err != domain.ErrNotTracked {
		t.Errorf("CurrentBook after unsubscribe = %v, want ErrNotTracked", err)
	}
}

func TestEngine_DispatchTicker(t *testing.T) {
	e, _ := newTestEngine(t)
	p := pair(t, "BTC/USD")
	e.Subscribe(p)

	_, events := e.Events(8)

	tick := kraken.AcquireTickerUpdate()
	tick.Pair = p
	tick.Last = decimal.RequireFromString("64250.5")
	tick.Volume = decimal.NewFromInt(10)
	tick.Timestamp = time.Now()
	e.dispatch(tick)

	snap, err := e.CurrentTicker(p)
	if err != nil {
		t.Fatalf("CurrentTicker: %v", err)
	}
	if !snap.LastPrice.Equal(decimal.RequireFromString("64250.5")) {
		t.Errorf("LastPrice = %s", snap.LastPrice)
	}

	select {
	case ev := <-events:
		if ev.Kind != event.KindTickerChanged {
			t.Errorf("Event kind = %s", ev.Kind)
		}
	default:
		t.Error("Expected a ticker event")
	}
}

func TestEngine_DispatchBookFeedsTickerQuotes(t *testing.T) {
	e, _ := newTestEngine(t)
	p := pair(t, "BTC/USD")
	e.Subscribe(p)

	e.dispatch(&kraken.BookSnapshot{
		Pair: p,
		Bids: []domain.BookLevel{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}},
		Asks: []domain.BookLevel{{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(1)}},
		Sequence: 5,
	})

	book, err := e.CurrentBook(p, 0)
	if err != nil {
		t.Fatalf("CurrentBook: %v", err)
	}
	if book.Sequence != 5 || book.Status != domain.BookLive {
		t.Errorf("Book = seq %d status %s", book.Sequence, book.Status)
	}

	tick, err := e.CurrentTicker(p)
	if err != nil {
		t.Fatalf("CurrentTicker: %v", err)
	}
	if !tick.BestBid.Equal(decimal.NewFromInt(100)) || !tick.BestAsk.Equal(decimal.NewFromInt(101)) {
		t.Errorf("Quotes = %s / %s, want the book top", tick.BestBid, tick.BestAsk)
	}
}

func TestEngine_DispatchReject(t *testing.T) {
	e, _ := newTestEngine(t)
	p := pair(t, "ZZZ/USD")
	_, events := e.Events(8)

	e.dispatch(&kraken.SubscriptionReject{
		Pair:    p,
		Channel: kraken.SubBook,
		Reason:  "Currency pair not supported",
	})

	select {
	case ev := <-events:
		if ev.Kind != event.KindSubscriptionError || ev.SubErr == nil {
			t.Fatalf("Event = %+v", ev)
		}
		if ev.SubErr.Reason != "Currency pair not supported" {
			t.Errorf("Reason = %q", ev.SubErr.Reason)
		}
	default:
		t.Error("Expected a subscription error event")
	}
}

func TestEngine_RunDrainsInbox(t *testing.T) {
	e, _ := newTestEngine(t)
	p := pair(t, "ETH/USD")
	e.Subscribe(p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	tick := kraken.AcquireTickerUpdate()
	tick.Pair = p
	tick.Last = decimal.NewFromInt(3500)
	tick.Timestamp = time.Now()
	e.inbox <- tick

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := e.CurrentTicker(p)
		if err == nil && snap.LastPrice.Equal(decimal.NewFromInt(3500)) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap, err := e.CurrentTicker(p)
	if err != nil || !snap.LastPrice.Equal(decimal.NewFromInt(3500)) {
		t.Errorf("Ticker after Run dispatch = %+v, %v", snap, err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestEngine_ResyncStalesBook(t *testing.T) {
	e, _ := newTestEngine(t)
	p := pair(t, "BTC/USD")
	e.Subscribe(p)

	e.dispatch(&kraken.BookSnapshot{
		Pair: p,
		Bids: []domain.BookLevel{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}},
		Asks: []domain.BookLevel{{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(1)}},
		Sequence: 5,
	})

	e.onResync(p)

	book, _ := e.CurrentBook(p, 0)
	if book.Status != domain.BookStale {
		t.Errorf("Status after resync = %s, want stale", book.Status)
	}
}

func TestEngine_FetchReference(t *testing.T) {
	e, _ := newTestEngine(t)
	rest := e.rest.(*fakeRest)
	p := pair(t, "BTC/USD")

	meta, err := e.PairMetadata(context.Background(), p)
	if err != nil {
		t.Fatalf("PairMetadata: %v", err)
	}
	if meta.WSName != "XBT/USD" {
		t.Errorf("WSName = %q", meta.WSName)
	}

	// Second call is served from the cache.
	if _, err := e.PairMetadata(context.Background(), p); err != nil {
		t.Fatalf("PairMetadata (cached): %v", err)
	}
	if got := rest.assetPairCalls.Load(); got != 1 {
		t.Errorf("Upstream calls = %d, want 1", got)
	}

	tick, err := e.RestTicker(context.Background(), p)
	if err != nil {
		t.Fatalf("RestTicker: %v", err)
	}
	if !tick.Last.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("Last = %s", tick.Last)
	}

	if _, err := e.FetchReference(context.Background(), "bogus:key"); err == nil {
		t.Error("Expected error for unknown reference key")
	}
}
