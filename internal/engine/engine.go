// Package engine wires the feed worker, the market state services and
// the request cache behind one facade. All decoded market data flows
// through a single dispatch goroutine, so the services never see
// concurrent writes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"krader/internal/domain"
	"krader/internal/event"
	"krader/internal/infra"
	"krader/internal/infra/cache"
	"krader/internal/infra/kraken"
	"krader/internal/service"
)

// DefaultInboxSize bounds the decoded-message queue between the read
// loop and the dispatch loop.
const DefaultInboxSize = 1024

// feed is the engine's view of the connection manager.
type feed interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(pair domain.Pair, channel string)
	Unsubscribe(pair domain.Pair, channel string)
	RequestBookSnapshot(pair domain.Pair)
}

// referenceClient fetches reference payloads from the upstream REST API.
type referenceClient interface {
	AssetPair(ctx context.Context, pair domain.Pair) ([]byte, error)
	Ticker(ctx context.Context, pair domain.Pair) ([]byte, error)
}

// Engine is the market data facade: subscribe to pairs, read books and
// tickers, receive change events, fetch cached reference data.
type Engine struct {
	cfg     *infra.Config
	inbox   chan kraken.Message
	worker  feed
	books   *service.BookService
	tickers *service.TickerService
	bus     *event.Bus
	cache   *cache.Cache
	rest    referenceClient
}

// New assembles an engine from the configuration. store may be nil;
// with disk caching enabled it backs the request cache across restarts.
func New(cfg *infra.Config, store cache.Store) *Engine {
	e := &Engine{
		cfg:   cfg,
		inbox: make(chan kraken.Message, DefaultInboxSize),
		bus:   event.NewBus(),
		rest:  kraken.NewRESTClient(cfg.Feed.RestURL),
	}

	worker := kraken.NewWorker(kraken.WorkerConfig{
		URL:             cfg.Feed.WSURL,
		BookDepth:       cfg.Book.Depth,
		AckTimeout:      cfg.AckTimeout(),
		LivenessTimeout: cfg.LivenessTimeout(),
		ReadTimeout:     cfg.ReadTimeout(),
		BackoffInitial:  cfg.BackoffInitial(),
		BackoffMax:      cfg.BackoffMax(),
	}, e.inbox, e.onSessionState, e.onResync)
	e.worker = worker

	e.books = service.NewBookService(e.bus, worker, cfg.Book.Depth, cfg.Book.PendingCap)
	e.tickers = service.NewTickerService(e.bus, cfg.Ticker.Epsilon)

	var diskStore cache.Store
	if cfg.Cache.DiskBacked && store != nil {
		diskStore = store
	}
	e.cache = cache.New(cfg.CacheTTL(), cfg.CacheIdle(), diskStore)

	return e
}

// Run connects the feed and drives the dispatch loop until ctx is
// cancelled. It must be the only goroutine draining the inbox.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.worker.Connect(ctx); err != nil {
		return err
	}
	slog.Info("Engine dispatch loop started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Engine dispatch loop stopping")
			return nil
		case msg := <-e.inbox:
			e.dispatch(msg)
		}
	}
}

// Close releases the feed, the cache janitor and every event
// subscription.
func (e *Engine) Close() {
	e.worker.Disconnect()
	e.cache.Close()
	e.bus.Close()
}

// Subscribe starts tracking ticker and book state for the pair.
// Idempotent.
func (e *Engine) Subscribe(pair domain.Pair) {
	e.books.Track(pair)
	e.tickers.Track(pair)
	e.worker.Subscribe(pair, kraken.SubTicker)
	e.worker.Subscribe(pair, kraken.SubBook)
	infra.GlobalMetrics.SetTrackedPairs(int32(len(e.books.Tracked())))
	slog.Info("Tracking pair", slog.String("pair", pair.String()))
}

// Unsubscribe stops tracking the pair and drops its state. Idempotent.
func (e *Engine) Unsubscribe(pair domain.Pair) {
	e.worker.Unsubscribe(pair, kraken.SubTicker)
	e.worker.Unsubscribe(pair, kraken.SubBook)
	e.books.Forget(pair)
	e.tickers.Forget(pair)
	infra.GlobalMetrics.SetTrackedPairs(int32(len(e.books.Tracked())))
	slog.Info("Dropped pair", slog.String("pair", pair.String()))
}

// CurrentBook returns an immutable book snapshot limited to depth
// levels per side (<=0 uses the configured depth).
func (e *Engine) CurrentBook(pair domain.Pair, depth int) (domain.BookSnapshot, error) {
	return e.books.Book(pair, depth)
}

// CurrentTicker returns the pair's last-trade / best-quote snapshot.
func (e *Engine) CurrentTicker(pair domain.Pair) (domain.TickerSnapshot, error) {
	return e.tickers.Ticker(pair)
}

// Events subscribes to the update bus. Slow consumers lose their oldest
// buffered events, never anyone else's.
func (e *Engine) Events(buffer int) (event.SubscriptionID, <-chan event.Event) {
	return e.bus.Subscribe(buffer)
}

// Drop cancels an event subscription.
func (e *Engine) Drop(id event.SubscriptionID) {
	e.bus.Unsubscribe(id)
}

// Reference cache key prefixes.
const (
	KeyPairMeta = "pairmeta:"
	KeyTicker   = "ticker:"
)

// tickerTTL bounds REST ticker freshness. Pair metadata changes rarely
// and keeps the cache-wide default; a ticker summary is useless within
// minutes, so it expires on a polling cadence instead.
const tickerTTL = 5 * time.Second

// FetchReference returns the cached payload for a reference key, e.g.
// "pairmeta:BTC/USD" or "ticker:ETH/USD". Concurrent fetches for the
// same key collapse into one upstream call.
func (e *Engine) FetchReference(ctx context.Context, key string) ([]byte, error) {
	fn, ttl, err := e.referenceFetcher(key)
	if err != nil {
		return nil, err
	}
	return e.cache.Fetch(ctx, key, ttl, fn)
}

// PairMetadata returns the reference metadata for one pair, through
// the cache.
func (e *Engine) PairMetadata(ctx context.Context, pair domain.Pair) (*kraken.PairMeta, error) {
	payload, err := e.FetchReference(ctx, KeyPairMeta+pair.String())
	if err != nil {
		return nil, err
	}
	return kraken.ParseAssetPair(payload)
}

// RestTicker returns the REST ticker summary for one pair, through the
// cache. Useful to prime display state before the stream warms up.
func (e *Engine) RestTicker(ctx context.Context, pair domain.Pair) (*kraken.RestTicker, error) {
	payload, err := e.FetchReference(ctx, KeyTicker+pair.String())
	if err != nil {
		return nil, err
	}
	return kraken.ParseTicker(payload)
}

func (e *Engine) referenceFetcher(key string) (cache.FetchFunc, time.Duration, error) {
	switch {
	case strings.HasPrefix(key, KeyPairMeta):
		pair, err := domain.ParsePair(strings.TrimPrefix(key, KeyPairMeta))
		if err != nil {
			return nil, 0, err
		}
		return func(ctx context.Context) ([]byte, error) {
			return e.rest.AssetPair(ctx, pair)
		}, 0, nil
	case strings.HasPrefix(key, KeyTicker):
		pair, err := domain.ParsePair(strings.TrimPrefix(key, KeyTicker))
		if err != nil {
			return nil, 0, err
		}
		return func(ctx context.Context) ([]byte, error) {
			return e.rest.Ticker(ctx, pair)
		}, tickerTTL, nil
	default:
		return nil, 0, fmt.Errorf("unknown reference key: %q", key)
	}
}

// dispatch routes one decoded message to its service. Runs only on the
// Run goroutine; pooled messages are released here once applied.
func (e *Engine) dispatch(msg kraken.Message) {
	switch m := msg.(type) {
	case *kraken.TickerUpdate:
		e.tickers.ApplyTicker(toDomainTicker(m))
		kraken.ReleaseTickerUpdate(m)
	case *kraken.BookSnapshot:
		e.books.ApplySnapshot(m.Pair, m.Bids, m.Asks, m.Sequence)
		e.feedTopOfBook(m.Pair)
	case *kraken.BookDelta:
		e.books.ApplyDelta(m.Pair, m.Bids, m.Asks, m.Sequence)
		e.feedTopOfBook(m.Pair)
		kraken.ReleaseBookDelta(m)
	case *kraken.SubscriptionReject:
		e.bus.Publish(event.Event{
			Pair: m.Pair,
			Kind: event.KindSubscriptionError,
			SubErr: &domain.SubscriptionError{
				Pair:      m.Pair,
				Channel:   m.Channel,
				Reason:    m.Reason,
				Transient: m.Transient,
			},
		})
	case kraken.GenericError:
		slog.Warn("Feed error frame", slog.String("reason", m.Reason))
	default:
		slog.Debug("Ignoring message", slog.Any("type", fmt.Sprintf("%T", msg)))
	}
}

// feedTopOfBook pushes the book's best quotes into the ticker view.
func (e *Engine) feedTopOfBook(pair domain.Pair) {
	bid, ask, ok := e.books.TopOfBook(pair)
	if !ok {
		return
	}
	e.tickers.ApplyTopOfBook(pair, bid.Price, ask.Price, time.Now())
}

// toDomainTicker converts a wire ticker into the field-optional domain
// form. Zero-valued wire fields were absent from the frame.
func toDomainTicker(m *kraken.TickerUpdate) domain.TickerUpdate {
	u := domain.TickerUpdate{Pair: m.Pair, Timestamp: m.Timestamp}
	if !m.Last.IsZero() {
		last := m.Last
		u.Last = &last
	}
	if !m.Bid.IsZero() {
		bid := m.Bid
		u.Bid = &bid
	}
	if !m.Ask.IsZero() {
		ask := m.Ask
		u.Ask = &ask
	}
	if !m.Volume.IsZero() {
		volume := m.Volume
		u.Volume = &volume
	}
	return u
}

// onSessionState surfaces connection lifecycle changes on the bus.
func (e *Engine) onSessionState(state kraken.SessionState) {
	e.bus.Publish(event.Event{
		Kind:  event.KindConnectionStateChanged,
		State: state.String(),
	})
}

// onResync stales a book whose subscription was replayed after a
// reconnect; the feed answers the replay with a fresh snapshot.
func (e *Engine) onResync(pair domain.Pair) {
	e.books.MarkStale(pair)
}
