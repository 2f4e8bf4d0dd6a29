package service

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/domain"
	"krader/internal/event"
)

type tickerState struct {
	snap      domain.TickerSnapshot
	published bool
	pubPrice  decimal.Decimal
	pubBid    decimal.Decimal
	pubAsk    decimal.Decimal
}

// TickerService maintains the per-pair last-trade and best-quote view.
// Publishes are throttled: only the first trade, or a relative price or
// quote move at least epsilon, reaches the bus. The stored snapshot
// always carries the latest values regardless of throttling.
type TickerService struct {
	mu      sync.RWMutex
	tickers map[domain.Pair]*tickerState

	bus     *event.Bus
	epsilon decimal.Decimal
}

// NewTickerService creates the ticker store. epsilon is the minimum
// relative move worth publishing (e.g. 0.0001 for one basis point).
func NewTickerService(bus *event.Bus, epsilon decimal.Decimal) *TickerService {
	return &TickerService{
		tickers: make(map[domain.Pair]*tickerState),
		bus:     bus,
		epsilon: epsilon,
	}
}

// Track starts maintaining ticker state for the pair. Idempotent.
func (s *TickerService) Track(pair domain.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickers[pair]; ok {
		return
	}
	s.tickers[pair] = &tickerState{snap: domain.TickerSnapshot{Pair: pair}}
}

// Forget drops all ticker state for the pair. Idempotent.
func (s *TickerService) Forget(pair domain.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickers, pair)
}

// ApplyTicker folds a ticker message into the pair's snapshot and
// publishes when the move clears the throttle. Updates for untracked
// pairs are dropped.
func (s *TickerService) ApplyTicker(u domain.TickerUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tickers[u.Pair]
	if !ok {
		return
	}

	ch := st.snap.Merge(u)
	if !ch.Any() {
		return
	}
	if s.worthPublishing(st, ch) {
		s.publishLocked(st)
	}
}

// ApplyTopOfBook feeds the book's best bid and ask into the quote
// fields, with the same throttling as direct ticker updates.
func (s *TickerService) ApplyTopOfBook(pair domain.Pair, bid, ask decimal.Decimal, at time.Time) {
	s.ApplyTicker(domain.TickerUpdate{
		Pair:      pair,
		Bid:       &bid,
		Ask:       &ask,
		Timestamp: at,
	})
}

// Ticker returns the current snapshot for the pair.
func (s *TickerService) Ticker(pair domain.Pair) (domain.TickerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.tickers[pair]
	if !ok {
		return domain.TickerSnapshot{}, domain.ErrNotTracked
	}
	return st.snap, nil
}

// worthPublishing decides whether the merged changes clear the
// epsilon throttle against the last published values.
func (s *TickerService) worthPublishing(st *tickerState, ch domain.TickerChanges) bool {
	if !st.published {
		return true
	}
	if ch.Trade && s.moved(st.pubPrice, st.snap.LastPrice) {
		return true
	}
	if ch.Quote && (s.moved(st.pubBid, st.snap.BestBid) || s.moved(st.pubAsk, st.snap.BestAsk)) {
		return true
	}
	return false
}

// moved reports whether the relative move from prev to curr is at
// least epsilon. A field seen for the first time always counts as moved.
func (s *TickerService) moved(prev, curr decimal.Decimal) bool {
	if prev.IsZero() {
		return !curr.IsZero()
	}
	rel := curr.Sub(prev).Abs().Div(prev.Abs())
	return rel.GreaterThanOrEqual(s.epsilon)
}

func (s *TickerService) publishLocked(st *tickerState) {
	st.published = true
	st.pubPrice = st.snap.LastPrice
	st.pubBid = st.snap.BestBid
	st.pubAsk = st.snap.BestAsk

	if s.bus == nil {
		return
	}
	snap := st.snap
	s.bus.Publish(event.Event{
		Pair:   snap.Pair,
		Kind:   event.KindTickerChanged,
		Ticker: &snap,
	})
}
