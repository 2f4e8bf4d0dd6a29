// Package service holds the market state services: the order book
// reconciler and the ticker state store. Both are driven by the engine
// dispatch loop and publish change events on the update bus.
package service

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gammazero/deque"

	"krader/internal/domain"
	"krader/internal/event"
	"krader/internal/infra"
)

// bufferedDelta is a queued incremental change waiting for a snapshot.
// Levels are owned copies; queued deltas outlive their wire frames.
type bufferedDelta struct {
	bids []domain.BookLevel
	asks []domain.BookLevel
	seq  uint64
}

type bookState struct {
	book            *domain.OrderBook
	pending         deque.Deque[bufferedDelta]
	resyncRequested bool
}

// BookService reconciles per-pair order books from snapshot and delta
// frames. Deltas arriving while a book is not live are buffered and
// replayed once the snapshot lands; sequence gaps and crossed books
// trigger one resync request per incident.
type BookService struct {
	mu    sync.RWMutex
	books map[domain.Pair]*bookState

	bus        *event.Bus
	requester  domain.SnapshotRequester
	depth      int
	pendingCap int
}

// NewBookService creates the reconciler. depth bounds published
// snapshots; pendingCap bounds the per-pair delta buffer.
func NewBookService(bus *event.Bus, requester domain.SnapshotRequester, depth, pendingCap int) *BookService {
	if pendingCap <= 0 {
		pendingCap = 256
	}
	return &BookService{
		books:      make(map[domain.Pair]*bookState),
		bus:        bus,
		requester:  requester,
		depth:      depth,
		pendingCap: pendingCap,
	}
}

// Track starts reconciling the pair. Idempotent.
func (s *BookService) Track(pair domain.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[pair]; ok {
		return
	}
	s.books[pair] = &bookState{book: domain.NewOrderBook(pair)}
}

// Forget drops all state for the pair. Idempotent.
func (s *BookService) Forget(pair domain.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, pair)
}

// Tracked returns the pairs currently reconciled.
func (s *BookService) Tracked() []domain.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := make([]domain.Pair, 0, len(s.books))
	for p := range s.books {
		pairs = append(pairs, p)
	}
	return pairs
}

// ApplySnapshot installs a full book and replays any buffered deltas
// newer than the snapshot. Frames for untracked pairs are dropped. A
// crossed snapshot is rejected, the book stays out of service and one
// resync is requested.
func (s *BookService) ApplySnapshot(pair domain.Pair, bids, asks []domain.BookLevel, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.books[pair]
	if !ok {
		return
	}

	if err := st.book.ApplySnapshot(bids, asks, seq); err != nil {
		slog.Warn("Snapshot rejected, resyncing",
			slog.String("pair", pair.String()),
			slog.Any("error", err),
		)
		s.recordApplyError(err)
		st.pending.Clear()
		st.resyncRequested = false
		s.requestResyncLocked(pair, st)
		return
	}
	st.resyncRequested = false

	// Replay queued deltas; anything at or below the snapshot sequence
	// is already folded in.
	for st.pending.Len() > 0 {
		d := st.pending.PopFront()
		if d.seq <= seq {
			continue
		}
		if err := st.book.ApplyDelta(d.bids, d.asks, d.seq); err != nil {
			slog.Warn("Buffered delta replay failed",
				slog.String("pair", pair.String()),
				slog.Any("error", err),
			)
			s.recordApplyError(err)
			s.requestResyncLocked(pair, st)
			break
		}
	}

	s.publishLocked(st)
}

// ApplyDelta folds one incremental change into the pair's book. While
// the book is not live the delta is buffered (bounded, oldest dropped).
// A gap or crossed book stales the book, buffers the delta and asks for
// one resync.
func (s *BookService) ApplyDelta(pair domain.Pair, bids, asks []domain.BookLevel, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.books[pair]
	if !ok {
		return
	}

	if st.book.Status() != domain.BookLive {
		s.bufferLocked(st, bids, asks, seq)
		s.requestResyncLocked(pair, st)
		return
	}

	if err := st.book.ApplyDelta(bids, asks, seq); err != nil {
		slog.Warn("Book apply failed, resyncing",
			slog.String("pair", pair.String()),
			slog.Any("error", err),
		)
		s.recordApplyError(err)
		s.bufferLocked(st, bids, asks, seq)
		s.requestResyncLocked(pair, st)
		return
	}

	s.publishLocked(st)
}

// MarkStale flags the pair's book as unusable until the next snapshot.
// The caller is expected to produce that snapshot; no resync request is
// issued here.
func (s *BookService) MarkStale(pair domain.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.books[pair]
	if !ok {
		return
	}
	st.book.MarkStale()
	st.pending.Clear()
	st.resyncRequested = true
}

// Book returns an immutable snapshot limited to depth levels per side
// (<=0 uses the service depth).
func (s *BookService) Book(pair domain.Pair, depth int) (domain.BookSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.books[pair]
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotTracked
	}
	if depth <= 0 {
		depth = s.depth
	}
	return st.book.Snapshot(depth), nil
}

// TopOfBook returns the best bid and ask when the book is live.
func (s *BookService) TopOfBook(pair domain.Pair) (bid, ask domain.BookLevel, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, found := s.books[pair]
	if !found || st.book.Status() != domain.BookLive {
		return domain.BookLevel{}, domain.BookLevel{}, false
	}
	b, hasBid := st.book.BestBid()
	a, hasAsk := st.book.BestAsk()
	if !hasBid || !hasAsk {
		return domain.BookLevel{}, domain.BookLevel{}, false
	}
	return b, a, true
}

func (s *BookService) bufferLocked(st *bookState, bids, asks []domain.BookLevel, seq uint64) {
	if st.pending.Len() >= s.pendingCap {
		st.pending.PopFront()
	}
	st.pending.PushBack(bufferedDelta{
		bids: cloneLevels(bids),
		asks: cloneLevels(asks),
		seq:  seq,
	})
}

func (s *BookService) requestResyncLocked(pair domain.Pair, st *bookState) {
	if st.resyncRequested {
		return
	}
	st.resyncRequested = true
	if s.requester != nil {
		s.requester.RequestBookSnapshot(pair)
	}
}

func (s *BookService) recordApplyError(err error) {
	var gap *domain.SequenceGapError
	var crossed *domain.CrossedBookError
	switch {
	case errors.As(err, &gap):
		infra.GlobalMetrics.RecordSequenceGap()
	case errors.As(err, &crossed):
		infra.GlobalMetrics.RecordCrossedBook()
	}
}

func (s *BookService) publishLocked(st *bookState) {
	if s.bus == nil {
		return
	}
	snap := st.book.Snapshot(s.depth)
	s.bus.Publish(event.Event{
		Pair: st.book.Pair(),
		Kind: event.KindBookChanged,
		Book: &snap,
	})
}

func cloneLevels(levels []domain.BookLevel) []domain.BookLevel {
	if len(levels) == 0 {
		return nil
	}
	out := make([]domain.BookLevel, len(levels))
	copy(out, levels)
	return out
}
