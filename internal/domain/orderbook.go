package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BookStatus describes whether a book may be served to consumers.
type BookStatus string

const (
	// BookSyncing: created, waiting for the first snapshot.
	BookSyncing BookStatus = "Syncing"
	// BookLive: snapshot applied, deltas flowing in sequence.
	BookLive BookStatus = "Live"
	// BookStale: a gap or crossed book was detected; awaiting resync.
	BookStale BookStatus = "Stale"
)

// BookLevel is a single (price, quantity) entry on one side of the book.
// Quantity zero in a delta means the level is removed.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// BookSnapshot is an immutable copy of book state handed to consumers.
// Bids are sorted descending, asks ascending.
type BookSnapshot struct {
	Pair      Pair        `json:"pair"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Sequence  uint64      `json:"sequence"`
	Status    BookStatus  `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BestBid returns the highest bid, if any.
func (s BookSnapshot) BestBid() (BookLevel, bool) {
	if len(s.Bids) == 0 {
		return BookLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (s BookSnapshot) BestAsk() (BookLevel, bool) {
	if len(s.Asks) == 0 {
		return BookLevel{}, false
	}
	return s.Asks[0], true
}

// OrderBook holds the working depth state for one pair. It is not
// self-locking: the reconciler owns it and serializes every mutation;
// external readers only ever see copies produced by Snapshot.
type OrderBook struct {
	pair      Pair
	bids      []BookLevel // descending by price
	asks      []BookLevel // ascending by price
	seq       uint64
	status    BookStatus
	updatedAt time.Time
}

// NewOrderBook creates an empty book in the Syncing state.
func NewOrderBook(pair Pair) *OrderBook {
	return &OrderBook{
		pair:   pair,
		status: BookSyncing,
	}
}

// Pair returns the market this book belongs to.
func (b *OrderBook) Pair() Pair { return b.pair }

// Sequence returns the sequence number of the last applied message.
func (b *OrderBook) Sequence() uint64 { return b.seq }

// Status returns the current book status.
func (b *OrderBook) Status() BookStatus { return b.status }

// ApplySnapshot replaces the book wholesale and resets the sequence to
// the snapshot's declared value. A snapshot is the recovery path out of
// the Stale state, but it is still feed input: a crossed snapshot is a
// protocol error, the levels are discarded and a CrossedBookError
// returned with the book left Stale.
func (b *OrderBook) ApplySnapshot(bids, asks []BookLevel, seq uint64) error {
	b.bids = sortSide(cloneLevels(bids), false)
	b.asks = sortSide(cloneLevels(asks), true)
	b.seq = seq
	b.updatedAt = time.Now()

	if err := b.checkCrossed(); err != nil {
		b.bids = nil
		b.asks = nil
		b.status = BookStale
		return err
	}
	b.status = BookLive
	return nil
}

// ApplyDelta applies an incremental change. The delta must carry exactly
// the next sequence number; otherwise the book goes Stale and a
// SequenceGapError is returned with no levels mutated. A crossed book
// after the apply is a protocol error: the book is discarded and a
// CrossedBookError returned.
func (b *OrderBook) ApplyDelta(bids, asks []BookLevel, seq uint64) error {
	if seq != b.seq+1 {
		b.status = BookStale
		return &SequenceGapError{Pair: b.pair, Expected: b.seq + 1, Got: seq}
	}

	b.bids = applySide(b.bids, bids, false)
	b.asks = applySide(b.asks, asks, true)
	b.seq = seq
	b.updatedAt = time.Now()

	if err := b.checkCrossed(); err != nil {
		b.bids = nil
		b.asks = nil
		b.status = BookStale
		return err
	}
	return nil
}

// MarkStale flags the book as unusable until the next snapshot.
func (b *OrderBook) MarkStale() {
	b.status = BookStale
}

// Snapshot returns an immutable copy limited to depth levels per side
// (<=0 keeps full depth).
func (b *OrderBook) Snapshot(depth int) BookSnapshot {
	return BookSnapshot{
		Pair:      b.pair,
		Bids:      copyDepth(b.bids, depth),
		Asks:      copyDepth(b.asks, depth),
		Sequence:  b.seq,
		Status:    b.status,
		UpdatedAt: b.updatedAt,
	}
}

// BestBid returns the highest bid, if any.
func (b *OrderBook) BestBid() (BookLevel, bool) {
	if len(b.bids) == 0 {
		return BookLevel{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b *OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.asks) == 0 {
		return BookLevel{}, false
	}
	return b.asks[0], true
}

func (b *OrderBook) checkCrossed() error {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return nil
	}
	if b.bids[0].Price.GreaterThanOrEqual(b.asks[0].Price) {
		return &CrossedBookError{Pair: b.pair, Bid: b.bids[0].Price, Ask: b.asks[0].Price}
	}
	return nil
}

// applySide merges level changes into one sorted side. Zero quantity
// removes the price level; otherwise the level is inserted or updated
// in place, keeping the side sorted.
func applySide(side, changes []BookLevel, ascending bool) []BookLevel {
	for _, ch := range changes {
		idx := sort.Search(len(side), func(i int) bool {
			if ascending {
				return side[i].Price.GreaterThanOrEqual(ch.Price)
			}
			return side[i].Price.LessThanOrEqual(ch.Price)
		})
		exists := idx < len(side) && side[idx].Price.Equal(ch.Price)

		switch {
		case ch.Qty.IsZero():
			if exists {
				side = append(side[:idx], side[idx+1:]...)
			}
		case exists:
			side[idx].Qty = ch.Qty
		default:
			side = append(side, BookLevel{})
			copy(side[idx+1:], side[idx:])
			side[idx] = ch
		}
	}
	return side
}

func sortSide(levels []BookLevel, ascending bool) []BookLevel {
	sort.Slice(levels, func(i, j int) bool {
		if ascending {
			return levels[i].Price.LessThan(levels[j].Price)
		}
		return levels[i].Price.GreaterThan(levels[j].Price)
	})
	return levels
}

func cloneLevels(levels []BookLevel) []BookLevel {
	out := make([]BookLevel, len(levels))
	copy(out, levels)
	return out
}

func copyDepth(side []BookLevel, depth int) []BookLevel {
	n := len(side)
	if depth > 0 && n > depth {
		n = depth
	}
	out := make([]BookLevel, n)
	copy(out, side[:n])
	return out
}
