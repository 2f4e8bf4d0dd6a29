package kraken

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/domain"
)

// Pools for high-frequency decoded messages. Deltas and ticks arrive
// many times per second per pair; recycling them keeps GC pressure out
// of the hotpath.
//
// Usage:
//
//	msg := AcquireBookDelta()
//	// ... decode into msg, route, apply ...
//	ReleaseBookDelta(msg) // return to pool after the apply commits
//
// Ownership rule: whoever drains the engine inbox releases the message
// once state is committed. Anything that must outlive the apply (e.g. a
// delta buffered for replay) is cloned first.
var bookDeltaPool = sync.Pool{
	New: func() interface{} {
		return &BookDelta{}
	},
}

// AcquireBookDelta gets a BookDelta from the pool. Level slices keep
// their backing arrays and must be re-sliced by the decoder.
func AcquireBookDelta() *BookDelta {
	return bookDeltaPool.Get().(*BookDelta)
}

// ReleaseBookDelta returns a BookDelta to the pool.
func ReleaseBookDelta(msg *BookDelta) {
	if msg == nil {
		return
	}
	msg.Pair = domain.Pair{}
	msg.Bids = msg.Bids[:0]
	msg.Asks = msg.Asks[:0]
	msg.Sequence = 0

	bookDeltaPool.Put(msg)
}

// TickerUpdate pool
var tickerUpdatePool = sync.Pool{
	New: func() interface{} {
		return &TickerUpdate{}
	},
}

// AcquireTickerUpdate gets a TickerUpdate from the pool.
func AcquireTickerUpdate() *TickerUpdate {
	return tickerUpdatePool.Get().(*TickerUpdate)
}

// ReleaseTickerUpdate returns a TickerUpdate to the pool.
func ReleaseTickerUpdate(msg *TickerUpdate) {
	if msg == nil {
		return
	}
	msg.Pair = domain.Pair{}
	msg.Last = decimal.Zero
	msg.Bid = decimal.Zero
	msg.Ask = decimal.Zero
	msg.Volume = decimal.Zero
	msg.Timestamp = time.Time{}

	tickerUpdatePool.Put(msg)
}
