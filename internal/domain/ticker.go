package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickerUpdate carries incoming trade/quote fields for one pair. Nil
// fields were absent from the message; the timestamp applies to every
// field that is present.
type TickerUpdate struct {
	Pair      Pair
	Last      *decimal.Decimal // last trade price
	Bid       *decimal.Decimal // best bid price
	Ask       *decimal.Decimal // best ask price
	Volume    *decimal.Decimal // rolling 24h volume
	Timestamp time.Time
}

// TickerChanges reports which snapshot fields an update actually moved.
type TickerChanges struct {
	Trade  bool // last price took the update's value
	Quote  bool // best bid or ask took the update's value
	Volume bool
}

// Any reports whether the update changed anything at all.
func (c TickerChanges) Any() bool {
	return c.Trade || c.Quote || c.Volume
}

// TickerSnapshot is the per-pair last-trade / best-bid-ask view. It is
// derived state: best bid/ask track the order book's top, last trade and
// volume come from ticker messages. Field-level timestamps arbitrate
// out-of-order delivery and are last-timestamp-wins per field.
type TickerSnapshot struct {
	Pair      Pair            `json:"pair"`
	LastPrice decimal.Decimal `json:"last_price"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	UpdatedAt time.Time       `json:"updated_at"`

	priceAt  time.Time
	bidAt    time.Time
	askAt    time.Time
	volumeAt time.Time
}

// Merge folds an update into the snapshot. A field is taken when its
// timestamp is not older than the stored one, or when the field was
// never set; an already-newer field is never regressed.
func (t *TickerSnapshot) Merge(u TickerUpdate) TickerChanges {
	var ch TickerChanges

	if u.Last != nil && acceptField(t.priceAt, u.Timestamp) {
		if !t.LastPrice.Equal(*u.Last) || t.priceAt.IsZero() {
			ch.Trade = true
		}
		t.LastPrice = *u.Last
		t.priceAt = u.Timestamp
	}
	if u.Bid != nil && acceptField(t.bidAt, u.Timestamp) {
		if !t.BestBid.Equal(*u.Bid) {
			ch.Quote = true
		}
		t.BestBid = *u.Bid
		t.bidAt = u.Timestamp
	}
	if u.Ask != nil && acceptField(t.askAt, u.Timestamp) {
		if !t.BestAsk.Equal(*u.Ask) {
			ch.Quote = true
		}
		t.BestAsk = *u.Ask
		t.askAt = u.Timestamp
	}
	if u.Volume != nil && acceptField(t.volumeAt, u.Timestamp) {
		if !t.Volume24h.Equal(*u.Volume) {
			ch.Volume = true
		}
		t.Volume24h = *u.Volume
		t.volumeAt = u.Timestamp
	}

	if ch.Any() && u.Timestamp.After(t.UpdatedAt) {
		t.UpdatedAt = u.Timestamp
	}
	return ch
}

// acceptField: a field with no timestamp yet accepts anything; otherwise
// only updates at or after the stored timestamp win.
func acceptField(stored, incoming time.Time) bool {
	if stored.IsZero() {
		return true
	}
	return !incoming.Before(stored)
}

// Mid returns the quote midpoint, or zero if either side is missing.
func (t *TickerSnapshot) Mid() decimal.Decimal {
	if t.BestBid.IsZero() || t.BestAsk.IsZero() {
		return decimal.Zero
	}
	return t.BestBid.Add(t.BestAsk).Div(decimal.NewFromInt(2))
}

// Spread returns best ask minus best bid, or zero if either is missing.
func (t *TickerSnapshot) Spread() decimal.Decimal {
	if t.BestBid.IsZero() || t.BestAsk.IsZero() {
		return decimal.Zero
	}
	return t.BestAsk.Sub(t.BestBid)
}
