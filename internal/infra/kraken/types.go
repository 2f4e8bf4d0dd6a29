// Package kraken implements the streaming feed boundary: the wire codec
// for the exchange's WebSocket v2 frames, the connection manager that
// owns the session, and the REST client for reference data.
package kraken

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"krader/internal/domain"
)

// Channel names as the feed spells them.
const (
	ChannelTicker    = "ticker"
	ChannelBook      = "book"
	ChannelHeartbeat = "heartbeat"
	ChannelStatus    = "status"
)

// envelope is the common outer shape of every inbound frame. Exactly
// which fields are set decides the frame's classification.
type envelope struct {
	Channel string           `json:"channel"`
	Type    string           `json:"type"` // "snapshot" or "update" for data frames
	Method  string           `json:"method"`
	Success *bool            `json:"success"`
	ReqID   uint64           `json:"req_id"`
	Error   string           `json:"error"`
	Result  *subscribeResult `json:"result"`
	Data    json.RawMessage  `json:"data"`
}

type subscribeResult struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// subscribeRequest is the outbound control frame shape.
type subscribeRequest struct {
	Method string          `json:"method"` // "subscribe" / "unsubscribe"
	Params subscribeParams `json:"params"`
	ReqID  uint64          `json:"req_id"`
}

type subscribeParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
	Depth   int      `json:"depth,omitempty"`
}

// tickerData is one ticker entry in a data frame.
type tickerData struct {
	Symbol    string          `json:"symbol"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// wireLevel is one (price, qty) pair in a book data frame.
type wireLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// bookData is one book entry in a data frame.
type bookData struct {
	Symbol   string      `json:"symbol"`
	Bids     []wireLevel `json:"bids"`
	Asks     []wireLevel `json:"asks"`
	Sequence uint64      `json:"sequence"`
}

// Message is a decoded feed frame. The concrete types below are the
// full set the codec can produce.
type Message interface {
	message()
}

// Heartbeat signals feed liveness; it carries no data. Status frames
// decode to it as well, since their only engine-side meaning is "the
// connection is alive".
type Heartbeat struct{}

// SubscriptionAck confirms one subscription request.
type SubscriptionAck struct {
	ReqID   uint64
	Channel string
	Pair    domain.Pair
}

// SubscriptionReject reports a subscription the feed refused.
type SubscriptionReject struct {
	ReqID     uint64
	Channel   string
	Pair      domain.Pair
	Reason    string
	Transient bool
}

// TickerUpdate carries last trade and top-of-book quote fields.
type TickerUpdate struct {
	Pair      domain.Pair
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// BookSnapshot is a full book replacement at a declared sequence.
type BookSnapshot struct {
	Pair     domain.Pair
	Bids     []domain.BookLevel
	Asks     []domain.BookLevel
	Sequence uint64
}

// BookDelta is an incremental book change, valid only in strict
// sequence order.
type BookDelta struct {
	Pair     domain.Pair
	Bids     []domain.BookLevel
	Asks     []domain.BookLevel
	Sequence uint64
}

// GenericError is a feed-level error frame not tied to a subscription.
type GenericError struct {
	Reason string
}

func (Heartbeat) message()           {}
func (*SubscriptionAck) message()    {}
func (*SubscriptionReject) message() {}
func (*TickerUpdate) message()       {}
func (*BookSnapshot) message()       {}
func (*BookDelta) message()          {}
func (GenericError) message()        {}
