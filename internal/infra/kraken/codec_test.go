package kraken

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"krader/internal/domain"
)

func TestDecode_Classification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string // concrete message type name, or "" for a decode error
		kind string // expected DecodeError kind when want == ""
	}{
		{name: "heartbeat", raw: `{"channel":"heartbeat"}`, want: "Heartbeat"},
		{name: "status counts as liveness", raw: `{"channel":"status","type":"update"}`, want: "Heartbeat"},
		{
			name: "subscription ack",
			raw:  `{"method":"subscribe","success":true,"req_id":7,"result":{"channel":"ticker","symbol":"BTC/USD"}}`,
			want: "SubscriptionAck",
		},
		{
			name: "subscription reject",
			raw:  `{"method":"subscribe","success":false,"req_id":8,"error":"Currency pair not supported","result":{"channel":"book","symbol":"BTC/USD"}}`,
			want: "SubscriptionReject",
		},
		{
			name: "ticker update",
			raw:  `{"channel":"ticker","type":"update","data":[{"symbol":"BTC/USD","last":64250.5,"bid":64250.0,"ask":64251.0,"volume":1234.5,"timestamp":1767225600000}]}`,
			want: "TickerUpdate",
		},
		{
			name: "book snapshot",
			raw:  `{"channel":"book","type":"snapshot","data":[{"symbol":"BTC/USD","bids":[{"price":100,"qty":1}],"asks":[{"price":101,"qty":1}],"sequence":5}]}`,
			want: "BookSnapshot",
		},
		{
			name: "book delta",
			raw:  `{"channel":"book","type":"update","data":[{"symbol":"BTC/USD","bids":[],"asks":[{"price":101,"qty":0}],"sequence":6}]}`,
			want: "BookDelta",
		},
		{name: "generic error", raw: `{"error":"service restarting"}`, want: "GenericError"},
		{name: "malformed json", raw: `{"channel":`, kind: "malformed-json"},
		{name: "unknown channel", raw: `{"channel":"candles","data":[]}`, kind: "unknown-channel"},
		{name: "empty frame", raw: `{}`, kind: "missing-field"},
		{name: "book without sequence", raw: `{"channel":"book","type":"update","data":[{"symbol":"BTC/USD","bids":[],"asks":[]}]}`, kind: "missing-field"},
		{name: "ticker with empty data", raw: `{"channel":"ticker","type":"update","data":[]}`, kind: "missing-field"},
		{name: "bad price type", raw: `{"channel":"ticker","type":"update","data":[{"symbol":"BTC/USD","last":"not-a-number"}]}`, kind: "bad-number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))

			if tt.want == "" {
				var de *domain.DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("Expected DecodeError, got msg=%T err=%v", msg, err)
				}
				if de.Kind != tt.kind {
					t.Errorf("Kind = %q, want %q", de.Kind, tt.kind)
				}
				if len(de.Raw) == 0 {
					t.Error("DecodeError should carry the raw frame")
				}
				return
			}

			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			got := typeName(msg)
			if got != tt.want {
				t.Errorf("Decoded %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(msg Message) string {
	switch msg.(type) {
	case Heartbeat:
		return "Heartbeat"
	case *SubscriptionAck:
		return "SubscriptionAck"
	case *SubscriptionReject:
		return "SubscriptionReject"
	case *TickerUpdate:
		return "TickerUpdate"
	case *BookSnapshot:
		return "BookSnapshot"
	case *BookDelta:
		return "BookDelta"
	case GenericError:
		return "GenericError"
	default:
		return "nil"
	}
}

func TestDecode_TickerFields(t *testing.T) {
	raw := `{"channel":"ticker","type":"update","data":[{"symbol":"ETH/USD","last":"3500.25","bid":3500,"ask":3500.5,"volume":"42.0","timestamp":1767225600000}]}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tick, ok := msg.(*TickerUpdate)
	if !ok {
		t.Fatalf("Expected TickerUpdate, got %T", msg)
	}
	defer ReleaseTickerUpdate(tick)

	if tick.Pair.String() != "ETH/USD" {
		t.Errorf("Pair = %s", tick.Pair)
	}
	if !tick.Last.Equal(decimal.RequireFromString("3500.25")) {
		t.Errorf("Last = %s", tick.Last)
	}
	if tick.Timestamp.UnixMilli() != 1767225600000 {
		t.Errorf("Timestamp = %v", tick.Timestamp)
	}
}

func TestDecode_BookDeltaPoolRoundTrip(t *testing.T) {
	raw := `{"channel":"book","type":"update","data":[{"symbol":"BTC/USD","bids":[{"price":99,"qty":2}],"asks":[],"sequence":12}]}`

	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	delta := msg.(*BookDelta)
	if delta.Sequence != 12 || len(delta.Bids) != 1 || len(delta.Asks) != 0 {
		t.Fatalf("Unexpected delta: %+v", delta)
	}
	ReleaseBookDelta(delta)

	// A released delta must come back zeroed.
	again := AcquireBookDelta()
	if again.Sequence != 0 || len(again.Bids) != 0 || len(again.Asks) != 0 || !again.Pair.IsZero() {
		t.Errorf("Pool returned a dirty delta: %+v", again)
	}
	ReleaseBookDelta(again)
}

func TestDecode_SubscriptionRejectTransient(t *testing.T) {
	tests := []struct {
		reason    string
		transient bool
	}{
		{"Rate limit exceeded", true},
		{"Too many requests", true},
		{"Service temporarily unavailable", true},
		{"Currency pair not supported", false},
		{"Permission denied", false},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			raw := `{"method":"subscribe","success":false,"req_id":1,"error":"` + tt.reason + `","result":{"channel":"book","symbol":"BTC/USD"}}`
			msg, err := Decode([]byte(raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			rej := msg.(*SubscriptionReject)
			if rej.Transient != tt.transient {
				t.Errorf("Transient = %v, want %v", rej.Transient, tt.transient)
			}
		})
	}
}
