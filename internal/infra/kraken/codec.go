package kraken

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"krader/internal/domain"
)

// Decode classifies and parses one raw feed frame. It is a pure
// transform: no side effects, and it never panics. Failures come back
// as *domain.DecodeError carrying the offending frame, so the caller
// can log, drop and continue.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &domain.DecodeError{Kind: "malformed-json", Raw: raw, Err: err}
	}

	if env.Method != "" {
		return decodeMethodReply(&env, raw)
	}

	switch env.Channel {
	case ChannelHeartbeat, ChannelStatus:
		return Heartbeat{}, nil
	case ChannelTicker:
		return decodeTicker(&env, raw)
	case ChannelBook:
		return decodeBook(&env, raw)
	case "":
		if env.Error != "" {
			return GenericError{Reason: env.Error}, nil
		}
		return nil, &domain.DecodeError{Kind: "missing-field", Raw: raw, Err: fmt.Errorf("frame has no channel or method")}
	default:
		return nil, &domain.DecodeError{Kind: "unknown-channel", Raw: raw, Err: fmt.Errorf("channel %q", env.Channel)}
	}
}

func decodeMethodReply(env *envelope, raw []byte) (Message, error) {
	if env.Method != "subscribe" && env.Method != "unsubscribe" {
		return nil, &domain.DecodeError{Kind: "unknown-channel", Raw: raw, Err: fmt.Errorf("method %q", env.Method)}
	}
	if env.Success == nil {
		return nil, &domain.DecodeError{Kind: "missing-field", Raw: raw, Err: fmt.Errorf("%s reply without success flag", env.Method)}
	}

	var channel string
	var pair domain.Pair
	if env.Result != nil {
		channel = env.Result.Channel
		if env.Result.Symbol != "" {
			p, err := domain.ParsePair(env.Result.Symbol)
			if err != nil {
				return nil, &domain.DecodeError{Kind: "missing-field", Raw: raw, Err: err}
			}
			pair = p
		}
	}

	if *env.Success {
		return &SubscriptionAck{ReqID: env.ReqID, Channel: channel, Pair: pair}, nil
	}
	return &SubscriptionReject{
		ReqID:     env.ReqID,
		Channel:   channel,
		Pair:      pair,
		Reason:    env.Error,
		Transient: transientReason(env.Error),
	}, nil
}

// transientReason classifies rejection reasons worth an automatic retry.
func transientReason(reason string) bool {
	r := strings.ToLower(reason)
	for _, marker := range []string{"rate limit", "too many", "temporar", "try again", "unavailable"} {
		if strings.Contains(r, marker) {
			return true
		}
	}
	return false
}

func decodeTicker(env *envelope, raw []byte) (Message, error) {
	var data []tickerData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &domain.DecodeError{Kind: "bad-number", Raw: raw, Err: err}
	}
	if len(data) == 0 {
		return nil, &domain.DecodeError{Kind: "missing-field", Raw: raw, Err: fmt.Errorf("ticker frame with empty data")}
	}

	// The feed sends one symbol per data frame.
	d := data[0]
	pair, err := domain.ParsePair(d.Symbol)
	if err != nil {
		return nil, &domain.DecodeError{Kind: "missing-field", Raw: raw, Err: err}
	}

	msg := AcquireTickerUpdate()
	msg.Pair = pair
	msg.Last = d.Last
	msg.Bid = d.Bid
	msg.Ask = d.Ask
	msg.Volume = d.Volume
	if d.Timestamp > 0 {
		msg.Timestamp = time.UnixMilli(d.Timestamp)
	} else {
		msg.Timestamp = time.Now()
	}
	return msg, nil
}

func decodeBook(env *envelope, raw []byte) (Message, error) {
	var data []bookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &domain.DecodeError{Kind: "bad-number", Raw: raw, Err: err}
	}
	if len(data) == 0 {
		return nil, &domain.DecodeError{Kind: "missing-field", Raw: raw, Err: fmt.Errorf("book frame with empty data")}
	}

	d := data[0]
	pair, err := domain.ParsePair(d.Symbol)
	if err != nil {
		return nil, &domain.DecodeError{Kind: "missing-field", Raw: raw, Err: err}
	}
	if d.Sequence == 0 {
		return nil, &domain.DecodeError{Kind: "missing-field", Raw: raw, Err: fmt.Errorf("book frame without sequence")}
	}

	switch env.Type {
	case "snapshot":
		return &BookSnapshot{
			Pair:     pair,
			Bids:     toLevels(d.Bids, nil),
			Asks:     toLevels(d.Asks, nil),
			Sequence: d.Sequence,
		}, nil
	case "update":
		msg := AcquireBookDelta()
		msg.Pair = pair
		msg.Bids = toLevels(d.Bids, msg.Bids)
		msg.Asks = toLevels(d.Asks, msg.Asks)
		msg.Sequence = d.Sequence
		return msg, nil
	default:
		return nil, &domain.DecodeError{Kind: "missing-field", Raw: raw, Err: fmt.Errorf("book frame type %q", env.Type)}
	}
}

// toLevels converts wire levels, reusing buf's backing array when the
// caller provides one from the pool.
func toLevels(in []wireLevel, buf []domain.BookLevel) []domain.BookLevel {
	out := buf[:0]
	for _, l := range in {
		out = append(out, domain.BookLevel{Price: l.Price, Qty: l.Qty})
	}
	return out
}
