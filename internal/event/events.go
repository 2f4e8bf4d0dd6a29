package event

import (
	"krader/internal/domain"
)

// Kind defines the type of state-change event.
type Kind uint16

const (
	KindTickerChanged Kind = iota + 1
	KindBookChanged
	KindConnectionStateChanged
	KindSubscriptionError
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindTickerChanged:
		return "TickerChanged"
	case KindBookChanged:
		return "BookChanged"
	case KindConnectionStateChanged:
		return "ConnectionStateChanged"
	case KindSubscriptionError:
		return "SubscriptionError"
	default:
		return "Unknown"
	}
}

// Event is a state-change notification delivered to consumers. Exactly
// one payload field is set, matching Kind. Payloads are immutable
// copies; consumers may hold them indefinitely without corrupting
// engine state.
type Event struct {
	Pair domain.Pair `json:"pair"`
	Kind Kind        `json:"kind"`

	Ticker *domain.TickerSnapshot    `json:"ticker,omitempty"`
	Book   *domain.BookSnapshot      `json:"book,omitempty"`
	State  string                    `json:"state,omitempty"` // connection session state name
	SubErr *domain.SubscriptionError `json:"sub_err,omitempty"`
}
