package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport-level failure that may be retriable.
// The connection manager uses it to decide between reconnect and give-up.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "write")
	Err       error  // Underlying error
	Retriable bool
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// DecodeError reports a feed frame that could not be turned into a
// domain message. The frame is dropped and logged; never fatal.
type DecodeError struct {
	Kind string // "malformed-json", "unknown-channel", "missing-field", "bad-number"
	Raw  []byte // Offending frame, kept for diagnostics
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode [" + e.Kind + "]: " + e.Err.Error()
	}
	return "decode [" + e.Kind + "]"
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SequenceGapError reports an order-book delta arriving out of sequence.
// The book is marked stale and a fresh snapshot is requested.
type SequenceGapError struct {
	Pair     Pair
	Expected uint64
	Got      uint64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap on %s: expected %d, got %d", e.Pair, e.Expected, e.Got)
}

// CrossedBookError reports a best bid at or above the best ask after an
// apply. Treated as a protocol error: the book is discarded, never exposed.
type CrossedBookError struct {
	Pair Pair
	Bid  decimal.Decimal
	Ask  decimal.Decimal
}

func (e *CrossedBookError) Error() string {
	return fmt.Sprintf("crossed book on %s: bid %s >= ask %s", e.Pair, e.Bid, e.Ask)
}

// SubscriptionError reports a subscription the exchange rejected.
// Transient rejections (throttling) are retried; permanent ones surface
// to consumers as-is.
type SubscriptionError struct {
	Pair      Pair
	Channel   string
	Reason    string
	Transient bool
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription rejected [%s %s]: %s", e.Pair, e.Channel, e.Reason)
}

func (e *SubscriptionError) IsRetriable() bool {
	return e.Transient
}

// CacheFetchError reports a reference-data fetch failure with no cached
// value to fall back on.
type CacheFetchError struct {
	Key string
	Err error
}

func (e *CacheFetchError) Error() string {
	return "cache fetch [" + e.Key + "]: " + e.Err.Error()
}

func (e *CacheFetchError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when the websocket connection fails. Usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidPair is returned when a pair string is malformed or unsupported. Not retriable.
	ErrInvalidPair = errors.New("invalid pair")

	// ErrNotTracked is returned when state is requested for a pair outside the watchlist.
	ErrNotTracked = errors.New("pair not tracked")

	// ErrConfigNotFound is returned when the configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
