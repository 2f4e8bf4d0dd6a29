package domain

import (
	"fmt"
	"strings"
)

// Pair identifies a tradeable market as a base/quote symbol combination
// (e.g. BTC/USD). It is a value type and never mutated after creation;
// all per-market state is keyed by it.
type Pair struct {
	Base  string
	Quote string
}

// NewPair creates a Pair from base and quote symbols. Symbols are
// upper-cased so that "btc"/"usd" and "BTC"/"USD" key the same market.
func NewPair(base, quote string) (Pair, error) {
	if base == "" || quote == "" {
		return Pair{}, fmt.Errorf("%w: base and quote must not be empty", ErrInvalidPair)
	}
	base = strings.ToUpper(base)
	quote = strings.ToUpper(quote)
	if base == quote {
		return Pair{}, fmt.Errorf("%w: base and quote must differ", ErrInvalidPair)
	}
	return Pair{Base: base, Quote: quote}, nil
}

// ParsePair parses a "BASE/QUOTE" string (the wire symbol format).
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	return NewPair(parts[0], parts[1])
}

// String returns the canonical "BASE/QUOTE" form.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// IsZero reports whether the pair is the zero value.
func (p Pair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}
