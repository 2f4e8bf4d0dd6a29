package domain

import (
	"errors"
	"testing"
)

func TestParsePair(t *testing.T) {
	t.Run("Canonical Form", func(t *testing.T) {
		p, err := ParsePair("btc/usd")
		if err != nil {
			t.Fatalf("ParsePair: %v", err)
		}
		if p.String() != "BTC/USD" {
			t.Errorf("Expected BTC/USD, got %s", p)
		}
	})

	t.Run("Rejects Malformed", func(t *testing.T) {
		for _, s := range []string{"", "BTCUSD", "BTC/", "/USD", "BTC/USD/EUR", "USD/USD"} {
			if _, err := ParsePair(s); !errors.Is(err, ErrInvalidPair) {
				t.Errorf("ParsePair(%q) should fail with ErrInvalidPair, got %v", s, err)
			}
		}
	})
}

func TestNewPair(t *testing.T) {
	if _, err := NewPair("BTC", "BTC"); !errors.Is(err, ErrInvalidPair) {
		t.Error("Same base and quote should be rejected")
	}
	p, err := NewPair("eth", "usd")
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	if p.Base != "ETH" || p.Quote != "USD" {
		t.Errorf("Symbols should be upper-cased: %+v", p)
	}
	if p.IsZero() {
		t.Error("Non-empty pair reported as zero")
	}
}
