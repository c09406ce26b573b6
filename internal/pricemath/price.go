// Package pricemath converts between human prices and tick indices and
// computes paired amounts for concentrated-liquidity positions.
//
// Amounts and prices are shopspring/decimal values. The only floating-point
// step is the ln/exp inside tick conversion, which is the protocol's own
// algorithm; its result is an integer tick, so rounding noise cannot leak
// into amounts.
package pricemath

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
)

const infinityLiteral = "Infinity"

// Price is a human price: units of token1 per unit of token0. Besides finite
// non-negative values it has an explicit unbounded state, which is how an
// open-ended position range is expressed. The zero value is price 0.
type Price struct {
	value decimal.Decimal
	inf   bool
}

// NewPrice wraps a finite price.
func NewPrice(d decimal.Decimal) Price { return Price{value: d} }

// Infinity is the unbounded price.
func Infinity() Price { return Price{inf: true} }

// ParsePrice accepts a decimal string or "Infinity".
func ParsePrice(s string) (Price, error) {
	if strings.EqualFold(s, infinityLiteral) || strings.EqualFold(s, "inf") {
		return Infinity(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, dexerr.Invalid(dexerr.ReasonInvalidPrice, "price", "%q is not a number", s)
	}
	return NewPrice(d), nil
}

// MustPrice is ParsePrice for literals.
func MustPrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsInf reports whether p is unbounded.
func (p Price) IsInf() bool { return p.inf }

// IsZero reports whether p is exactly 0.
func (p Price) IsZero() bool { return !p.inf && p.value.IsZero() }

// Decimal returns the finite value. It is meaningless when IsInf.
func (p Price) Decimal() decimal.Decimal { return p.value }

// Cmp compares two prices, treating Infinity as larger than every finite value.
func (p Price) Cmp(o Price) int {
	switch {
	case p.inf && o.inf:
		return 0
	case p.inf:
		return 1
	case o.inf:
		return -1
	}
	return p.value.Cmp(o.value)
}

// Equal reports whether p and o are the same price.
func (p Price) Equal(o Price) bool { return p.Cmp(o) == 0 }

func (p Price) String() string {
	if p.inf {
		return infinityLiteral
	}
	return p.value.String()
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// bare JSON number
		s = string(b)
	}
	parsed, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// validate rejects negative prices.
func (p Price) validate(field string) error {
	if !p.inf && p.value.Sign() < 0 {
		return dexerr.Invalid(dexerr.ReasonInvalidPrice, field, "%s is negative", p.value)
	}
	return nil
}
