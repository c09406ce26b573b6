package pricemath

import (
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
)

// FeeTier is a pool's fee in hundredths of a basis point.
type FeeTier int

const (
	Fee005 FeeTier = 500   // 0.05%
	Fee030 FeeTier = 3000  // 0.30%
	Fee100 FeeTier = 10000 // 1.00%
)

// FeeTiers lists every tier in the order quotes iterate them.
var FeeTiers = []FeeTier{Fee005, Fee030, Fee100}

var tickSpacings = map[FeeTier]int{
	Fee005: 10,
	Fee030: 60,
	Fee100: 200,
}

// Swaps pass these as sqrtPriceLimit so the price itself never stops them;
// slippage is bounded by the amount limits instead.
var (
	MinSqrtPriceLimit = decimal.RequireFromString("0.000000000000000000094212147")
	MaxSqrtPriceLimit = decimal.RequireFromString("18446050999999999999")
)

// Valid reports whether f is a supported tier.
func (f FeeTier) Valid() bool {
	_, ok := tickSpacings[f]
	return ok
}

// Validate returns a ValidationError for unsupported tiers.
func (f FeeTier) Validate() error {
	if !f.Valid() {
		return dexerr.Invalid(dexerr.ReasonInvalidFee, "fee", "unsupported fee tier %d", int(f))
	}
	return nil
}

// TickSpacing returns the tier's tick spacing, or 0 for unsupported tiers.
func (f FeeTier) TickSpacing() int { return tickSpacings[f] }

// Rate is the fee as a fraction, e.g. 0.003.
func (f FeeTier) Rate() decimal.Decimal {
	return decimal.New(int64(f), -6)
}

// SqrtPriceLimit returns the no-limit bound for a swap direction.
func SqrtPriceLimit(zeroForOne bool) decimal.Decimal {
	if zeroForOne {
		return MinSqrtPriceLimit
	}
	return MaxSqrtPriceLimit
}
