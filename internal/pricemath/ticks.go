package pricemath

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/token"
)

// Protocol tick bounds. Price 0 and the unbounded price sit exactly on them.
const (
	MinTick = -886800
	MaxTick = 886800
)

// tickBase is the price ratio between adjacent ticks.
const tickBase = 1.0001

// divisionPrecision is the number of decimal places kept by divisions.
const divisionPrecision = 36

// UnboundedPriceCeiling replaces an infinite upper price before a square
// root is taken.
var UnboundedPriceCeiling = decimal.New(1, 38)

// TicksForPrice returns the tick for price on a grid of tickSpacing:
// floor(round(ln p / ln 1.0001) / spacing) * spacing, clamped to
// [MinTick, MaxTick]. Price 0 is MinTick and Infinity is MaxTick.
func TicksForPrice(price Price, tickSpacing int) (int, error) {
	if tickSpacing <= 0 {
		return 0, dexerr.Invalid(dexerr.ReasonInvalidTick, "tickSpacing", "must be positive, got %d", tickSpacing)
	}
	if err := price.validate("price"); err != nil {
		return 0, err
	}
	if price.IsInf() {
		return MaxTick, nil
	}
	if price.IsZero() {
		return MinTick, nil
	}

	raw := math.Round(math.Log(price.Decimal().InexactFloat64()) / math.Log(tickBase))
	// Out-of-range floats (including ±Inf from under/overflow) clamp here,
	// before the int conversion.
	if raw <= MinTick {
		return MinTick, nil
	}
	if raw >= MaxTick {
		return MaxTick, nil
	}

	tick := floorDiv(int(raw), tickSpacing) * tickSpacing
	return clampTick(tick), nil
}

// PriceForTicks is the inverse of TicksForPrice. The two boundary ticks map to
// exactly 0 and Infinity.
func PriceForTicks(tick int) (Price, error) {
	if tick < MinTick || tick > MaxTick {
		return Price{}, dexerr.Invalid(dexerr.ReasonInvalidTick, "tick", "%d outside [%d, %d]", tick, MinTick, MaxTick)
	}
	switch tick {
	case MinTick:
		return NewPrice(decimal.Zero), nil
	case MaxTick:
		return Infinity(), nil
	}
	return NewPrice(decimal.NewFromFloat(math.Pow(tickBase, float64(tick)))), nil
}

// ValidateTickRange checks a position's bounds: both inside the protocol range,
// lower below upper, both multiples of tickSpacing.
func ValidateTickRange(tickLower, tickUpper, tickSpacing int) error {
	if tickSpacing <= 0 {
		return dexerr.Invalid(dexerr.ReasonInvalidTick, "tickSpacing", "must be positive, got %d", tickSpacing)
	}
	if tickLower < MinTick || tickLower > MaxTick {
		return dexerr.Invalid(dexerr.ReasonInvalidTick, "tickLower", "%d outside [%d, %d]", tickLower, MinTick, MaxTick)
	}
	if tickUpper < MinTick || tickUpper > MaxTick {
		return dexerr.Invalid(dexerr.ReasonInvalidTick, "tickUpper", "%d outside [%d, %d]", tickUpper, MinTick, MaxTick)
	}
	if tickLower >= tickUpper {
		return dexerr.Invalid(dexerr.ReasonInvalidTick, "tickLower", "%d is not below tickUpper %d", tickLower, tickUpper)
	}
	if tickLower%tickSpacing != 0 {
		return dexerr.Invalid(dexerr.ReasonInvalidTick, "tickLower", "%d is not a multiple of %d", tickLower, tickSpacing)
	}
	if tickUpper%tickSpacing != 0 {
		return dexerr.Invalid(dexerr.ReasonInvalidTick, "tickUpper", "%d is not a multiple of %d", tickUpper, tickSpacing)
	}
	return nil
}

// SpotPrice converts a pool's sqrt price into units of outToken per unit of
// inToken. Pools store sqrtPrice as sqrt(token1/token0), so the square is
// reciprocated when inToken is the canonical token1.
func SpotPrice(inToken, outToken token.TokenID, sqrtPrice decimal.Decimal) (decimal.Decimal, error) {
	if sqrtPrice.Sign() <= 0 {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidPrice, "sqrtPrice", "must be positive, got %s", sqrtPrice)
	}
	pair, err := token.OrderPair(inToken, outToken, false)
	if err != nil {
		return decimal.Decimal{}, err
	}
	price := sqrtPrice.Mul(sqrtPrice)
	if pair.ZeroForOne {
		return price, nil
	}
	return decimal.NewFromInt(1).DivRound(price, divisionPrecision), nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func clampTick(t int) int {
	if t < MinTick {
		return MinTick
	}
	if t > MaxTick {
		return MaxTick
	}
	return t
}
