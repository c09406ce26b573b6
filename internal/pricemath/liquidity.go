package pricemath

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
)

const maxDecimals = 36

var (
	two         = decimal.NewFromInt(2)
	sqrtEpsilon = decimal.New(1, -divisionPrecision)
)

// OptimalPairedAmount returns how much of token B to deposit alongside amount
// of token A in the range [lower, upper] at the current spot price:
//
//	L      = amount * sqrt(upper) * sqrt(spot) / (sqrt(upper) - sqrt(spot))
//	paired = L * (sqrt(spot) - sqrt(lower))
//
// An unbounded upper price is replaced by UnboundedPriceCeiling. amount is
// truncated to decimalsA and the result to decimalsB, both toward zero, so the
// paired amount never exceeds what the position can actually take.
//
// A spot at or below lower pairs nothing. A spot at or above upper cannot take
// token A at all and is rejected.
func OptimalPairedAmount(amount decimal.Decimal, spot, lower, upper Price, decimalsA, decimalsB int32) (decimal.Decimal, error) {
	if amount.Sign() < 0 {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidAmount, "amount", "%s is negative", amount)
	}
	if decimalsA < 0 || decimalsA > maxDecimals {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidDecimals, "decimalsA", "%d outside [0, %d]", decimalsA, maxDecimals)
	}
	if decimalsB < 0 || decimalsB > maxDecimals {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidDecimals, "decimalsB", "%d outside [0, %d]", decimalsB, maxDecimals)
	}
	if spot.IsInf() || spot.Decimal().Sign() <= 0 {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidPrice, "spotPrice", "must be finite and positive, got %s", spot)
	}
	if lower.IsInf() {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidPrice, "lowerPrice", "must be finite")
	}
	if err := lower.validate("lowerPrice"); err != nil {
		return decimal.Decimal{}, err
	}
	if err := upper.validate("upperPrice"); err != nil {
		return decimal.Decimal{}, err
	}
	if lower.Cmp(upper) >= 0 {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidPrice, "lowerPrice", "%s is not below upper price %s", lower, upper)
	}

	upperValue := upper.Decimal()
	if upper.IsInf() {
		upperValue = UnboundedPriceCeiling
	}
	if spot.Decimal().Cmp(upperValue) >= 0 {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonPriceOutOfRange, "spotPrice", "%s is at or above the upper price", spot)
	}
	if spot.Cmp(lower) <= 0 {
		return decimal.Zero, nil
	}

	amountA := amount.Truncate(decimalsA)
	sqrtSpot := Sqrt(spot.Decimal())
	sqrtLower := Sqrt(lower.Decimal())
	sqrtUpper := Sqrt(upperValue)

	liquidity := amountA.Mul(sqrtUpper).Mul(sqrtSpot).DivRound(sqrtUpper.Sub(sqrtSpot), divisionPrecision)
	paired := liquidity.Mul(sqrtSpot.Sub(sqrtLower)).Truncate(decimalsB)
	if paired.Sign() < 0 {
		return decimal.Zero, nil
	}
	return paired, nil
}

// Sqrt is a decimal square root by Newton iteration, accurate to
// divisionPrecision places. Non-positive input returns 0.
func Sqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}

	x := decimal.NewFromInt(1)
	if f := math.Sqrt(d.InexactFloat64()); f > 0 && !math.IsInf(f, 0) {
		x = decimal.NewFromFloat(f)
	}

	for i := 0; i < 200; i++ {
		next := x.Add(d.DivRound(x, divisionPrecision)).DivRound(two, divisionPrecision)
		if next.Sub(x).Abs().LessThanOrEqual(sqrtEpsilon) {
			return next
		}
		x = next
	}
	return x
}
