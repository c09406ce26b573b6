package engine

import (
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/pricemath"
	"github.com/caesar-terminal/dexlink/internal/token"
)

// Constraints bounds what the validator accepts.
type Constraints struct {
	// MaxSlippageBps caps the tolerance SlippageBound will apply.
	MaxSlippageBps int
	// MaxDecimals caps the scale of any amount.
	MaxDecimals int32
}

// DefaultConstraints are the limits used by NewValidator.
var DefaultConstraints = Constraints{
	MaxSlippageBps: 5000,
	MaxDecimals:    36,
}

// Gate decides whether a pool accepts new intents. Satisfied by *Halt.
type Gate interface {
	CanTrade(poolKey string) bool
}

// Validator performs pre-flight checks on intents before anything is signed
// or sent. It fails fast: the first failing check returns an error and the
// intent is rejected.
type Validator struct {
	gate        Gate
	constraints Constraints
}

// NewValidator creates a Validator with default constraints. gate may be nil.
func NewValidator(gate Gate) *Validator {
	return &Validator{
		gate:        gate,
		constraints: DefaultConstraints,
	}
}

// WithConstraints returns a copy of v using c.
func (v *Validator) WithConstraints(c Constraints) *Validator {
	return &Validator{gate: v.gate, constraints: c}
}

// ValidateSwap checks a swap and returns its canonical pair. On success the
// intent status is advanced to StatusValidated, otherwise StatusRejected.
func (v *Validator) ValidateSwap(in *SwapIntent) (token.OrderedPair[struct{}], error) {
	pair, err := v.validateSwap(in)
	if err != nil {
		in.Status = StatusRejected
		return token.OrderedPair[struct{}]{}, err
	}
	in.Status = StatusValidated
	return pair, nil
}

func (v *Validator) validateSwap(in *SwapIntent) (token.OrderedPair[struct{}], error) {
	var none token.OrderedPair[struct{}]

	// 1. Pair and pool.
	pair, err := token.OrderPair(in.TokenIn, in.TokenOut, false)
	if err != nil {
		return none, err
	}
	if err := in.Fee.Validate(); err != nil {
		return none, err
	}

	// 2. Amounts.
	if in.Kind != ExactInput && in.Kind != ExactOutput {
		return none, dexerr.Invalid(dexerr.ReasonInvalidAmount, "kind", "unknown swap kind %d", in.Kind)
	}
	if err := v.positive("amount", in.Amount); err != nil {
		return none, err
	}
	if in.Kind == ExactOutput {
		if err := v.positive("amountInMaximum", in.AmountLimit); err != nil {
			return none, err
		}
	} else if err := v.nonNegative("amountOutMinimum", in.AmountLimit); err != nil {
		return none, err
	}

	// 3. Price limit must sit on the correct side of the protocol bound.
	if !in.SqrtPriceLimit.IsZero() {
		if in.SqrtPriceLimit.Sign() < 0 {
			return none, dexerr.Invalid(dexerr.ReasonInvalidPrice, "sqrtPriceLimit", "%s is negative", in.SqrtPriceLimit)
		}
		if pair.ZeroForOne && in.SqrtPriceLimit.LessThan(pricemath.MinSqrtPriceLimit) {
			return none, dexerr.Invalid(dexerr.ReasonInvalidPrice, "sqrtPriceLimit", "%s below %s", in.SqrtPriceLimit, pricemath.MinSqrtPriceLimit)
		}
		if !pair.ZeroForOne && in.SqrtPriceLimit.GreaterThan(pricemath.MaxSqrtPriceLimit) {
			return none, dexerr.Invalid(dexerr.ReasonInvalidPrice, "sqrtPriceLimit", "%s above %s", in.SqrtPriceLimit, pricemath.MaxSqrtPriceLimit)
		}
	}

	// 4. Gate.
	if err := v.checkGate(pair.Token0, pair.Token1, in.Fee); err != nil {
		return none, err
	}
	return pair, nil
}

// ValidateAddLiquidity checks a deposit.
func (v *Validator) ValidateAddLiquidity(in *AddLiquidityIntent) error {
	err := v.validateAddLiquidity(in)
	in.Status = statusFor(err)
	return err
}

func (v *Validator) validateAddLiquidity(in *AddLiquidityIntent) error {
	if err := v.validateRange(in.PositionRange); err != nil {
		return err
	}
	if err := v.nonNegative("amount0Desired", in.Amount0Desired); err != nil {
		return err
	}
	if err := v.nonNegative("amount1Desired", in.Amount1Desired); err != nil {
		return err
	}
	if in.Amount0Desired.IsZero() && in.Amount1Desired.IsZero() {
		return dexerr.Invalid(dexerr.ReasonInvalidAmount, "amount0Desired", "both desired amounts are zero")
	}
	if err := v.bounded("amount0Min", in.Amount0Min, in.Amount0Desired); err != nil {
		return err
	}
	if err := v.bounded("amount1Min", in.Amount1Min, in.Amount1Desired); err != nil {
		return err
	}
	return v.checkGate(in.Token0, in.Token1, in.Fee)
}

// ValidateRemoveLiquidity checks a withdrawal. Removal is not gated so
// positions can always be unwound.
func (v *Validator) ValidateRemoveLiquidity(in *RemoveLiquidityIntent) error {
	err := v.validateRemoveLiquidity(in)
	in.Status = statusFor(err)
	return err
}

func (v *Validator) validateRemoveLiquidity(in *RemoveLiquidityIntent) error {
	if err := v.validateRange(in.PositionRange); err != nil {
		return err
	}
	if in.PositionID == "" {
		return dexerr.Invalid(dexerr.ReasonInvalidAddress, "positionId", "required")
	}
	if err := v.positive("liquidity", in.Liquidity); err != nil {
		return err
	}
	if err := v.nonNegative("amount0Min", in.Amount0Min); err != nil {
		return err
	}
	return v.nonNegative("amount1Min", in.Amount1Min)
}

// ValidateCollectFees checks a fee collection.
func (v *Validator) ValidateCollectFees(in *CollectFeesIntent) error {
	err := v.validateCollectFees(in)
	in.Status = statusFor(err)
	return err
}

func (v *Validator) validateCollectFees(in *CollectFeesIntent) error {
	if err := v.validateRange(in.PositionRange); err != nil {
		return err
	}
	if in.PositionID == "" {
		return dexerr.Invalid(dexerr.ReasonInvalidAddress, "positionId", "required")
	}
	if err := v.nonNegative("amount0Requested", in.Amount0Requested); err != nil {
		return err
	}
	return v.nonNegative("amount1Requested", in.Amount1Requested)
}

// SlippageBound derives the AmountLimit for a quoted amount: the minimum
// output for ExactInput (rounded down), the maximum input for ExactOutput
// (rounded up), both at the given decimals.
func (v *Validator) SlippageBound(quoted decimal.Decimal, bps int, kind SwapKind, decimals int32) (decimal.Decimal, error) {
	if bps < 0 || bps > v.constraints.MaxSlippageBps {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidSlippage, "slippageBps", "%d outside [0, %d]", bps, v.constraints.MaxSlippageBps)
	}
	if decimals < 0 || decimals > v.constraints.MaxDecimals {
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidDecimals, "decimals", "%d outside [0, %d]", decimals, v.constraints.MaxDecimals)
	}
	if err := v.positive("quoted", quoted); err != nil {
		return decimal.Decimal{}, err
	}

	tolerance := decimal.New(int64(bps), -4)
	switch kind {
	case ExactInput:
		return quoted.Mul(decimal.NewFromInt(1).Sub(tolerance)).RoundFloor(decimals), nil
	case ExactOutput:
		return quoted.Mul(decimal.NewFromInt(1).Add(tolerance)).RoundCeil(decimals), nil
	default:
		return decimal.Decimal{}, dexerr.Invalid(dexerr.ReasonInvalidAmount, "kind", "unknown swap kind %d", kind)
	}
}

func (v *Validator) validateRange(r PositionRange) error {
	if _, err := token.OrderPair(r.Token0, r.Token1, true); err != nil {
		return err
	}
	if err := r.Fee.Validate(); err != nil {
		return err
	}
	return pricemath.ValidateTickRange(r.TickLower, r.TickUpper, r.Fee.TickSpacing())
}

func (v *Validator) checkGate(token0, token1 token.TokenID, fee pricemath.FeeTier) error {
	if v.gate == nil {
		return nil
	}
	key := PoolKey(token0, token1, fee)
	if !v.gate.CanTrade(key) {
		return dexerr.ErrTradingHalted.Wrap(key)
	}
	return nil
}

func (v *Validator) positive(field string, d decimal.Decimal) error {
	if d.Sign() <= 0 {
		return dexerr.Invalid(dexerr.ReasonInvalidAmount, field, "must be positive, got %s", d)
	}
	return v.scale(field, d)
}

func (v *Validator) nonNegative(field string, d decimal.Decimal) error {
	if d.Sign() < 0 {
		return dexerr.Invalid(dexerr.ReasonInvalidAmount, field, "must not be negative, got %s", d)
	}
	return v.scale(field, d)
}

func (v *Validator) bounded(field string, min, max decimal.Decimal) error {
	if err := v.nonNegative(field, min); err != nil {
		return err
	}
	if min.GreaterThan(max) {
		return dexerr.Invalid(dexerr.ReasonInvalidSlippage, field, "%s exceeds desired %s", min, max)
	}
	return nil
}

func (v *Validator) scale(field string, d decimal.Decimal) error {
	if -d.Exponent() > v.constraints.MaxDecimals {
		return dexerr.Invalid(dexerr.ReasonInvalidDecimals, field, "more than %d decimal places", v.constraints.MaxDecimals)
	}
	return nil
}

func statusFor(err error) Status {
	if err != nil {
		return StatusRejected
	}
	return StatusValidated
}
