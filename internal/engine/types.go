package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/pricemath"
	"github.com/caesar-terminal/dexlink/internal/token"
)

// SwapKind says which side of a swap the caller fixes.
type SwapKind uint8

const (
	ExactInput SwapKind = iota + 1
	ExactOutput
)

func (k SwapKind) String() string {
	switch k {
	case ExactInput:
		return "exact-input"
	case ExactOutput:
		return "exact-output"
	default:
		return "unknown"
	}
}

// Status tracks the lifecycle of an intent.
type Status uint8

const (
	StatusNew Status = iota + 1
	StatusValidated
	StatusSubmitted
	StatusConfirmed
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusValidated:
		return "validated"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// SwapIntent is a trade the caller wants to make. Tokens are given in trade
// direction; canonical ordering happens at submission.
//
// Amount is the fixed side: the input for ExactInput, the output for
// ExactOutput. AmountLimit is the slippage bound on the other side: the
// minimum output for ExactInput (zero accepts any), the maximum input for
// ExactOutput. A zero SqrtPriceLimit means the protocol bound for the
// direction.
type SwapIntent struct {
	TokenIn        token.TokenID
	TokenOut       token.TokenID
	Kind           SwapKind
	Fee            pricemath.FeeTier
	Amount         decimal.Decimal
	AmountLimit    decimal.Decimal
	SqrtPriceLimit decimal.Decimal
	Status         Status
}

// PositionRange identifies a concentrated-liquidity position's pool and
// bounds. Token0 and Token1 must already be in canonical order.
type PositionRange struct {
	Token0    token.TokenID
	Token1    token.TokenID
	Fee       pricemath.FeeTier
	TickLower int
	TickUpper int
}

// AddLiquidityIntent deposits into a range. PositionID is empty when a new
// position should be opened.
type AddLiquidityIntent struct {
	PositionRange
	PositionID     string
	Amount0Desired decimal.Decimal
	Amount1Desired decimal.Decimal
	Amount0Min     decimal.Decimal
	Amount1Min     decimal.Decimal
	Status         Status
}

// RemoveLiquidityIntent burns liquidity from an existing position.
type RemoveLiquidityIntent struct {
	PositionRange
	PositionID string
	Liquidity  decimal.Decimal
	Amount0Min decimal.Decimal
	Amount1Min decimal.Decimal
	Status     Status
}

// CollectFeesIntent withdraws accrued fees from a position.
type CollectFeesIntent struct {
	PositionRange
	PositionID       string
	Amount0Requested decimal.Decimal
	Amount1Requested decimal.Decimal
	Status           Status
}

// PoolKey is the stable identifier of a pool used by gates and logs.
func PoolKey(token0, token1 token.TokenID, fee pricemath.FeeTier) string {
	return fmt.Sprintf("%s/%s/%d", token0.Key(), token1.Key(), int(fee))
}
