// Package quote prices swaps against one or every fee tier of a pair and
// picks the best execution.
package quote

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/pricemath"
	"github.com/caesar-terminal/dexlink/internal/token"
)

// PoolState is a pool as the exchange reports it. Raw carries the full body
// so the oracle sees fields this package does not interpret.
type PoolState struct {
	Token0    token.TokenID     `json:"token0"`
	Token1    token.TokenID     `json:"token1"`
	Fee       pricemath.FeeTier `json:"fee"`
	SqrtPrice decimal.Decimal   `json:"sqrtPrice"`
	Liquidity decimal.Decimal   `json:"liquidity"`
	Raw       json.RawMessage   `json:"-"`
}

// TradeRequest is a swap normalised to the pool's canonical orientation.
// Amount is positive for exact input and negative for exact output.
type TradeRequest struct {
	ZeroForOne     bool            `json:"zeroForOne"`
	Amount         decimal.Decimal `json:"amount"`
	SqrtPriceLimit decimal.Decimal `json:"sqrtPriceLimit"`
}

// Evaluation is what the oracle returns. Amounts are signed from the pool's
// side: positive flows into the pool, negative flows out.
type Evaluation struct {
	Amount0          decimal.Decimal `json:"amount0"`
	Amount1          decimal.Decimal `json:"amount1"`
	CurrentSqrtPrice decimal.Decimal `json:"currentSqrtPrice"`
	NewSqrtPrice     decimal.Decimal `json:"newSqrtPrice"`
}

// Quote is the priced outcome of a swap through one fee tier. Prices are
// tokenOut per tokenIn. PriceImpact is (NewPrice - CurrentPrice) / CurrentPrice.
type Quote struct {
	Fee          pricemath.FeeTier `json:"fee"`
	InAmount     decimal.Decimal   `json:"inAmount"`
	OutAmount    decimal.Decimal   `json:"outAmount"`
	CurrentPrice decimal.Decimal   `json:"currentPrice"`
	NewPrice     decimal.Decimal   `json:"newPrice"`
	PriceImpact  decimal.Decimal   `json:"priceImpact"`
}

// PoolSource loads pool state. A missing pool should fail with
// dexerr.ErrPoolNotFound or a remote OBJECT_NOT_FOUND.
type PoolSource interface {
	Pool(ctx context.Context, token0, token1 token.TokenID, fee pricemath.FeeTier) (PoolState, error)
}

// Oracle evaluates a trade against pool state. It must be free of side
// effects.
type Oracle interface {
	Evaluate(ctx context.Context, pool PoolState, req TradeRequest) (Evaluation, error)
}
