package dex

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/engine"
	"github.com/caesar-terminal/dexlink/internal/gateway"
	"github.com/caesar-terminal/dexlink/internal/pricemath"
	"github.com/caesar-terminal/dexlink/internal/quote"
	"github.com/caesar-terminal/dexlink/internal/signer"
	"github.com/caesar-terminal/dexlink/internal/token"
)

// SwapRequest asks PrepareSwap to quote a trade and bound it by slippage.
type SwapRequest struct {
	TokenIn     token.TokenID
	TokenOut    token.TokenID
	Kind        engine.SwapKind
	Amount      decimal.Decimal
	Fee         *pricemath.FeeTier // nil quotes every tier
	SlippageBps int
	// LimitDecimals is the precision of the bounded side: tokenOut for
	// ExactInput, tokenIn for ExactOutput.
	LimitDecimals int32
}

// PrepareSwap quotes req and returns a SwapIntent on the winning tier with
// AmountLimit set from the slippage tolerance.
func (c *Client) PrepareSwap(ctx context.Context, req SwapRequest) (*engine.SwapIntent, quote.Quote, error) {
	var (
		q   quote.Quote
		err error
	)
	switch req.Kind {
	case engine.ExactInput:
		q, err = c.quotes.QuoteExactInput(ctx, req.TokenIn, req.TokenOut, req.Amount, req.Fee)
	case engine.ExactOutput:
		q, err = c.quotes.QuoteExactOutput(ctx, req.TokenIn, req.TokenOut, req.Amount, req.Fee)
	default:
		return nil, quote.Quote{}, dexerr.Invalid(dexerr.ReasonInvalidAmount, "kind", "unknown swap kind %d", req.Kind)
	}
	if err != nil {
		return nil, quote.Quote{}, err
	}

	quoted := q.OutAmount
	if req.Kind == engine.ExactOutput {
		quoted = q.InAmount
	}
	limit, err := c.validator.SlippageBound(quoted, req.SlippageBps, req.Kind, req.LimitDecimals)
	if err != nil {
		return nil, quote.Quote{}, err
	}

	return &engine.SwapIntent{
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		Kind:        req.Kind,
		Fee:         q.Fee,
		Amount:      req.Amount,
		AmountLimit: limit,
		Status:      engine.StatusNew,
	}, q, nil
}

// Swap validates, signs and submits in. The amount is sent negative for
// ExactOutput, and a zero SqrtPriceLimit becomes the protocol bound for the
// swap direction.
func (c *Client) Swap(ctx context.Context, in *engine.SwapIntent) (*gateway.Handle, error) {
	pair, err := c.validator.ValidateSwap(in)
	if err != nil {
		return nil, err
	}

	amount := in.Amount
	if in.Kind == engine.ExactOutput {
		amount = amount.Neg()
	}
	limit := in.SqrtPriceLimit
	if limit.IsZero() {
		limit = pricemath.SqrtPriceLimit(pair.ZeroForOne)
	}

	body := map[string]any{
		"token0":         pair.Token0,
		"token1":         pair.Token1,
		"fee":            int(in.Fee),
		"zeroForOne":     pair.ZeroForOne,
		"amount":         amount.String(),
		"sqrtPriceLimit": limit.String(),
	}
	if in.Kind == engine.ExactInput {
		body["amountOutMinimum"] = in.AmountLimit.String()
	} else {
		body["amountInMaximum"] = in.AmountLimit.String()
	}

	h, err := c.gw.Submit(ctx, signer.MethodSwap, SwapEndpoint, body)
	in.Status = submitted(err)
	return h, err
}

// AddByPriceRequest deposits into the range between two prices of token1 in
// token0. A zero MinPrice or infinite MaxPrice spans to the protocol bound.
type AddByPriceRequest struct {
	Token0         token.TokenID
	Token1         token.TokenID
	Fee            pricemath.FeeTier
	MinPrice       pricemath.Price
	MaxPrice       pricemath.Price
	PositionID     string
	Amount0Desired decimal.Decimal
	Amount1Desired decimal.Decimal
	Amount0Min     decimal.Decimal
	Amount1Min     decimal.Decimal
}

// AddLiquidityByPrice converts the price range to ticks on the fee tier's
// spacing and submits the deposit.
func (c *Client) AddLiquidityByPrice(ctx context.Context, req AddByPriceRequest) (*gateway.Handle, error) {
	if err := req.Fee.Validate(); err != nil {
		return nil, err
	}
	spacing := req.Fee.TickSpacing()
	lower, err := pricemath.TicksForPrice(req.MinPrice, spacing)
	if err != nil {
		return nil, err
	}
	upper, err := pricemath.TicksForPrice(req.MaxPrice, spacing)
	if err != nil {
		return nil, err
	}
	return c.AddLiquidityByTicks(ctx, &engine.AddLiquidityIntent{
		PositionRange: engine.PositionRange{
			Token0:    req.Token0,
			Token1:    req.Token1,
			Fee:       req.Fee,
			TickLower: lower,
			TickUpper: upper,
		},
		PositionID:     req.PositionID,
		Amount0Desired: req.Amount0Desired,
		Amount1Desired: req.Amount1Desired,
		Amount0Min:     req.Amount0Min,
		Amount1Min:     req.Amount1Min,
		Status:         engine.StatusNew,
	})
}

// AddLiquidityByTicks validates and submits a deposit. Tokens must already be
// in canonical order.
func (c *Client) AddLiquidityByTicks(ctx context.Context, in *engine.AddLiquidityIntent) (*gateway.Handle, error) {
	if err := c.validator.ValidateAddLiquidity(in); err != nil {
		return nil, err
	}
	body := rangeBody(in.PositionRange)
	body["amount0Desired"] = in.Amount0Desired.String()
	body["amount1Desired"] = in.Amount1Desired.String()
	body["amount0Min"] = in.Amount0Min.String()
	body["amount1Min"] = in.Amount1Min.String()
	if in.PositionID != "" {
		body["positionId"] = in.PositionID
	}

	h, err := c.gw.Submit(ctx, signer.MethodAddLiquidity, AddLiquidityEndpoint, body)
	in.Status = submitted(err)
	return h, err
}

// RemoveLiquidity burns liquidity from a position.
func (c *Client) RemoveLiquidity(ctx context.Context, in *engine.RemoveLiquidityIntent) (*gateway.Handle, error) {
	if err := c.validator.ValidateRemoveLiquidity(in); err != nil {
		return nil, err
	}
	body := rangeBody(in.PositionRange)
	body["positionId"] = in.PositionID
	body["amount"] = in.Liquidity.String()
	body["amount0Min"] = in.Amount0Min.String()
	body["amount1Min"] = in.Amount1Min.String()

	h, err := c.gw.Submit(ctx, signer.MethodRemoveLiquidity, RemoveLiquidityEndpoint, body)
	in.Status = submitted(err)
	return h, err
}

// CollectPositionFees withdraws accrued fees.
func (c *Client) CollectPositionFees(ctx context.Context, in *engine.CollectFeesIntent) (*gateway.Handle, error) {
	if err := c.validator.ValidateCollectFees(in); err != nil {
		return nil, err
	}
	body := rangeBody(in.PositionRange)
	body["positionId"] = in.PositionID
	body["amount0Requested"] = in.Amount0Requested.String()
	body["amount1Requested"] = in.Amount1Requested.String()

	h, err := c.gw.Submit(ctx, signer.MethodCollectPositionFees, CollectFeesEndpoint, body)
	in.Status = submitted(err)
	return h, err
}

// QuoteExactInput prices selling amount of tokenIn.
func (c *Client) QuoteExactInput(ctx context.Context, tokenIn, tokenOut token.TokenID, amount decimal.Decimal, fee *pricemath.FeeTier) (quote.Quote, error) {
	return c.quotes.QuoteExactInput(ctx, tokenIn, tokenOut, amount, fee)
}

// QuoteExactOutput prices buying amount of tokenOut.
func (c *Client) QuoteExactOutput(ctx context.Context, tokenIn, tokenOut token.TokenID, amount decimal.Decimal, fee *pricemath.FeeTier) (quote.Quote, error) {
	return c.quotes.QuoteExactOutput(ctx, tokenIn, tokenOut, amount, fee)
}

func rangeBody(r engine.PositionRange) map[string]any {
	return map[string]any{
		"token0":    r.Token0,
		"token1":    r.Token1,
		"fee":       int(r.Fee),
		"tickLower": r.TickLower,
		"tickUpper": r.TickUpper,
	}
}

func submitted(err error) engine.Status {
	if err != nil {
		return engine.StatusRejected
	}
	return engine.StatusSubmitted
}
