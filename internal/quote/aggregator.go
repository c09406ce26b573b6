package quote

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/pricemath"
	"github.com/caesar-terminal/dexlink/internal/token"
)

// ErrorKeyObjectNotFound is the remote error key for a pool that does not
// exist.
const ErrorKeyObjectNotFound = "OBJECT_NOT_FOUND"

// impactPrecision is the number of decimal places kept in PriceImpact.
const impactPrecision = 18

type kind uint8

const (
	exactInput kind = iota
	exactOutput
)

// Aggregator quotes swaps across fee tiers.
type Aggregator struct {
	pools  PoolSource
	oracle Oracle
	tiers  []pricemath.FeeTier
	log    *slog.Logger
}

// NewAggregator creates an Aggregator over every supported fee tier.
func NewAggregator(pools PoolSource, oracle Oracle, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		pools:  pools,
		oracle: oracle,
		tiers:  pricemath.FeeTiers,
		log:    log,
	}
}

// QuoteExactInput prices selling amount of tokenIn. With fee set only that
// tier is asked and its error is returned as is. Otherwise every tier is asked
// concurrently and the quote with the greatest OutAmount wins.
func (a *Aggregator) QuoteExactInput(ctx context.Context, tokenIn, tokenOut token.TokenID, amount decimal.Decimal, fee *pricemath.FeeTier) (Quote, error) {
	return a.quote(ctx, exactInput, tokenIn, tokenOut, amount, fee)
}

// QuoteExactOutput prices buying amount of tokenOut. Without fee the quote
// with the least InAmount wins.
func (a *Aggregator) QuoteExactOutput(ctx context.Context, tokenIn, tokenOut token.TokenID, amount decimal.Decimal, fee *pricemath.FeeTier) (Quote, error) {
	return a.quote(ctx, exactOutput, tokenIn, tokenOut, amount, fee)
}

func (a *Aggregator) quote(ctx context.Context, k kind, tokenIn, tokenOut token.TokenID, amount decimal.Decimal, fee *pricemath.FeeTier) (Quote, error) {
	if amount.Sign() <= 0 {
		return Quote{}, dexerr.Invalid(dexerr.ReasonInvalidAmount, "amount", "must be positive, got %s", amount)
	}
	pair, err := token.OrderPair(tokenIn, tokenOut, false)
	if err != nil {
		return Quote{}, err
	}

	if fee != nil {
		if err := fee.Validate(); err != nil {
			return Quote{}, err
		}
		return a.quoteTier(ctx, k, pair, tokenIn, tokenOut, amount, *fee)
	}

	results := make([]*Quote, len(a.tiers))
	g, gctx := errgroup.WithContext(ctx)
	for i, tier := range a.tiers {
		g.Go(func() error {
			q, err := a.quoteTier(gctx, k, pair, tokenIn, tokenOut, amount, tier)
			if err != nil {
				if IsAbsent(err) {
					a.log.Debug("quote: fee tier absent", "fee", int(tier), "error", err)
					return nil
				}
				return err
			}
			results[i] = &q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Quote{}, err
	}

	best := pick(k, results)
	if best == nil {
		return Quote{}, dexerr.ErrNoPoolAvailable.Wrapf("%s -> %s", tokenIn, tokenOut)
	}
	return *best, nil
}

// pick returns the best non-nil quote. Ties keep the earlier one.
func pick(k kind, results []*Quote) *Quote {
	var best *Quote
	for _, q := range results {
		if q == nil {
			continue
		}
		if best == nil {
			best = q
			continue
		}
		switch k {
		case exactInput:
			if q.OutAmount.GreaterThan(best.OutAmount) {
				best = q
			}
		case exactOutput:
			if q.InAmount.LessThan(best.InAmount) {
				best = q
			}
		}
	}
	return best
}

func (a *Aggregator) quoteTier(ctx context.Context, k kind, pair token.OrderedPair[struct{}], tokenIn, tokenOut token.TokenID, amount decimal.Decimal, fee pricemath.FeeTier) (Quote, error) {
	pool, err := a.pools.Pool(ctx, pair.Token0, pair.Token1, fee)
	if err != nil {
		return Quote{}, err
	}
	if pool.Liquidity.Sign() <= 0 {
		return Quote{}, dexerr.ErrInsufficientLiquidity.Wrapf("fee tier %d", int(fee))
	}

	req := TradeRequest{
		ZeroForOne:     pair.ZeroForOne,
		Amount:         amount,
		SqrtPriceLimit: pricemath.SqrtPriceLimit(pair.ZeroForOne),
	}
	if k == exactOutput {
		req.Amount = amount.Neg()
	}

	ev, err := a.oracle.Evaluate(ctx, pool, req)
	if err != nil {
		return Quote{}, err
	}
	return toQuote(fee, pair.ZeroForOne, tokenIn, tokenOut, ev)
}

func toQuote(fee pricemath.FeeTier, zeroForOne bool, tokenIn, tokenOut token.TokenID, ev Evaluation) (Quote, error) {
	in, out := ev.Amount0, ev.Amount1
	if !zeroForOne {
		in, out = ev.Amount1, ev.Amount0
	}

	current, err := pricemath.SpotPrice(tokenIn, tokenOut, ev.CurrentSqrtPrice)
	if err != nil {
		return Quote{}, err
	}
	next, err := pricemath.SpotPrice(tokenIn, tokenOut, ev.NewSqrtPrice)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Fee:          fee,
		InAmount:     in.Abs(),
		OutAmount:    out.Abs(),
		CurrentPrice: current,
		NewPrice:     next,
		PriceImpact:  next.Sub(current).DivRound(current, impactPrecision),
	}, nil
}

// IsAbsent reports whether err means a fee tier has no usable pool.
func IsAbsent(err error) bool {
	if errors.Is(err, dexerr.ErrPoolNotFound) || errors.Is(err, dexerr.ErrInsufficientLiquidity) {
		return true
	}
	var te *dexerr.TransportError
	return errors.As(err, &te) && te.ErrorKey == ErrorKeyObjectNotFound
}
