package dex

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/pricemath"
	"github.com/caesar-terminal/dexlink/internal/quote"
	"github.com/caesar-terminal/dexlink/internal/token"
)

// Position is a concentrated-liquidity position as the exchange reports it.
type Position struct {
	PositionID  string            `json:"positionId"`
	Owner       string            `json:"owner"`
	Token0      token.TokenID     `json:"token0"`
	Token1      token.TokenID     `json:"token1"`
	Fee         pricemath.FeeTier `json:"fee"`
	TickLower   int               `json:"tickLower"`
	TickUpper   int               `json:"tickUpper"`
	Liquidity   decimal.Decimal   `json:"liquidity"`
	TokensOwed0 decimal.Decimal   `json:"tokensOwed0"`
	TokensOwed1 decimal.Decimal   `json:"tokensOwed1"`
}

// UserPositions is one page of an owner's positions. Pass NextBookmark back
// to fetch the following page; it is empty on the last one.
type UserPositions struct {
	Positions    []Position `json:"positions"`
	NextBookmark string     `json:"nextBookMark"`
}

// GetPool loads the pool for a pair in either order.
func (c *Client) GetPool(ctx context.Context, tokenA, tokenB token.TokenID, fee pricemath.FeeTier) (quote.PoolState, error) {
	if err := fee.Validate(); err != nil {
		return quote.PoolState{}, err
	}
	pair, err := token.OrderPair(tokenA, tokenB, false)
	if err != nil {
		return quote.PoolState{}, err
	}
	return c.remote.Pool(ctx, pair.Token0, pair.Token1, fee)
}

// GetPosition loads one position of owner.
func (c *Client) GetPosition(ctx context.Context, owner, positionID string) (Position, error) {
	if err := checkOwner(owner); err != nil {
		return Position{}, err
	}
	if positionID == "" {
		return Position{}, dexerr.Invalid(dexerr.ReasonInvalidAmount, "positionId", "must not be empty")
	}
	q := url.Values{}
	q.Set("owner", owner)
	q.Set("positionId", positionID)

	var p Position
	if err := c.transport.Get(ctx, PositionEndpoint, q, &p); err != nil {
		return Position{}, err
	}
	return p, nil
}

// GetUserPositions lists up to limit positions of owner starting at bookmark.
func (c *Client) GetUserPositions(ctx context.Context, owner string, limit int, bookmark string) (UserPositions, error) {
	if err := checkOwner(owner); err != nil {
		return UserPositions{}, err
	}
	if limit <= 0 {
		return UserPositions{}, dexerr.Invalid(dexerr.ReasonInvalidAmount, "limit", "must be positive, got %d", limit)
	}
	q := url.Values{}
	q.Set("user", owner)
	q.Set("limit", strconv.Itoa(limit))
	if bookmark != "" {
		q.Set("bookMark", bookmark)
	}

	var page UserPositions
	if err := c.transport.Get(ctx, UserPositionsEndpoint, q, &page); err != nil {
		return UserPositions{}, err
	}
	return page, nil
}

// PairedAmount returns how much token1 to deposit with amount0 of token0 in
// [minPrice, maxPrice] at the pool's current price.
func (c *Client) PairedAmount(ctx context.Context, token0, token1 token.TokenID, fee pricemath.FeeTier, amount0 decimal.Decimal, minPrice, maxPrice pricemath.Price, decimals0, decimals1 int32) (decimal.Decimal, error) {
	if _, err := token.OrderPair(token0, token1, true); err != nil {
		return decimal.Decimal{}, err
	}
	pool, err := c.GetPool(ctx, token0, token1, fee)
	if err != nil {
		return decimal.Decimal{}, err
	}
	spot, err := pricemath.SpotPrice(token0, token1, pool.SqrtPrice)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return pricemath.OptimalPairedAmount(amount0, pricemath.NewPrice(spot), minPrice, maxPrice, decimals0, decimals1)
}

// checkOwner accepts "client|..." and "eth|..." style ledger aliases.
func checkOwner(owner string) error {
	prefix, rest, ok := strings.Cut(owner, "|")
	if !ok || prefix == "" || rest == "" {
		return dexerr.Invalid(dexerr.ReasonInvalidAddress, "owner", "%q is not a ledger alias", owner)
	}
	return nil
}
