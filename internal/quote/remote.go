package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/pricemath"
	"github.com/caesar-terminal/dexlink/internal/token"
)

// Endpoints used by the remote pool source and oracle.
const (
	PoolEndpoint     = "/v1/trade/pool"
	EvaluateEndpoint = "/v1/trade/evaluate"
)

// Requester is the read side of the exchange transport.
type Requester interface {
	Get(ctx context.Context, endpoint string, query url.Values, out any) error
	PostData(ctx context.Context, endpoint string, body, out any) error
}

// Remote serves pool state and evaluations from the exchange API.
type Remote struct {
	req Requester
}

// NewRemote wraps req.
func NewRemote(req Requester) *Remote { return &Remote{req: req} }

// Pool fetches one pool. A missing pool surfaces as a transport error keyed
// OBJECT_NOT_FOUND.
func (r *Remote) Pool(ctx context.Context, token0, token1 token.TokenID, fee pricemath.FeeTier) (PoolState, error) {
	q := url.Values{}
	q.Set("token0", token0.Key())
	q.Set("token1", token1.Key())
	q.Set("fee", strconv.Itoa(int(fee)))

	var raw json.RawMessage
	if err := r.req.Get(ctx, PoolEndpoint, q, &raw); err != nil {
		return PoolState{}, err
	}
	var body struct {
		SqrtPrice decimal.Decimal `json:"sqrtPrice"`
		Liquidity decimal.Decimal `json:"liquidity"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return PoolState{}, fmt.Errorf("quote: decode pool %s/%s/%d: %w", token0, token1, int(fee), err)
		}
	}
	return PoolState{
		Token0:    token0,
		Token1:    token1,
		Fee:       fee,
		SqrtPrice: body.SqrtPrice,
		Liquidity: body.Liquidity,
		Raw:       raw,
	}, nil
}

// Evaluate asks the exchange to run req against pool.
func (r *Remote) Evaluate(ctx context.Context, pool PoolState, req TradeRequest) (Evaluation, error) {
	body := map[string]any{
		"token0":         pool.Token0,
		"token1":         pool.Token1,
		"fee":            int(pool.Fee),
		"zeroForOne":     req.ZeroForOne,
		"amount":         req.Amount.String(),
		"sqrtPriceLimit": req.SqrtPriceLimit.String(),
	}
	if len(pool.Raw) > 0 {
		body["pool"] = pool.Raw
	}
	var ev Evaluation
	if err := r.req.PostData(ctx, EvaluateEndpoint, body, &ev); err != nil {
		return Evaluation{}, err
	}
	return ev, nil
}
