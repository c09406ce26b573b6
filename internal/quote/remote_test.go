package quote_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/gateway"
	"github.com/caesar-terminal/dexlink/internal/pricemath"
	"github.com/caesar-terminal/dexlink/internal/quote"
	"github.com/caesar-terminal/dexlink/internal/token"
)

func TestRemote_AggregatesOverHTTP(t *testing.T) {
	gala := token.MustParse("GALA|Unit|none|none")
	silk := token.MustParse("SILK|Unit|none|none")

	mux := http.NewServeMux()
	mux.HandleFunc(quote.PoolEndpoint, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GALA$Unit$none$none", r.URL.Query().Get("token0"))
		require.Equal(t, "SILK$Unit$none$none", r.URL.Query().Get("token1"))
		if r.URL.Query().Get("fee") == "500" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"ErrorKey":"OBJECT_NOT_FOUND","Message":"pool missing"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"Data":{"sqrtPrice":"1","liquidity":"500","fee":`+r.URL.Query().Get("fee")+`}}`)
	})
	mux.HandleFunc(quote.EvaluateEndpoint, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Fee        int             `json:"fee"`
			ZeroForOne bool            `json:"zeroForOne"`
			Amount     string          `json:"amount"`
			Pool       json.RawMessage `json:"pool"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.True(t, body.ZeroForOne)
		require.Equal(t, "10", body.Amount)
		require.NotEmpty(t, body.Pool)

		out := "-8"
		if body.Fee == 10000 {
			out = "-9"
		}
		_, _ = io.WriteString(w, `{"Data":{"amount0":"10","amount1":"`+out+`","currentSqrtPrice":"1","newSqrtPrice":"0.95"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	remote := quote.NewRemote(gateway.NewTransport(gateway.TransportConfig{BaseURL: srv.URL}, nil, nil))
	agg := quote.NewAggregator(remote, remote, nil)

	q, err := agg.QuoteExactInput(context.Background(), gala, silk, decimal.NewFromInt(10), nil)
	require.NoError(t, err)
	require.Equal(t, pricemath.Fee100, q.Fee)
	require.Equal(t, "9", q.OutAmount.String())

	fee := pricemath.Fee005
	_, err = agg.QuoteExactInput(context.Background(), gala, silk, decimal.NewFromInt(10), &fee)
	require.ErrorIs(t, err, dexerr.ErrHTTPRequestFailed)
	require.True(t, quote.IsAbsent(err))
}

func TestRemote_AllTiersMissingIsNoPool(t *testing.T) {
	gala := token.MustParse("GALA|Unit|none|none")
	silk := token.MustParse("SILK|Unit|none|none")

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(quote.PoolEndpoint, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"ErrorKey":"OBJECT_NOT_FOUND","Message":"pool missing"}}`)
	})
	mux.HandleFunc(quote.EvaluateEndpoint, func(w http.ResponseWriter, r *http.Request) {
		t.Error("evaluate called without a pool")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	remote := quote.NewRemote(gateway.NewTransport(gateway.TransportConfig{BaseURL: srv.URL}, nil, nil))
	agg := quote.NewAggregator(remote, remote, nil)

	_, err := agg.QuoteExactInput(context.Background(), gala, silk, decimal.NewFromInt(10), nil)
	require.ErrorIs(t, err, dexerr.ErrNoPoolAvailable)
	require.Equal(t, "NoPoolAvailable", dexerr.KindOf(err))
	require.EqualValues(t, len(pricemath.FeeTiers), calls.Load())
}
