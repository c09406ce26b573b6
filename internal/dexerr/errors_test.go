package dexerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"sentinel", ErrNoSigner, "NoSigner"},
		{"wrapped sentinel", fmt.Errorf("submit: %w", ErrIncorrectOrdering), "IncorrectOrdering"},
		{"registered wrap", ErrNoPoolAvailable.Wrapf("pair %s", "A/B"), "NoPoolAvailable"},
		{"validation", Invalid(ReasonInvalidTick, "tickLower", "not a multiple of %d", 60), "ValidationError"},
		{"transport", &TransportError{URL: "http://x/v1/swap", Status: 400}, "HttpRequestFailed"},
		{"wait failed", &WaitFailedError{TrackingID: "tx-1"}, "TransactionWaitFailed"},
		{"foreign", errors.New("boom"), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestDetailOf(t *testing.T) {
	ve := Invalid(ReasonInvalidFee, "fee", "unsupported fee %d", 42)
	require.Same(t, ve, DetailOf(fmt.Errorf("validate: %w", ve)))

	te := &TransportError{URL: "http://x", Status: 409, ErrorKey: "CONFLICT", Message: "duplicate"}
	require.Same(t, te, DetailOf(te))

	we := &WaitFailedError{TrackingID: "tx-9", Detail: json.RawMessage(`{"reason":"slippage"}`)}
	require.Same(t, we, DetailOf(we))

	require.Nil(t, DetailOf(ErrNoSigner))
}

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{URL: "http://gw/v1/trade/swap", Status: 400, ErrorKey: "VALIDATION_FAILED", Message: "bad amount"}
	require.Equal(t, "http request failed: http://gw/v1/trade/swap returned 400 VALIDATION_FAILED: bad amount", err.Error())
	require.ErrorIs(t, err, ErrHTTPRequestFailed)
}

func TestValidationErrorIs(t *testing.T) {
	err := Invalid(ReasonSameToken, "token1", "")
	require.ErrorIs(t, err, ErrValidation)
	require.NotErrorIs(t, err, ErrNoSigner)
	require.Equal(t, "validation failed: token1 (same_token)", err.Error())
}
