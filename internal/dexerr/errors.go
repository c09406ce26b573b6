// Package dexerr defines the error taxonomy shared by every dexlink package.
// Each error carries a stable machine-readable kind (see KindOf) and, where
// the failure has one, a structured detail payload (see DetailOf).
package dexerr

import (
	"encoding/json"
	"errors"
	"fmt"

	errorsmod "cosmossdk.io/errors"
)

// Codespace scopes the registered error codes.
const Codespace = "dexlink"

// Sentinel errors. Match with errors.Is.
var (
	ErrNoSigner                       = errorsmod.Register(Codespace, 2, "no signer configured")
	ErrIncorrectOrdering              = errorsmod.Register(Codespace, 3, "tokens are not in canonical order")
	ErrInvalidTokenIdentifier         = errorsmod.Register(Codespace, 4, "invalid token identifier")
	ErrNoPoolAvailable                = errorsmod.Register(Codespace, 5, "no pool available for any fee tier")
	ErrSocketConnectionRequired       = errorsmod.Register(Codespace, 6, "confirmation channel is not connected")
	ErrTransactionIDNotRegistered     = errorsmod.Register(Codespace, 7, "transaction id not registered")
	ErrTransactionIDAlreadyRegistered = errorsmod.Register(Codespace, 8, "transaction id already registered")
	ErrTransactionWaitTimeout         = errorsmod.Register(Codespace, 9, "timed out waiting for transaction")
	ErrTransactionWaitFailed          = errorsmod.Register(Codespace, 10, "transaction failed")
	ErrValidation                     = errorsmod.Register(Codespace, 11, "validation failed")
	ErrHTTPRequestFailed              = errorsmod.Register(Codespace, 12, "http request failed")
	ErrSocketDisabled                 = errorsmod.Register(Codespace, 13, "confirmation channel disabled")
	ErrPoolNotFound                   = errorsmod.Register(Codespace, 14, "pool not found")
	ErrInsufficientLiquidity          = errorsmod.Register(Codespace, 15, "insufficient liquidity")
	ErrSessionUnavailable             = errorsmod.Register(Codespace, 16, "signing session unavailable")
	ErrTradingHalted                  = errorsmod.Register(Codespace, 17, "trading halted")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNoSigner, "NoSigner"},
	{ErrIncorrectOrdering, "IncorrectOrdering"},
	{ErrInvalidTokenIdentifier, "InvalidTokenIdentifier"},
	{ErrNoPoolAvailable, "NoPoolAvailable"},
	{ErrSocketConnectionRequired, "SocketConnectionRequired"},
	{ErrTransactionIDNotRegistered, "TransactionIdNotRegistered"},
	{ErrTransactionIDAlreadyRegistered, "TransactionIdAlreadyRegistered"},
	{ErrTransactionWaitTimeout, "TransactionWaitTimeout"},
	{ErrTransactionWaitFailed, "TransactionWaitFailed"},
	{ErrValidation, "ValidationError"},
	{ErrHTTPRequestFailed, "HttpRequestFailed"},
	{ErrSocketDisabled, "SocketDisabled"},
	{ErrPoolNotFound, "PoolNotFound"},
	{ErrInsufficientLiquidity, "InsufficientLiquidity"},
	{ErrSessionUnavailable, "SessionUnavailable"},
	{ErrTradingHalted, "TradingHalted"},
}

// KindOf returns the stable kind name of err, or "Unknown" when err does not
// belong to this taxonomy.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// DetailOf returns the structured payload attached to err, if any.
func DetailOf(err error) any {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	var we *WaitFailedError
	if errors.As(err, &we) {
		return we
	}
	return nil
}

// Reason sub-tags a ValidationError.
type Reason string

const (
	ReasonInvalidAmount   Reason = "invalid_amount"
	ReasonInvalidPrice    Reason = "invalid_price"
	ReasonInvalidTick     Reason = "invalid_tick"
	ReasonInvalidFee      Reason = "invalid_fee"
	ReasonInvalidAddress  Reason = "invalid_address"
	ReasonInvalidSlippage Reason = "invalid_slippage"
	ReasonInvalidDecimals Reason = "invalid_decimals"
	ReasonSameToken       Reason = "same_token"
	ReasonPriceOutOfRange Reason = "price_out_of_range"
	ReasonInvalidTracking Reason = "invalid_tracking_id"
	ReasonInvalidTimeout  Reason = "invalid_timeout"
)

// ValidationError reports malformed numeric, tick, fee or address input.
type ValidationError struct {
	Reason Reason `json:"reason"`
	Field  string `json:"field"`
	Detail string `json:"detail,omitempty"`
}

// Invalid builds a ValidationError for field.
func Invalid(reason Reason, field, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Field: field, Detail: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s (%s)", ErrValidation.Error(), e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s): %s", ErrValidation.Error(), e.Field, e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransportError is a failed request/response call. ErrorKey and Message are
// parsed from the remote error body when it has one.
type TransportError struct {
	URL      string `json:"url"`
	Status   int    `json:"status"`
	ErrorKey string `json:"errorKey,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: %s returned %d", ErrHTTPRequestFailed.Error(), e.URL, e.Status)
	if e.ErrorKey != "" {
		msg += " " + e.ErrorKey
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *TransportError) Unwrap() error { return ErrHTTPRequestFailed }

// WaitFailedError is returned to a caller that awaited an operation the remote
// system reported as FAILED.
type WaitFailedError struct {
	TrackingID string          `json:"trackingId"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

func (e *WaitFailedError) Error() string {
	if len(e.Detail) == 0 {
		return fmt.Sprintf("%s: %s", ErrTransactionWaitFailed.Error(), e.TrackingID)
	}
	return fmt.Sprintf("%s: %s: %s", ErrTransactionWaitFailed.Error(), e.TrackingID, e.Detail)
}

func (e *WaitFailedError) Unwrap() error { return ErrTransactionWaitFailed }
