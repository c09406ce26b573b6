// Package signer produces signatures over operation payloads. The core only
// sees the Signer interface; SessionManager signs in-process and
// RemoteSigner forwards to the signer daemon over a Unix domain socket.
package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
)

// SignatureField is the payload key a signature is stored under.
const SignatureField = "signature"

// Operation names accepted for signing.
const (
	MethodSwap                = "swap"
	MethodAddLiquidity        = "addLiquidity"
	MethodRemoveLiquidity     = "removeLiquidity"
	MethodCollectPositionFees = "collectPositionFees"
)

var allowedMethods = map[string]bool{
	MethodSwap:                true,
	MethodAddLiquidity:        true,
	MethodRemoveLiquidity:     true,
	MethodCollectPositionFees: true,
}

// Signer signs a payload for a named operation and returns the payload with
// the signature attached.
type Signer interface {
	Sign(ctx context.Context, method string, payload map[string]any) (map[string]any, error)
}

// MethodAllowed reports whether method may be signed.
func MethodAllowed(method string) bool { return allowedMethods[method] }

// CanonicalJSON encodes payload with object keys sorted at every level and
// the signature field removed. Equivalent payloads always encode identically.
func CanonicalJSON(payload map[string]any) ([]byte, error) {
	stripped := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == SignatureField {
			continue
		}
		stripped[k] = v
	}

	raw, err := json.Marshal(stripped)
	if err != nil {
		return nil, fmt.Errorf("signer: encode payload: %w", err)
	}

	// Decode into generic maps so struct field order and number formatting
	// cannot leak into the digest.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("signer: normalise payload: %w", err)
	}
	return json.Marshal(generic)
}

// Digest is keccak256 of the canonical payload encoding.
func Digest(payload map[string]any) (common.Hash, error) {
	b, err := CanonicalJSON(payload)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}

// RecoverAddress returns the address that signed payload.
func RecoverAddress(payload map[string]any) (common.Address, error) {
	raw, ok := payload[SignatureField].(string)
	if !ok || raw == "" {
		return common.Address{}, dexerr.Invalid(dexerr.ReasonInvalidAddress, SignatureField, "missing")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, dexerr.Invalid(dexerr.ReasonInvalidAddress, SignatureField, "not a %d-byte hex signature", crypto.SignatureLength)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest, err := Digest(payload)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signer: recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// normalise turns payload into plain JSON values (maps, slices, strings,
// float64, bool, nil) so it can cross the gRPC boundary.
func normalise(payload map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signer: encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("signer: normalise payload: %w", err)
	}
	return out, nil
}
