// Package token identifies ledger assets and puts token pairs into the
// canonical order the exchange stores them in.
package token

import (
	"encoding/json"
	"strings"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
)

// keySeparator joins the parts of a TokenID into its canonical string. It is
// the ledger's composite-key separator and may not appear inside a part.
const keySeparator = "$"

// displaySeparator is the human-facing form accepted by Parse.
const displaySeparator = "|"

// TokenID is the 4-part composite key of a ledger asset.
type TokenID struct {
	Collection    string `json:"collection"`
	Category      string `json:"category"`
	Type          string `json:"type"`
	AdditionalKey string `json:"additionalKey"`
}

// Parse reads "GALA|Unit|none|none" or "GALA$Unit$none$none".
func Parse(s string) (TokenID, error) {
	sep := displaySeparator
	if !strings.Contains(s, displaySeparator) {
		sep = keySeparator
	}
	parts := strings.Split(s, sep)
	if len(parts) != 4 {
		return TokenID{}, dexerr.ErrInvalidTokenIdentifier.Wrapf("%q: expected 4 parts, got %d", s, len(parts))
	}
	id := TokenID{Collection: parts[0], Category: parts[1], Type: parts[2], AdditionalKey: parts[3]}
	if err := id.Validate(); err != nil {
		return TokenID{}, err
	}
	return id, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) TokenID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Validate rejects empty parts and parts containing a separator.
func (t TokenID) Validate() error {
	for _, p := range t.parts() {
		if p == "" {
			return dexerr.ErrInvalidTokenIdentifier.Wrapf("%q: empty part", t.String())
		}
		if strings.Contains(p, keySeparator) || strings.Contains(p, displaySeparator) {
			return dexerr.ErrInvalidTokenIdentifier.Wrapf("%q: separator inside part", p)
		}
	}
	return nil
}

func (t TokenID) parts() [4]string {
	return [4]string{t.Collection, t.Category, t.Type, t.AdditionalKey}
}

// Key is the canonical string that defines ordering.
func (t TokenID) Key() string {
	p := t.parts()
	return strings.Join(p[:], keySeparator)
}

// String returns the display form.
func (t TokenID) String() string {
	p := t.parts()
	return strings.Join(p[:], displaySeparator)
}

// Less reports whether t canonically precedes o.
func (t TokenID) Less(o TokenID) bool {
	return t.Key() < o.Key()
}

// UnmarshalJSON accepts both the object form and the display string form.
func (t *TokenID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		id, err := Parse(s)
		if err != nil {
			return err
		}
		*t = id
		return nil
	}
	type plain TokenID
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return dexerr.ErrInvalidTokenIdentifier.Wrap(err.Error())
	}
	*t = TokenID(p)
	return t.Validate()
}
