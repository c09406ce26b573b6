package token

import "github.com/caesar-terminal/dexlink/internal/dexerr"

// OrderedPair is a token pair in canonical order. Only Order produces one.
// Token0Attributes and Token1Attributes are the caller's per-token values,
// moved along with their token.
type OrderedPair[T any] struct {
	Token0           TokenID
	Token1           TokenID
	ZeroForOne       bool
	Token0Attributes []T
	Token1Attributes []T
}

// Order puts first and second into canonical order. ZeroForOne reports
// whether first was already token0.
//
// Strict mode is for state-mutating requests: the exchange enforces canonical
// order and silently swapping the arguments would sign a payload the caller
// did not ask for, so reversed arguments fail with ErrIncorrectOrdering.
// Non-strict mode reorders silently.
func Order[T any](first, second TokenID, strict bool, firstAttrs, secondAttrs []T) (OrderedPair[T], error) {
	if err := first.Validate(); err != nil {
		return OrderedPair[T]{}, err
	}
	if err := second.Validate(); err != nil {
		return OrderedPair[T]{}, err
	}
	if first.Key() == second.Key() {
		return OrderedPair[T]{}, dexerr.Invalid(dexerr.ReasonSameToken, "second", "%s is paired with itself", first)
	}

	if first.Less(second) {
		return OrderedPair[T]{
			Token0:           first,
			Token1:           second,
			ZeroForOne:       true,
			Token0Attributes: firstAttrs,
			Token1Attributes: secondAttrs,
		}, nil
	}

	if strict {
		return OrderedPair[T]{}, dexerr.ErrIncorrectOrdering.Wrapf("%s must come before %s", second, first)
	}
	return OrderedPair[T]{
		Token0:           second,
		Token1:           first,
		ZeroForOne:       false,
		Token0Attributes: secondAttrs,
		Token1Attributes: firstAttrs,
	}, nil
}

// OrderPair is Order without attributes.
func OrderPair(first, second TokenID, strict bool) (OrderedPair[struct{}], error) {
	return Order[struct{}](first, second, strict, nil, nil)
}
