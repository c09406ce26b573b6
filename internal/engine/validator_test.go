package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/pricemath"
	"github.com/caesar-terminal/dexlink/internal/token"
)

// mockGate implements Gate for testing.
type mockGate struct {
	canTrade bool
	lastKey  string
}

func (m *mockGate) CanTrade(key string) bool {
	m.lastKey = key
	return m.canTrade
}

var (
	gala = token.MustParse("GALA|Unit|none|none")
	silk = token.MustParse("SILK|Unit|none|none")
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func validSwap() *SwapIntent {
	return &SwapIntent{
		TokenIn:     silk,
		TokenOut:    gala,
		Kind:        ExactInput,
		Fee:         pricemath.Fee030,
		Amount:      dec("10"),
		AmountLimit: dec("9.5"),
		Status:      StatusNew,
	}
}

func validRange() PositionRange {
	return PositionRange{
		Token0:    gala,
		Token1:    silk,
		Fee:       pricemath.Fee030,
		TickLower: -600,
		TickUpper: 600,
	}
}

func requireReason(t *testing.T, err error, want dexerr.Reason) {
	t.Helper()
	var ve *dexerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError(%s), got %v", want, err)
	}
	if ve.Reason != want {
		t.Fatalf("expected reason %s, got %s (%v)", want, ve.Reason, err)
	}
}

func TestValidateSwap_Success(t *testing.T) {
	gate := &mockGate{canTrade: true}
	v := NewValidator(gate)
	in := validSwap()

	pair, err := v.ValidateSwap(in)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if in.Status != StatusValidated {
		t.Fatalf("expected StatusValidated, got %s", in.Status)
	}
	if pair.Token0 != gala || pair.ZeroForOne {
		t.Fatalf("expected GALA as token0 and zeroForOne=false, got %+v", pair)
	}
	if want := PoolKey(gala, silk, pricemath.Fee030); gate.lastKey != want {
		t.Fatalf("gate asked about %q, want %q", gate.lastKey, want)
	}
}

func TestValidateSwap_SameToken(t *testing.T) {
	v := NewValidator(nil)
	in := validSwap()
	in.TokenOut = in.TokenIn

	_, err := v.ValidateSwap(in)
	requireReason(t, err, dexerr.ReasonSameToken)
	if in.Status != StatusRejected {
		t.Fatalf("expected StatusRejected, got %s", in.Status)
	}
}

func TestValidateSwap_InvalidFee(t *testing.T) {
	v := NewValidator(nil)
	in := validSwap()
	in.Fee = 100

	_, err := v.ValidateSwap(in)
	requireReason(t, err, dexerr.ReasonInvalidFee)
}

func TestValidateSwap_Amounts(t *testing.T) {
	v := NewValidator(nil)

	in := validSwap()
	in.Amount = decimal.Zero
	if _, err := v.ValidateSwap(in); !errors.Is(err, dexerr.ErrValidation) {
		t.Fatalf("zero amount should fail, got %v", err)
	}

	in = validSwap()
	in.AmountLimit = decimal.Zero
	if _, err := v.ValidateSwap(in); err != nil {
		t.Fatalf("exact input accepts a zero minimum, got %v", err)
	}

	in = validSwap()
	in.Kind = ExactOutput
	in.AmountLimit = decimal.Zero
	_, err := v.ValidateSwap(in)
	requireReason(t, err, dexerr.ReasonInvalidAmount)

	in = validSwap()
	in.Kind = 0
	if _, err := v.ValidateSwap(in); err == nil {
		t.Fatal("expected error for unknown swap kind")
	}

	in = validSwap()
	in.Amount = dec("1e-40")
	_, err = v.ValidateSwap(in)
	requireReason(t, err, dexerr.ReasonInvalidDecimals)
}

func TestValidateSwap_SqrtPriceLimit(t *testing.T) {
	v := NewValidator(nil)

	// SILK -> GALA is oneForZero: the limit may not exceed the maximum.
	in := validSwap()
	in.SqrtPriceLimit = pricemath.MaxSqrtPriceLimit.Add(decimal.NewFromInt(1))
	_, err := v.ValidateSwap(in)
	requireReason(t, err, dexerr.ReasonInvalidPrice)

	in = validSwap()
	in.TokenIn, in.TokenOut = gala, silk
	in.SqrtPriceLimit = dec("0.0000000000000000000000001")
	_, err = v.ValidateSwap(in)
	requireReason(t, err, dexerr.ReasonInvalidPrice)

	in = validSwap()
	in.SqrtPriceLimit = dec("1.5")
	if _, err := v.ValidateSwap(in); err != nil {
		t.Fatalf("in-range limit should pass, got %v", err)
	}
}

func TestValidateSwap_Halted(t *testing.T) {
	v := NewValidator(&mockGate{canTrade: false})
	in := validSwap()

	_, err := v.ValidateSwap(in)
	if !errors.Is(err, dexerr.ErrTradingHalted) {
		t.Fatalf("expected ErrTradingHalted, got %v", err)
	}
	if in.Status != StatusRejected {
		t.Fatalf("expected StatusRejected, got %s", in.Status)
	}
}

func TestValidateAddLiquidity(t *testing.T) {
	v := NewValidator(&mockGate{canTrade: true})

	in := &AddLiquidityIntent{
		PositionRange:  validRange(),
		Amount0Desired: dec("100"),
		Amount1Desired: dec("50"),
		Amount0Min:     dec("99"),
		Amount1Min:     dec("49"),
	}
	if err := v.ValidateAddLiquidity(in); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if in.Status != StatusValidated {
		t.Fatalf("expected StatusValidated, got %s", in.Status)
	}

	reversed := *in
	reversed.Token0, reversed.Token1 = silk, gala
	if err := v.ValidateAddLiquidity(&reversed); !errors.Is(err, dexerr.ErrIncorrectOrdering) {
		t.Fatalf("expected ErrIncorrectOrdering, got %v", err)
	}

	misaligned := *in
	misaligned.TickLower = -610
	requireReason(t, v.ValidateAddLiquidity(&misaligned), dexerr.ReasonInvalidTick)

	minAboveDesired := *in
	minAboveDesired.Amount1Min = dec("51")
	requireReason(t, v.ValidateAddLiquidity(&minAboveDesired), dexerr.ReasonInvalidSlippage)

	empty := *in
	empty.Amount0Desired, empty.Amount1Desired = decimal.Zero, decimal.Zero
	empty.Amount0Min, empty.Amount1Min = decimal.Zero, decimal.Zero
	requireReason(t, v.ValidateAddLiquidity(&empty), dexerr.ReasonInvalidAmount)
}

func TestValidateRemoveLiquidity_NotGated(t *testing.T) {
	v := NewValidator(&mockGate{canTrade: false})

	in := &RemoveLiquidityIntent{
		PositionRange: validRange(),
		PositionID:    "pos-1",
		Liquidity:     dec("12.5"),
	}
	if err := v.ValidateRemoveLiquidity(in); err != nil {
		t.Fatalf("removal must not be gated, got %v", err)
	}

	in.PositionID = ""
	requireReason(t, v.ValidateRemoveLiquidity(in), dexerr.ReasonInvalidAddress)

	in.PositionID = "pos-1"
	in.Liquidity = decimal.Zero
	requireReason(t, v.ValidateRemoveLiquidity(in), dexerr.ReasonInvalidAmount)
	if in.Status != StatusRejected {
		t.Fatalf("expected StatusRejected, got %s", in.Status)
	}
}

func TestValidateCollectFees(t *testing.T) {
	v := NewValidator(nil)

	in := &CollectFeesIntent{
		PositionRange:    validRange(),
		PositionID:       "pos-1",
		Amount0Requested: dec("1"),
		Amount1Requested: dec("2"),
	}
	if err := v.ValidateCollectFees(in); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	in.Amount1Requested = dec("-1")
	requireReason(t, v.ValidateCollectFees(in), dexerr.ReasonInvalidAmount)
}

func TestSlippageBound(t *testing.T) {
	v := NewValidator(nil)

	got, err := v.SlippageBound(dec("100"), 50, ExactInput, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(dec("99.5")) {
		t.Fatalf("exact input bound = %s, want 99.5", got)
	}

	got, err = v.SlippageBound(dec("10.001"), 100, ExactOutput, 2)
	if err != nil {
		t.Fatal(err)
	}
	// 10.001 * 1.01 = 10.10101, rounded up.
	if !got.Equal(dec("10.11")) {
		t.Fatalf("exact output bound = %s, want 10.11", got)
	}

	got, err = v.SlippageBound(dec("10.009"), 0, ExactInput, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(dec("10")) {
		t.Fatalf("exact input bound must round down, got %s", got)
	}

	_, err = v.SlippageBound(dec("100"), 6000, ExactInput, 2)
	requireReason(t, err, dexerr.ReasonInvalidSlippage)

	tight := v.WithConstraints(Constraints{MaxSlippageBps: 10, MaxDecimals: 18})
	_, err = tight.SlippageBound(dec("100"), 11, ExactInput, 2)
	requireReason(t, err, dexerr.ReasonInvalidSlippage)
}
