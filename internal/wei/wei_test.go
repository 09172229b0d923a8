package wei

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawToFloatRoundTrip(t *testing.T) {
	raw := uint256.NewInt(1_500_000) // 1.5 at 6 decimals
	got := RawToFloat(raw, 6)
	assert.InDelta(t, 1.5, got, 1e-9)
}

func TestRawToFloatNil(t *testing.T) {
	assert.Equal(t, 0.0, RawToFloat(nil, 18))
}

func TestFloatToRawTruncates(t *testing.T) {
	got := FloatToRaw(1.23456, 2)
	require.NotNil(t, got)
	assert.Equal(t, "123", got.Dec())
}

func TestFloatToRawNonPositive(t *testing.T) {
	assert.True(t, FloatToRaw(0, 18).IsZero())
	assert.True(t, FloatToRaw(-5, 18).IsZero())
}

func TestMulDivExact(t *testing.T) {
	a := uint256.NewInt(10)
	b := uint256.NewInt(30)
	d := uint256.NewInt(3)
	got := MulDiv(a, b, d)
	assert.Equal(t, "100", got.Dec())
}

func TestMulDivLargeOperandsDoNotOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got := MulDiv(max, max, max)
	assert.Equal(t, max.Dec(), got.Dec())
}

func TestMulDivZeroDenominator(t *testing.T) {
	a := uint256.NewInt(5)
	got := MulDiv(a, a, uint256.NewInt(0))
	assert.True(t, got.IsZero())
}

func TestSaturatingSub(t *testing.T) {
	a := uint256.NewInt(5)
	b := uint256.NewInt(9)
	assert.True(t, SaturatingSub(a, b).IsZero())
	assert.Equal(t, "4", SaturatingSub(b, a).Dec())
}

func TestBpsOf(t *testing.T) {
	amount := uint256.NewInt(1_000_000)
	got := BpsOf(amount, 10, 10000) // 0.10%
	assert.Equal(t, "1000", got.Dec())
}
