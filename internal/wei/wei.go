// Package wei holds the decimal-aware conversions and 512-bit-safe integer
// math the rest of the engine uses to stay in 256-bit integers until the
// final float conversion for display or scoring (spec §9, "Numeric
// discipline").
package wei

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// pow10 returns 10^n as a big.Int, used for decimal scaling.
func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// RawToFloat converts a raw on-chain integer amount to a float using the
// token's decimals. Used only for display, scoring, or USD math — never
// for further integer arithmetic.
func RawToFloat(raw *uint256.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetInt(raw.ToBig())
	scale := new(big.Float).SetInt(pow10(decimals))
	f.Quo(f, scale)
	out, _ := f.Float64()
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0
	}
	return out
}

// FloatToRaw converts a display-side float amount into a raw on-chain
// integer using the token's decimals, truncating any sub-unit remainder.
func FloatToRaw(amount float64, decimals uint8) *uint256.Int {
	if amount <= 0 {
		return uint256.NewInt(0)
	}
	scale := new(big.Float).SetInt(pow10(decimals))
	f := new(big.Float).SetFloat64(amount)
	f.Mul(f, scale)
	bi, _ := f.Int(nil)
	if bi.Sign() < 0 {
		bi.SetInt64(0)
	}
	z, overflow := uint256.FromBig(bi)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return z
}

// MulDiv computes floor(a*b/denom) using a 512-bit intermediate product so
// that 256-bit reserves near uint256 max never overflow the multiplication
// (spec §4.3, §8). Returns zero when denom is zero or when the quotient
// does not fit in 256 bits.
func MulDiv(a, b, denom *uint256.Int) *uint256.Int {
	if denom.IsZero() {
		return uint256.NewInt(0)
	}
	z := new(uint256.Int)
	quot, overflow := z.MulDivOverflow(a, b, denom)
	if overflow {
		// MulDivOverflow reports a quotient that does not fit in
		// 256 bits.
		return uint256.NewInt(0)
	}
	return quot
}

// SaturatingSub returns a-b, floored at zero, matching the Rust
// saturating_sub the PnL worker and fee math rely on (spec §4.6, §9).
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(a, b)
}

// BpsOf returns floor(amount * bpsNumerator / bpsDenominator), the pattern
// used for router/DEX fee and slippage math throughout §4.3-§4.6.
func BpsOf(amount *uint256.Int, numerator, denominator uint64) *uint256.Int {
	return MulDiv(amount, uint256.NewInt(numerator), uint256.NewInt(denominator))
}
