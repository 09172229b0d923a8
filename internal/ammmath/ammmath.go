// Package ammmath implements the V3 concentrated-liquidity price/TVL math
// (spec §4.3): sqrt_price_x96 → spot price, and the single-tick TVL
// approximation. Grounded on the sqrt-price/tick helpers the teacher pack's
// pkg/util test files document (TickToSqrtPriceX96, SqrtPriceToPrice),
// reimplemented here against uint256 since their bodies were not part of
// the retrieved pack.
package ammmath

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// q96 is 2^96, the fixed-point scale of sqrt_price_x96.
var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// SqrtPriceToFloat returns sqrt_price_x96 / 2^96 as a float.
func SqrtPriceToFloat(sqrtPriceX96 *uint256.Int) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.IsZero() {
		return 0
	}
	f := new(big.Float).SetInt(sqrtPriceX96.ToBig())
	f.Quo(f, q96)
	out, _ := f.Float64()
	return out
}

// Token1PerToken0 returns price_token1_per_token0 = sqrt_p^2 (spec §4.3).
// sqrt_price_x96 = 0 is skipped (returns 0) per §8's boundary case.
func Token1PerToken0(sqrtPriceX96 *uint256.Int) float64 {
	sqrtP := SqrtPriceToFloat(sqrtPriceX96)
	if sqrtP == 0 {
		return 0
	}
	p := sqrtP * sqrtP
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	return p
}

// SpotPriceInQuote returns the quote-per-token spot price, inverting
// Token1PerToken0 when token0 is itself the quote side.
func SpotPriceInQuote(sqrtPriceX96 *uint256.Int, quoteIsToken0 bool) float64 {
	p := Token1PerToken0(sqrtPriceX96)
	if p == 0 {
		return 0
	}
	if quoteIsToken0 {
		return 1 / p
	}
	return p
}

// TVLUSD computes the deliberate single-tick TVL approximation spec §4.3
// calls out as a performance compromise: `(L/sqrt_p or L*sqrt_p) /
// 10^dec_quote * price_usd(quote_symbol)`.
func TVLUSD(liquidity *uint256.Int, sqrtPriceX96 *uint256.Int, quoteIsToken0 bool, decQuote uint8, priceUSD float64) float64 {
	if liquidity == nil || liquidity.IsZero() {
		return 0
	}
	sqrtP := SqrtPriceToFloat(sqrtPriceX96)
	if sqrtP == 0 {
		return 0
	}
	l := new(big.Float).SetInt(liquidity.ToBig())
	var quoteSideAmount *big.Float
	if quoteIsToken0 {
		// quote is token0: quote-side amount ~= L * sqrt_p
		quoteSideAmount = new(big.Float).Mul(l, new(big.Float).SetFloat64(sqrtP))
	} else {
		// quote is token1: quote-side amount ~= L / sqrt_p
		quoteSideAmount = new(big.Float).Quo(l, new(big.Float).SetFloat64(sqrtP))
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decQuote)), nil))
	quoteSideAmount.Quo(quoteSideAmount, scale)
	f, _ := quoteSideAmount.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f * priceUSD
}
