// Package pool implements Pool Discovery & Selection (spec §4.3): V2/V3
// factory discovery across fee tiers, spot-price/TVL derivation, scoring,
// and expected-out computation (V2 pure math, V3 on-chain quoter call).
//
// Grounded on the teacher's Blackhole.GetAMMState tick/reserve-reading
// pattern (_examples/ChoSanghyuk-blackholedex/blackhole.go) for the
// shape of "read on-chain pool state into a local struct", and on
// original_source/rust_module/src/pnl.rs's IQuoterV2 abigen! for the
// quoter call shape.
package pool

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/JustAMamont/evm-terminal/internal/abiutil"
	"github.com/JustAMamont/evm-terminal/internal/ammmath"
	"github.com/JustAMamont/evm-terminal/internal/state"
	"github.com/JustAMamont/evm-terminal/internal/wei"
	"github.com/JustAMamont/evm-terminal/pkg/contractclient"
)

// FeeTiers are the V3 fee tiers discovery probes (spec §4.3).
var FeeTiers = []uint32{100, 500, 2500, 10000}

// DefaultTradeUSD is the notional trade size used for the impact term of
// the scoring formula (spec §4.3).
const DefaultTradeUSD = 1000

// MinTVLUSD discards any candidate at or below this TVL (spec §4.3).
const MinTVLUSD = 10

// Decimals is the minimal surface needed to read ERC-20 decimals.
// contractclient.ContractClient does not implement it.
type Decimals interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// Discover finds every V2/V3 candidate pool for (token, quote).
func Discover(ctx context.Context, client *ethclient.Client, v2Factory, v3Factory, token, quote common.Address) ([]*state.Pool, error) {
	var candidates []*state.Pool

	if v2Factory != (common.Address{}) {
		p, err := discoverV2(ctx, client, v2Factory, token, quote)
		if err == nil && p != nil {
			candidates = append(candidates, p)
		}
	}

	if v3Factory != (common.Address{}) {
		for _, fee := range FeeTiers {
			p, err := discoverV3(ctx, client, v3Factory, token, quote, fee)
			if err == nil && p != nil {
				candidates = append(candidates, p)
			}
		}
	}

	return candidates, nil
}

func discoverV2(ctx context.Context, client *ethclient.Client, factory, token, quote common.Address) (*state.Pool, error) {
	factoryClient, err := contractclient.New(client, factory, abiutil.UniswapV2Factory)
	if err != nil {
		return nil, err
	}
	var pairAddr common.Address
	if err := factoryClient.Call(ctx, &pairAddr, "getPair", token, quote); err != nil {
		return nil, err
	}
	if pairAddr == (common.Address{}) {
		return nil, nil
	}

	pairClient, err := contractclient.New(client, pairAddr, abiutil.UniswapV2Pair)
	if err != nil {
		return nil, err
	}

	var token0, token1 common.Address
	if err := pairClient.Call(ctx, &token0, "token0"); err != nil {
		return nil, err
	}
	if err := pairClient.Call(ctx, &token1, "token1"); err != nil {
		return nil, err
	}

	var reserves struct {
		Reserve0           *big.Int
		Reserve1           *big.Int
		BlockTimestampLast uint32
	}
	if err := pairClient.Call(ctx, &reserves, "getReserves"); err != nil {
		return nil, err
	}

	r0, _ := uint256.FromBig(reserves.Reserve0)
	r1, _ := uint256.FromBig(reserves.Reserve1)

	return &state.Pool{
		Address:  pairAddr,
		Variant:  state.VariantV2,
		Token0:   token0,
		Token1:   token1,
		FeeBps:   30,
		Reserve0: r0,
		Reserve1: r1,
	}, nil
}

func discoverV3(ctx context.Context, client *ethclient.Client, factory, token, quote common.Address, fee uint32) (*state.Pool, error) {
	factoryClient, err := contractclient.New(client, factory, abiutil.UniswapV3Factory)
	if err != nil {
		return nil, err
	}
	var poolAddr common.Address
	if err := factoryClient.Call(ctx, &poolAddr, "getPool", token, quote, big.NewInt(int64(fee))); err != nil {
		return nil, err
	}
	if poolAddr == (common.Address{}) {
		return nil, nil
	}

	poolClient, err := contractclient.New(client, poolAddr, abiutil.UniswapV3Pool)
	if err != nil {
		return nil, err
	}

	var token0, token1 common.Address
	if err := poolClient.Call(ctx, &token0, "token0"); err != nil {
		return nil, err
	}
	if err := poolClient.Call(ctx, &token1, "token1"); err != nil {
		return nil, err
	}

	var slot0 struct {
		SqrtPriceX96               *big.Int
		Tick                       *big.Int
		ObservationIndex           uint16
		ObservationCardinality     uint16
		ObservationCardinalityNext uint16
		FeeProtocol                uint8
		Unlocked                   bool
	}
	if err := poolClient.Call(ctx, &slot0, "slot0"); err != nil {
		return nil, err
	}

	var liquidity *big.Int
	if err := poolClient.Call(ctx, &liquidity, "liquidity"); err != nil {
		return nil, err
	}

	sqrtP, _ := uint256.FromBig(slot0.SqrtPriceX96)
	liq, _ := uint256.FromBig(liquidity)

	if sqrtP.IsZero() {
		// spec §8: sqrt_price_x96 = 0 is skipped.
		return nil, nil
	}

	return &state.Pool{
		Address:      poolAddr,
		Variant:      state.VariantV3,
		Token0:       token0,
		Token1:       token1,
		FeeBps:       fee,
		SqrtPriceX96: sqrtP,
		Liquidity:    liq,
		Tick:         int32(slot0.Tick.Int64()),
	}, nil
}

// DeriveV2 fills in SpotPriceInQuote and TVLUSD for a V2 pool (spec §4.3).
func DeriveV2(p *state.Pool, quote common.Address, decToken, decQuote uint8, priceUSDQuote float64) {
	quoteIsToken0 := p.Token0 == quote
	var quoteSide, tokenSide *uint256.Int
	var decQuoteSide uint8
	if quoteIsToken0 {
		quoteSide, tokenSide = p.Reserve0, p.Reserve1
		decQuoteSide = decQuote
	} else {
		quoteSide, tokenSide = p.Reserve1, p.Reserve0
		decQuoteSide = decQuote
	}

	rQuoteF := wei.RawToFloat(quoteSide, decQuoteSide)
	tokenDec := decToken
	if quoteIsToken0 {
		tokenDec = decToken
	}
	rTokenF := wei.RawToFloat(tokenSide, tokenDec)

	if rTokenF == 0 {
		p.SpotPriceInQuote = 0
		p.TVLUSD = 0
		return
	}
	p.SpotPriceInQuote = rQuoteF / rTokenF
	p.TVLUSD = 2 * rQuoteF * priceUSDQuote
}

// DeriveV3 fills in SpotPriceInQuote and TVLUSD for a V3 pool (spec §4.3).
func DeriveV3(p *state.Pool, quote common.Address, decQuote uint8, priceUSDQuote float64) {
	quoteIsToken0 := p.Token0 == quote
	p.SpotPriceInQuote = ammmath.SpotPriceInQuote(p.SqrtPriceX96, quoteIsToken0)
	p.TVLUSD = ammmath.TVLUSD(p.Liquidity, p.SqrtPriceX96, quoteIsToken0, decQuote, priceUSDQuote)
}

// Score picks the highest-scoring candidate, discarding any with
// TVLUSD <= MinTVLUSD (spec §4.3). Ties are broken by insertion order
// (first candidate with the max score wins, since candidates is scored
// in discovery order).
func Score(candidates []*state.Pool) *state.Pool {
	var eligible []*state.Pool
	maxLiq := 0.0
	maxFee := uint32(0)
	for _, c := range candidates {
		if c.TVLUSD <= MinTVLUSD {
			continue
		}
		eligible = append(eligible, c)
		if c.TVLUSD > maxLiq {
			maxLiq = c.TVLUSD
		}
		if c.FeeBps > maxFee {
			maxFee = c.FeeBps
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	if maxLiq == 0 {
		maxLiq = 1
	}
	if maxFee == 0 {
		maxFee = 1
	}

	type scored struct {
		pool  *state.Pool
		score float64
		order int
	}
	scoredList := make([]scored, 0, len(eligible))
	for i, c := range eligible {
		normLiq := c.TVLUSD / maxLiq
		normFee := float64(c.FeeBps) / float64(maxFee)
		impact := DefaultTradeUSD / c.TVLUSD
		if impact > 1 {
			impact = 1
		}
		score := 0.50*normLiq + 0.20*(1-normFee) + 0.30*(1-impact)
		scoredList = append(scoredList, scored{pool: c, score: score, order: i})
	}
	sort.SliceStable(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return scoredList[i].order < scoredList[j].order
	})
	return scoredList[0].pool
}

// ExpectedOutV2 computes the canonical constant-product expected output
// with the 0.30% fee (spec §4.3). reserveIn*10000 alone can exceed a
// uint256 for reserves near U256::MAX (spec §8), so the whole
// numerator/denominator is carried in arbitrary-precision math/big and
// only the final (bounded-by-reserveOut) quotient is narrowed back to a
// uint256.
func ExpectedOutV2(reserveIn, reserveOut, amountIn *uint256.Int) *uint256.Int {
	if amountIn.IsZero() {
		return uint256.NewInt(0)
	}
	amountInWithFee := new(big.Int).Mul(amountIn.ToBig(), big.NewInt(9970))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut.ToBig())
	denominator := new(big.Int).Mul(reserveIn.ToBig(), big.NewInt(10000))
	denominator.Add(denominator, amountInWithFee)
	if denominator.Sign() == 0 {
		return uint256.NewInt(0)
	}
	quot := new(big.Int).Div(numerator, denominator)
	out, overflow := uint256.FromBig(quot)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

// v3QuoteParams is the quoter's single tuple argument.
type v3QuoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ExpectedOutV3 calls the on-chain quoter's quoteExactInputSingle (spec
// §4.3). The quoter ABI takes a single tuple argument.
func ExpectedOutV3(ctx context.Context, client *ethclient.Client, quoter, tokenIn, tokenOut common.Address, amountIn *uint256.Int, fee uint32) (*uint256.Int, error) {
	quoterClient, err := contractclient.New(client, quoter, abiutil.IQuoterV2)
	if err != nil {
		return nil, err
	}
	params := v3QuoteParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn.ToBig(),
		Fee:               big.NewInt(int64(fee)),
		SqrtPriceLimitX96: big.NewInt(0),
	}

	var out struct {
		AmountOut               *big.Int
		SqrtPriceX96After        *big.Int
		InitializedTicksCrossed  uint32
		GasEstimate              *big.Int
	}
	if err := quoterClient.Call(ctx, &out, "quoteExactInputSingle", params); err != nil {
		return nil, fmt.Errorf("pool: quoteExactInputSingle: %w", err)
	}
	amountOut, overflow := uint256.FromBig(out.AmountOut)
	if overflow {
		return nil, fmt.Errorf("pool: quoter returned out-of-range amount")
	}
	return amountOut, nil
}

// PriceImpact computes (ideal_out - expected_out) / ideal_out * 100,
// clamped to 0 for negative/undefined results (spec §4.3).
func PriceImpact(idealOut, expectedOut float64) float64 {
	if idealOut <= 0 {
		return 0
	}
	impact := (idealOut - expectedOut) / idealOut * 100
	if impact < 0 {
		return 0
	}
	return impact
}
