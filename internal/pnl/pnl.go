// Package pnl implements the PnL Worker (spec §4.6): per tracked holding,
// periodically re-quote 1e18 units against the selected venue and publish
// net value + percentage, with old-task-abort-before-new-start semantics
// for DCA-style re-tracking.
//
// Grounded directly on original_source/rust_module/src/pnl.rs's
// pnl_worker_task and start_pnl_tracker/stop_pnl_tracker (the
// PNL_TASKS abort-then-respawn pattern).
package pnl

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/JustAMamont/evm-terminal/internal/abiutil"
	"github.com/JustAMamont/evm-terminal/internal/bridge"
	"github.com/JustAMamont/evm-terminal/internal/state"
	"github.com/JustAMamont/evm-terminal/internal/wei"
	"github.com/JustAMamont/evm-terminal/pkg/contractclient"
)

// unitAmount is the 1e18 probe size spec §4.6 quotes.
var unitAmount = func() *uint256.Int {
	u, _ := uint256.FromDecimal("1000000000000000000")
	return u
}()

// Fees are the router/DEX fee constants, sourced from configs.PnLYAMLData
// per SPEC_FULL.md's Open Question resolution (defaulting to spec's
// hardcoded 0.10%/0.25%).
type Fees struct {
	RouterFeeBps float64 // numerator over 10000, default 10 (0.10%)
	V2DexFeeBps  float64 // numerator over 10000, default 25 (0.25%)
}

// Holding identifies one (wallet, token) PnL tracker.
type Holding struct {
	Wallet     common.Address
	Token      common.Address
	Quote      common.Address
	Balance    *uint256.Int
	CostBasis  *uint256.Int
	PoolType   state.Variant
	FeeBps     uint32
	V2Router   common.Address
	V3Quoter   common.Address
}

func (h Holding) key() string {
	return h.Wallet.Hex() + ":" + h.Token.Hex()
}

// Worker runs and tracks per-holding PnL goroutines.
type Worker struct {
	HTTPClient *ethclient.Client
	Bridge     *bridge.Bridge
	Fees       Fees
	Interval   time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(client *ethclient.Client, br *bridge.Bridge, fees Fees, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		HTTPClient: client,
		Bridge:     br,
		Fees:       fees,
		Interval:   interval,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Start begins (or restarts) tracking a holding, aborting any prior
// tracker for the same key first (pnl.rs's start_pnl_tracker).
func (wk *Worker) Start(parent context.Context, h Holding) {
	key := h.key()

	wk.mu.Lock()
	if cancel, ok := wk.cancels[key]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	wk.cancels[key] = cancel
	wk.mu.Unlock()

	wk.Bridge.Emit(bridge.Event{Type: bridge.EvtPnLUpdate, Data: bridge.PnLUpdateData{
		Wallet: h.Wallet.Hex(), Token: h.Token.Hex(), IsLoading: true,
		CostBasis: h.CostBasis.Dec(),
	}})

	go wk.run(ctx, h)
}

// Stop aborts one holding's tracker (pnl.rs's stop_pnl_tracker).
func (wk *Worker) Stop(wallet, token common.Address) {
	key := Holding{Wallet: wallet, Token: token}.key()
	wk.mu.Lock()
	defer wk.mu.Unlock()
	if cancel, ok := wk.cancels[key]; ok {
		cancel()
		delete(wk.cancels, key)
	}
}

// StopAll aborts every tracker (pnl.rs's clear_all_pnl_trackers).
func (wk *Worker) StopAll() {
	wk.mu.Lock()
	defer wk.mu.Unlock()
	for key, cancel := range wk.cancels {
		cancel()
		delete(wk.cancels, key)
	}
}

func (wk *Worker) run(ctx context.Context, h Holding) {
	ticker := time.NewTicker(wk.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wk.tick(ctx, h)
		}
	}
}

func (wk *Worker) tick(ctx context.Context, h Holding) {
	unitPrice, err := wk.quote(ctx, h)
	if err != nil {
		return
	}

	gross := wei.MulDiv(unitPrice, h.Balance, unitAmount)
	feeRouter := wei.BpsOf(gross, uint64(wk.Fees.RouterFeeBps), 10000)

	var feeDex *uint256.Int
	if h.PoolType == state.VariantV3 {
		feeDex = wei.BpsOf(gross, uint64(h.FeeBps), 1000000)
	} else {
		feeDex = wei.BpsOf(gross, uint64(wk.Fees.V2DexFeeBps), 10000)
	}

	net := wei.SaturatingSub(wei.SaturatingSub(gross, feeRouter), feeDex)

	pnlPct := 0.0
	if !h.CostBasis.IsZero() {
		netF := wei.RawToFloat(net, 0)
		costF := wei.RawToFloat(h.CostBasis, 0)
		pnlPct = (netF - costF) / costF * 100
	}

	wk.Bridge.Emit(bridge.Event{Type: bridge.EvtPnLUpdate, Data: bridge.PnLUpdateData{
		Wallet:       h.Wallet.Hex(),
		Token:        h.Token.Hex(),
		PnLPct:       pnlPct,
		CurrentValue: net.Dec(),
		CostBasis:    h.CostBasis.Dec(),
		IsLoading:    false,
	}})
}

func (wk *Worker) quote(ctx context.Context, h Holding) (*uint256.Int, error) {
	if h.PoolType == state.VariantV3 {
		return wk.quoteV3(ctx, h)
	}
	return wk.quoteV2(ctx, h)
}

func (wk *Worker) quoteV2(ctx context.Context, h Holding) (*uint256.Int, error) {
	client, err := contractclient.New(wk.HTTPClient, h.V2Router, abiutil.IUniswapV2Router)
	if err != nil {
		return nil, err
	}
	var amounts []*big.Int
	path := []common.Address{h.Token, h.Quote}
	if err := client.Call(ctx, &amounts, "getAmountsOut", unitAmount.ToBig(), path); err != nil {
		return nil, err
	}
	if len(amounts) < 2 {
		return nil, fmt.Errorf("pnl: short amounts path")
	}
	out, _ := uint256.FromBig(amounts[len(amounts)-1])
	return out, nil
}

type v3QuoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

func (wk *Worker) quoteV3(ctx context.Context, h Holding) (*uint256.Int, error) {
	client, err := contractclient.New(wk.HTTPClient, h.V3Quoter, abiutil.IQuoterV2)
	if err != nil {
		return nil, err
	}
	params := v3QuoteParams{
		TokenIn: h.Token, TokenOut: h.Quote, AmountIn: unitAmount.ToBig(),
		Fee: big.NewInt(int64(h.FeeBps)), SqrtPriceLimitX96: big.NewInt(0),
	}
	var out struct {
		AmountOut               *big.Int
		SqrtPriceX96After       *big.Int
		InitializedTicksCrossed uint32
		GasEstimate             *big.Int
	}
	if err := client.Call(ctx, &out, "quoteExactInputSingle", params); err != nil {
		return nil, err
	}
	amountOut, _ := uint256.FromBig(out.AmountOut)
	return amountOut, nil
}
