// Package executor implements the Trade Execution Pipeline (spec §4.4):
// deterministic transaction construction, pre-flight allowance
// auto-approve, min-out computation, legacy tx signing, and parallel
// broadcast via internal/rpcpool.
//
// Grounded on original_source/rust_module/src/execution.rs
// (execute_approve_hot/execute_swap_hot/execute_batch_swap) and on the
// teacher's allowance-check-then-approve pattern
// (_examples/ChoSanghyuk-blackholedex/blackhole.go's ensureApproval).
package executor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/JustAMamont/evm-terminal/internal/abiutil"
	"github.com/JustAMamont/evm-terminal/internal/bridge"
	"github.com/JustAMamont/evm-terminal/internal/pool"
	"github.com/JustAMamont/evm-terminal/internal/state"
	"github.com/JustAMamont/evm-terminal/internal/wei"
	"github.com/JustAMamont/evm-terminal/pkg/contractclient"
)

// FallbackGasPriceWei is the 0.1 gwei fallback when both the request and
// the manual gas setting are zero (spec §4.4).
const FallbackGasPriceWei = 100000000

// GasLimit is the flat gas limit spec §4.4 assembles legacy transactions
// with.
const GasLimit = 500000

const maxApproveUint256 = "115792089237316195423570985008687907853269984665640564039457584007913129639935"

// Config tunes the executor, mirroring configs.TradeYAMLData.
type Config struct {
	ReceiptPollInterval time.Duration
	Deadline            time.Duration
	BroadcastFanout     int
}

// Broadcaster is the minimal surface executor needs from internal/rpcpool.
type Broadcaster interface {
	ParallelBroadcast(ctx context.Context, rawTx []byte, k int) (string, error)
}

type Executor struct {
	State      *state.CoreState
	Broadcast  Broadcaster
	Bridge     *bridge.Bridge
	HTTPClient *ethclient.Client
	Cfg        Config
}

func New(st *state.CoreState, bc Broadcaster, br *bridge.Bridge, client *ethclient.Client, cfg Config) *Executor {
	if cfg.BroadcastFanout <= 0 {
		cfg.BroadcastFanout = 3
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 300 * time.Second
	}
	return &Executor{State: st, Broadcast: bc, Bridge: br, HTTPClient: client, Cfg: cfg}
}

// TradeRequest mirrors bridge.ExecuteTradeData after address parsing.
type TradeRequest struct {
	Action             string // "buy" | "sell"
	Token              common.Address
	Quote              common.Address
	Amount             float64
	Wallets            []common.Address
	GasGwei            float64
	SlippagePct        float64
	V3Fee              uint32
	AmountsWeiOverride map[common.Address]*uint256.Int
}

// ExecuteBatch runs spec §4.4's buy/sell batch, every wallet's trade
// concurrently (execution.rs's execute_batch_swap used join_all for the same
// shape).
func (e *Executor) ExecuteBatch(ctx context.Context, req TradeRequest) {
	sel := e.State.GetSelection()
	if sel == nil {
		e.emitTradeError(common.Address{}, "no pool selected")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, wallet := range req.Wallets {
		wallet := wallet
		g.Go(func() error {
			e.executeOne(gctx, req, sel, wallet)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Executor) executeOne(ctx context.Context, req TradeRequest, sel *state.Selection, wallet common.Address) {
	w, ok := e.State.Wallet(wallet)
	if !ok {
		e.emitTradeError(wallet, "unknown wallet")
		return
	}

	var tokenIn, tokenOut common.Address
	if req.Action == "buy" {
		tokenIn, tokenOut = req.Quote, req.Token
	} else {
		tokenIn, tokenOut = req.Token, req.Quote
	}

	amountIn, ok := e.resolveAmountIn(req, tokenIn, wallet)
	if !ok || amountIn.IsZero() {
		e.emitTradeError(wallet, "zero amount")
		return
	}

	if req.Action == "sell" && tokenIn != e.State.NativeAddress {
		approved, err := e.ensureApproval(ctx, w, tokenIn, e.State.RouterAddress, amountIn)
		if err != nil {
			e.emitTradeError(wallet, fmt.Sprintf("approval check failed: %v", err))
			return
		}
		if !approved {
			e.Bridge.Emit(bridge.Event{Type: bridge.EvtTradeStatus, Data: bridge.TradeStatusData{
				Status: "Skipped", Wallet: wallet.Hex(), Message: "approval broadcast, retry trade",
			}})
			return
		}
	}

	expectedOut, err := e.expectedOut(ctx, sel, tokenIn, tokenOut, amountIn)
	if err != nil {
		e.emitTradeError(wallet, fmt.Sprintf("quote failed: %v", err))
		return
	}

	slippage := req.SlippagePct
	if slippage <= 0 {
		slippage = e.State.SlippagePct
	}
	minOut := minOutFrom(expectedOut, slippage)

	deadline := big.NewInt(time.Now().Add(e.Cfg.Deadline).Unix())

	data, err := e.buildCalldata(sel, tokenIn, tokenOut, amountIn, minOut, wallet, deadline, req.V3Fee)
	if err != nil {
		e.emitTradeError(wallet, fmt.Sprintf("calldata: %v", err))
		return
	}

	hash, err := e.signAndBroadcast(ctx, w, e.State.RouterAddress, data, req.GasGwei)
	if err != nil {
		e.emitTradeError(wallet, err.Error())
		return
	}

	e.State.AddPendingTx(common.HexToHash(hash))
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtTxSent, Data: bridge.TxSentData{Wallet: wallet.Hex(), TxHash: hash}})
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtTradeStatus, Data: bridge.TradeStatusData{Status: "Sent", Wallet: wallet.Hex(), TxHash: hash}})
}

func (e *Executor) resolveAmountIn(req TradeRequest, tokenIn, wallet common.Address) (*uint256.Int, bool) {
	if req.Action == "sell" {
		if override, ok := req.AmountsWeiOverride[wallet]; ok {
			return override, true
		}
	}
	dec, _ := e.State.Decimals(tokenIn)
	return wei.FloatToRaw(req.Amount, dec), true
}

// ensureApproval checks the router's allowance and, if short, synthesizes
// and broadcasts an approve(MAX) transaction instead of the swap (spec
// §4.4 step 3), grounded on the teacher's ensureApproval.
func (e *Executor) ensureApproval(ctx context.Context, w *state.Wallet, token, spender common.Address, amount *uint256.Int) (bool, error) {
	client, err := contractclient.New(e.HTTPClient, token, abiutil.ERC20)
	if err != nil {
		return false, err
	}
	var allowance *big.Int
	if err := client.Call(ctx, &allowance, "allowance", w.Address, spender); err != nil {
		return false, err
	}
	current, _ := uint256.FromBig(allowance)
	if current.Cmp(amount) >= 0 {
		return true, nil
	}

	maxAmount, _ := uint256.FromDecimal(maxApproveUint256)
	data, err := client.Pack("approve", spender, maxAmount.ToBig())
	if err != nil {
		return false, err
	}
	_, err = e.signAndBroadcast(ctx, w, token, data, 0)
	return false, err
}

func (e *Executor) expectedOut(ctx context.Context, sel *state.Selection, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	if sel.Variant == state.VariantV3 {
		return pool.ExpectedOutV3(ctx, e.HTTPClient, e.quoterAddress(), tokenIn, tokenOut, amountIn, sel.FeeTier)
	}
	p, ok := e.State.V2Pool(sel.PoolAddress)
	if !ok {
		return nil, fmt.Errorf("executor: selected V2 pool not in state")
	}
	reserveIn, reserveOut := p.Reserve0, p.Reserve1
	if p.Token0 != tokenIn {
		reserveIn, reserveOut = p.Reserve1, p.Reserve0
	}
	return pool.ExpectedOutV2(reserveIn, reserveOut, amountIn), nil
}

func (e *Executor) quoterAddress() common.Address {
	return e.State.QuoterAddress
}

// minOutFrom applies expected_out * (10000 - slippage*100) / 10000,
// clamped >= 0 (spec §4.4).
func minOutFrom(expectedOut *uint256.Int, slippagePct float64) *uint256.Int {
	bps := int64(slippagePct * 100)
	if bps < 0 {
		bps = 0
	}
	if bps > 10000 {
		bps = 10000
	}
	numerator := uint256.NewInt(uint64(10000 - bps))
	return wei.MulDiv(expectedOut, numerator, uint256.NewInt(10000))
}

func (e *Executor) buildCalldata(sel *state.Selection, tokenIn, tokenOut common.Address, amountIn, minOut *uint256.Int, recipient common.Address, deadline *big.Int, v3Fee uint32) ([]byte, error) {
	routerClient, err := contractclient.New(e.HTTPClient, e.State.RouterAddress, abiutil.ITaxRouter)
	if err != nil {
		return nil, err
	}
	if sel.Variant == state.VariantV3 {
		fee := v3Fee
		if fee == 0 {
			fee = sel.FeeTier
		}
		return routerClient.Pack("swapV3Single", tokenIn, tokenOut, big.NewInt(int64(fee)), amountIn.ToBig(), minOut.ToBig(), recipient, deadline)
	}
	path := []common.Address{tokenIn, tokenOut}
	return routerClient.Pack("swapExactTokensForTokens", amountIn.ToBig(), minOut.ToBig(), path, recipient, deadline)
}

// signAndBroadcast assembles a legacy transaction, signs it with the
// wallet's key, and fans it out via RpcPool (spec §4.4 steps 6-8).
func (e *Executor) signAndBroadcast(ctx context.Context, w *state.Wallet, to common.Address, data []byte, gasGwei float64) (string, error) {
	nonce, ok := e.State.NextNonce(w.Address)
	if !ok {
		return "", fmt.Errorf("executor: no nonce for wallet")
	}

	gasPrice := e.resolveGasPrice(gasGwei)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := types.LatestSignerForChainID(big.NewInt(int64(e.State.ChainID)))
	signedTx, err := types.SignTx(tx, signer, w.Key)
	if err != nil {
		return "", fmt.Errorf("executor: sign: %w", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("executor: encode: %w", err)
	}

	hash, err := e.Broadcast.ParallelBroadcast(ctx, raw, e.Cfg.BroadcastFanout)
	if err != nil {
		return "", fmt.Errorf("executor: broadcast: %w", err)
	}
	return hash, nil
}

// resolveGasPrice implements spec §4.4's gas defaulting chain: requested
// -> manual_gas_price_gwei -> fixed 0.1 gwei fallback.
func (e *Executor) resolveGasPrice(requestedGwei float64) *big.Int {
	gwei := requestedGwei
	if gwei <= 0 {
		gwei = e.State.ManualGasPriceGwei
	}
	if gwei <= 0 {
		return big.NewInt(FallbackGasPriceWei)
	}
	wei := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	out, _ := wei.Int(nil)
	return out
}

func (e *Executor) emitTradeError(wallet common.Address, message string) {
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtTradeStatus, Data: bridge.TradeStatusData{
		Status: "Error", Wallet: wallet.Hex(), Message: message,
	}})
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtLog, Data: bridge.LogData{Level: "ERROR", Message: message}})
}
