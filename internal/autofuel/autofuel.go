// Package autofuel implements AutoFuel (spec §4.5): per-block, per-wallet
// native-balance check that opportunistically refuels a wallet by
// swapping (or unwrapping) a designated quote token back to native.
//
// Grounded on original_source/rust_module/src/engine.rs's fuel-adjacent
// branches and execution.rs's execute_swap_hot/execute_approve_hot for
// the swap/approve shape, generalized to spec §4.5's trigger and action
// rules.
package autofuel

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/JustAMamont/evm-terminal/internal/abiutil"
	"github.com/JustAMamont/evm-terminal/internal/bridge"
	"github.com/JustAMamont/evm-terminal/internal/state"
	"github.com/JustAMamont/evm-terminal/pkg/contractclient"
)

// MaxAttempts and MinIntervalMs are spec §4.5/§3's fuel policy caps.
const (
	MaxAttempts   = 5
	MinIntervalMs = 60000
)

// Broadcaster is the minimal surface AutoFuel needs from internal/rpcpool.
type Broadcaster interface {
	ParallelBroadcast(ctx context.Context, rawTx []byte, k int) (string, error)
}

// Clock lets tests control "now".
type Clock func() int64

type AutoFuel struct {
	State      *state.CoreState
	Broadcast  Broadcaster
	Bridge     *bridge.Bridge
	HTTPClient *ethclient.Client
	Now        Clock
}

func New(st *state.CoreState, bc Broadcaster, br *bridge.Bridge, client *ethclient.Client) *AutoFuel {
	return &AutoFuel{
		State: st, Broadcast: bc, Bridge: br, HTTPClient: client,
		Now: func() int64 { return time.Now().UnixMilli() },
	}
}

// Evaluate is called once per block per wallet (spec §4.5's trigger).
func (a *AutoFuel) Evaluate(ctx context.Context, wallet common.Address, nativeBalance *uint256.Int) {
	policy := a.State.GetFuelPolicy()
	if !policy.Enabled || policy.QuoteAddress == (common.Address{}) {
		return
	}
	if nativeBalance.Cmp(policy.ThresholdWei) >= 0 {
		return
	}

	w, ok := a.State.Wallet(wallet)
	if !ok {
		return
	}
	now := a.Now()
	if w.Fuel.Count >= MaxAttempts {
		return
	}
	if w.Fuel.LastTSMs != 0 && now-w.Fuel.LastTSMs < MinIntervalMs {
		return
	}

	a.State.TouchFuelAttempt(wallet, false, now) // count++ before the call, per spec §4.5

	err := a.act(ctx, w, policy)
	if err != nil {
		a.Bridge.Emit(bridge.Event{Type: bridge.EvtAutoFuelError, Data: bridge.AutoFuelErrorData{
			Wallet: wallet.Hex(), Reason: err.Error(),
		}})
		return
	}
	a.State.TouchFuelAttempt(wallet, true, now)
}

func (a *AutoFuel) act(ctx context.Context, w *state.Wallet, policy state.FuelPolicy) error {
	if policy.QuoteAddress == a.State.WrappedNativeAddress {
		return a.withdraw(ctx, w, policy.AmountWei)
	}
	return a.swapForETH(ctx, w, policy)
}

func (a *AutoFuel) withdraw(ctx context.Context, w *state.Wallet, amount *uint256.Int) error {
	client, err := contractclient.New(a.HTTPClient, a.State.WrappedNativeAddress, abiutil.WrappedNative)
	if err != nil {
		return err
	}
	data, err := client.Pack("withdraw", amount.ToBig())
	if err != nil {
		return err
	}
	return a.signAndBroadcast(ctx, w, a.State.WrappedNativeAddress, data)
}

func (a *AutoFuel) swapForETH(ctx context.Context, w *state.Wallet, policy state.FuelPolicy) error {
	erc20, err := contractclient.New(a.HTTPClient, policy.QuoteAddress, abiutil.ERC20)
	if err != nil {
		return err
	}
	var allowance *big.Int
	if err := erc20.Call(ctx, &allowance, "allowance", w.Address, a.State.RouterAddress); err != nil {
		return err
	}
	current, _ := uint256.FromBig(allowance)
	if current.Cmp(policy.AmountWei) < 0 {
		maxAmount, _ := uint256.FromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935")
		data, err := erc20.Pack("approve", a.State.RouterAddress, maxAmount.ToBig())
		if err != nil {
			return err
		}
		if err := a.signAndBroadcastNoWait(ctx, w, policy.QuoteAddress, data); err != nil {
			return err
		}
		time.Sleep(3 * time.Second)
	}

	routerClient, err := contractclient.New(a.HTTPClient, a.State.RouterAddress, abiutil.ITaxRouter)
	if err != nil {
		return err
	}
	deadline := big.NewInt(time.Now().Add(300 * time.Second).Unix())
	path := []common.Address{policy.QuoteAddress, a.State.WrappedNativeAddress}
	data, err := routerClient.Pack("swapExactTokensForETH", policy.AmountWei.ToBig(), big.NewInt(0), path, w.Address, deadline)
	if err != nil {
		return err
	}
	return a.signAndBroadcast(ctx, w, a.State.RouterAddress, data)
}

func (a *AutoFuel) signAndBroadcast(ctx context.Context, w *state.Wallet, to common.Address, data []byte) error {
	hash, err := a.signAndBroadcastNoWaitHash(ctx, w, to, data)
	if err != nil {
		return err
	}
	a.State.AddPendingTx(common.HexToHash(hash))
	return nil
}

func (a *AutoFuel) signAndBroadcastNoWait(ctx context.Context, w *state.Wallet, to common.Address, data []byte) error {
	_, err := a.signAndBroadcastNoWaitHash(ctx, w, to, data)
	return err
}

func (a *AutoFuel) signAndBroadcastNoWaitHash(ctx context.Context, w *state.Wallet, to common.Address, data []byte) (string, error) {
	nonce, ok := a.State.NextNonce(w.Address)
	if !ok {
		return "", fmt.Errorf("autofuel: no nonce for wallet")
	}
	gasPrice := a.State.GetGasPrice()
	if gasPrice == nil || gasPrice.IsZero() {
		gasPrice = uint256.NewInt(100000000)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      500000,
		GasPrice: gasPrice.ToBig(),
		Data:     data,
	})
	signer := types.LatestSignerForChainID(big.NewInt(int64(a.State.ChainID)))
	signedTx, err := types.SignTx(tx, signer, w.Key)
	if err != nil {
		return "", fmt.Errorf("autofuel: sign: %w", err)
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("autofuel: encode: %w", err)
	}
	return a.Broadcast.ParallelBroadcast(ctx, raw, 3)
}
