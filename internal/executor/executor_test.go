package executor

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustAMamont/evm-terminal/internal/bridge"
	"github.com/JustAMamont/evm-terminal/internal/state"
)

type fakeBroadcaster struct {
	hash string
	err  error
}

func (f fakeBroadcaster) ParallelBroadcast(ctx context.Context, rawTx []byte, k int) (string, error) {
	return f.hash, f.err
}

type fakeFetcher struct{}

func (fakeFetcher) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func TestMinOutFromAppliesSlippage(t *testing.T) {
	out := minOutFrom(uint256.NewInt(1_000_000), 15.0) // 15% slippage
	assert.Equal(t, "850000", out.Dec())
}

func TestMinOutFromClampsNegativeSlippage(t *testing.T) {
	out := minOutFrom(uint256.NewInt(1_000_000), -5.0)
	assert.Equal(t, "1000000", out.Dec())
}

func TestMinOutFromClampsOver100PctSlippage(t *testing.T) {
	out := minOutFrom(uint256.NewInt(1_000_000), 150.0)
	assert.True(t, out.IsZero())
}

func TestResolveGasPriceRequestedTakesPriority(t *testing.T) {
	st := state.New()
	st.ManualGasPriceGwei = 5
	e := &Executor{State: st}
	assert.Equal(t, "2000000000", e.resolveGasPrice(2.0).String())
}

func TestResolveGasPriceFallsBackToManual(t *testing.T) {
	st := state.New()
	st.ManualGasPriceGwei = 3
	e := &Executor{State: st}
	assert.Equal(t, "3000000000", e.resolveGasPrice(0).String())
}

func TestResolveGasPriceFallsBackToFixed(t *testing.T) {
	st := state.New()
	st.ManualGasPriceGwei = 0
	e := &Executor{State: st}
	assert.Equal(t, int64(FallbackGasPriceWei), e.resolveGasPrice(0).Int64())
}

func TestExecuteBatchNoPoolSelectedEmitsError(t *testing.T) {
	st := state.New()
	br := bridge.New(4, 4)
	e := New(st, fakeBroadcaster{}, br, nil, Config{})

	e.ExecuteBatch(context.Background(), TradeRequest{Wallets: []common.Address{common.HexToAddress("0x1")}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := br.PopEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridge.EvtTradeStatus, ev.Type)
	assert.Equal(t, "Error", ev.Data.(bridge.TradeStatusData).Status)
}

func TestExecuteOneBuyV2Succeeds(t *testing.T) {
	st := state.New()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	walletAddr := crypto.PubkeyToAddress(key.PublicKey)
	require.NoError(t, st.AddWallet(context.Background(), key, walletAddr, fakeFetcher{}))

	token := common.HexToAddress("0x1111")
	quote := common.HexToAddress("0x2222")
	poolAddr := common.HexToAddress("0x3333")
	st.RouterAddress = common.HexToAddress("0x4444")
	st.ChainID = 1
	st.SetDecimals(quote, 18)
	st.UpsertV2Pool(&state.Pool{
		Address: poolAddr, Variant: state.VariantV2,
		Token0: quote, Token1: token,
		Reserve0: uint256.NewInt(1_000_000_000_000),
		Reserve1: uint256.NewInt(1_000_000_000_000),
	})
	st.SetSelection(&state.Selection{
		Token: token, Quote: quote, PoolAddress: poolAddr, Variant: state.VariantV2,
	})

	br := bridge.New(8, 8)
	e := New(st, fakeBroadcaster{hash: "0xfeedbeef"}, br, nil, Config{})

	req := TradeRequest{
		Action: "buy", Token: token, Quote: quote, Amount: 1.0,
		Wallets: []common.Address{walletAddr}, SlippagePct: 5,
	}
	e.ExecuteBatch(context.Background(), req)

	var gotSent, gotStatus bool
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		ev, perr := br.PopEvent(ctx)
		require.NoError(t, perr)
		switch ev.Type {
		case bridge.EvtTxSent:
			gotSent = true
			assert.Equal(t, "0xfeedbeef", ev.Data.(bridge.TxSentData).TxHash)
		case bridge.EvtTradeStatus:
			gotStatus = true
			assert.Equal(t, "Sent", ev.Data.(bridge.TradeStatusData).Status)
		}
	}
	assert.True(t, gotSent)
	assert.True(t, gotStatus)
	assert.Contains(t, st.PendingTxHashes(), common.HexToHash("0xfeedbeef"))
}

func TestExecuteOneZeroAmountEmitsError(t *testing.T) {
	st := state.New()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	walletAddr := crypto.PubkeyToAddress(key.PublicKey)
	require.NoError(t, st.AddWallet(context.Background(), key, walletAddr, fakeFetcher{}))

	token := common.HexToAddress("0x1111")
	quote := common.HexToAddress("0x2222")
	st.SetSelection(&state.Selection{Token: token, Quote: quote, Variant: state.VariantV2})

	br := bridge.New(4, 4)
	e := New(st, fakeBroadcaster{}, br, nil, Config{})

	e.ExecuteBatch(context.Background(), TradeRequest{
		Action: "buy", Token: token, Quote: quote, Amount: 0,
		Wallets: []common.Address{walletAddr},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, perr := br.PopEvent(ctx)
	require.NoError(t, perr)
	assert.Equal(t, "Error", ev.Data.(bridge.TradeStatusData).Status)
}
