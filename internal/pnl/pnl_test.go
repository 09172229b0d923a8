package pnl

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustAMamont/evm-terminal/internal/bridge"
)

func testHolding(wallet, token common.Address) Holding {
	return Holding{
		Wallet:    wallet,
		Token:     token,
		Quote:     common.HexToAddress("0x2222"),
		Balance:   uint256.NewInt(1),
		CostBasis: uint256.NewInt(1),
		PoolType:  0,
	}
}

func TestNewDefaultsNonPositiveInterval(t *testing.T) {
	wk := New(nil, bridge.New(4, 4), Fees{}, 0)
	assert.Equal(t, time.Second, wk.Interval)
}

func TestStartEmitsLoadingEvent(t *testing.T) {
	br := bridge.New(4, 4)
	wk := New(nil, br, Fees{}, time.Hour)
	wallet := common.HexToAddress("0x1111")
	token := common.HexToAddress("0x3333")

	wk.Start(context.Background(), testHolding(wallet, token))
	defer wk.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := br.PopEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridge.EvtPnLUpdate, ev.Type)
	data := ev.Data.(bridge.PnLUpdateData)
	assert.True(t, data.IsLoading)
	assert.Equal(t, wallet.Hex(), data.Wallet)
}

func TestStartTwiceForSameKeyReplacesPriorTracker(t *testing.T) {
	br := bridge.New(8, 8)
	wk := New(nil, br, Fees{}, time.Hour)
	wallet := common.HexToAddress("0x1111")
	token := common.HexToAddress("0x3333")

	wk.Start(context.Background(), testHolding(wallet, token))
	wk.Start(context.Background(), testHolding(wallet, token))
	defer wk.StopAll()

	wk.mu.Lock()
	n := len(wk.cancels)
	wk.mu.Unlock()
	assert.Equal(t, 1, n, "restarting the same (wallet, token) key must not leak a second tracker")
}

func TestStopRemovesCancelEntry(t *testing.T) {
	br := bridge.New(4, 4)
	wk := New(nil, br, Fees{}, time.Hour)
	wallet := common.HexToAddress("0x1111")
	token := common.HexToAddress("0x3333")

	wk.Start(context.Background(), testHolding(wallet, token))
	wk.Stop(wallet, token)

	wk.mu.Lock()
	n := len(wk.cancels)
	wk.mu.Unlock()
	assert.Equal(t, 0, n)
}

func TestStopAllCancelsEveryTracker(t *testing.T) {
	br := bridge.New(8, 8)
	wk := New(nil, br, Fees{}, time.Hour)

	wk.Start(context.Background(), testHolding(common.HexToAddress("0x1"), common.HexToAddress("0x3")))
	wk.Start(context.Background(), testHolding(common.HexToAddress("0x2"), common.HexToAddress("0x4")))

	wk.mu.Lock()
	before := len(wk.cancels)
	wk.mu.Unlock()
	require.Equal(t, 2, before)

	wk.StopAll()

	wk.mu.Lock()
	after := len(wk.cancels)
	wk.mu.Unlock()
	assert.Equal(t, 0, after)
}

func TestHoldingKeyCombinesWalletAndToken(t *testing.T) {
	wallet := common.HexToAddress("0x1111")
	token := common.HexToAddress("0x2222")
	h := Holding{Wallet: wallet, Token: token}
	assert.Equal(t, wallet.Hex()+":"+token.Hex(), h.key())
}
