package wsmonitor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustAMamont/evm-terminal/internal/bridge"
	"github.com/JustAMamont/evm-terminal/internal/state"
)

func TestBackoffScalesWithAttemptAndCaps(t *testing.T) {
	base := 3 * time.Second
	max := 30 * time.Second

	assert.Equal(t, base, backoff(0, base, max))
	assert.Equal(t, time.Duration(float64(base)*4.0/3.0), backoff(1, base, max))
	assert.Equal(t, max, backoff(1000, base, max))
}

func newTestMonitor(st *state.CoreState, br *bridge.Bridge) *Monitor {
	return New(nil, st, br, Config{LRUSize: 10})
}

func TestHandleSyncUpdatesReservesAndEmitsPoolUpdate(t *testing.T) {
	st := state.New()
	quote := common.HexToAddress("0x2222")
	token := common.HexToAddress("0x1111")
	poolAddr := common.HexToAddress("0x3333")
	st.SetDecimals(quote, 18)
	st.SetDecimals(token, 18)
	st.UpsertV2Pool(&state.Pool{Address: poolAddr, Variant: state.VariantV2, Token0: quote, Token1: token})
	st.SetSelection(&state.Selection{Token: token, Quote: quote, PoolAddress: poolAddr, Variant: state.VariantV2})

	br := bridge.New(4, 4)
	m := newTestMonitor(st, br)

	r0 := new(big.Int).SetUint64(1_000_000_000_000)
	r1 := new(big.Int).SetUint64(2_000_000_000_000)
	data := make([]byte, 64)
	r0.FillBytes(data[0:32])
	r1.FillBytes(data[32:64])

	m.handleSync(types.Log{Address: poolAddr, Data: data}, quote)

	p, ok := st.V2Pool(poolAddr)
	require.True(t, ok)
	assert.Equal(t, r0.String(), p.Reserve0.ToBig().String())
	assert.Equal(t, r1.String(), p.Reserve1.ToBig().String())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := br.PopEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridge.EvtPoolUpdate, ev.Type)
}

func TestHandleSyncIgnoresShortData(t *testing.T) {
	st := state.New()
	poolAddr := common.HexToAddress("0x3333")
	st.UpsertV2Pool(&state.Pool{Address: poolAddr, Variant: state.VariantV2})
	br := bridge.New(4, 4)
	m := newTestMonitor(st, br)

	m.handleSync(types.Log{Address: poolAddr, Data: []byte{1, 2, 3}}, common.Address{})

	p, _ := st.V2Pool(poolAddr)
	assert.Nil(t, p.Reserve0)
}

func TestHandleSyncUnknownPoolIsNoop(t *testing.T) {
	st := state.New()
	br := bridge.New(4, 4)
	m := newTestMonitor(st, br)

	data := make([]byte, 64)
	m.handleSync(types.Log{Address: common.HexToAddress("0xdead"), Data: data}, common.Address{})
	assert.Empty(t, st.V2Pools)
}

func TestHandleSwapUpdatesSlot0(t *testing.T) {
	st := state.New()
	quote := common.HexToAddress("0x2222")
	poolAddr := common.HexToAddress("0x3333")
	st.SetDecimals(quote, 18)
	st.UpsertV3Pool(&state.Pool{Address: poolAddr, Variant: state.VariantV3})

	br := bridge.New(4, 4)
	m := newTestMonitor(st, br)

	data := make([]byte, 160)
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96) // 2^96, price 1.0
	sqrtP.FillBytes(data[64:96])
	liq := new(big.Int).SetUint64(5000)
	liq.FillBytes(data[96:128])
	tick := new(big.Int).SetInt64(42)
	tick.FillBytes(data[128:160])

	m.handleSwap(types.Log{Address: poolAddr, Data: data}, quote)

	p, ok := st.V3Pool(poolAddr)
	require.True(t, ok)
	assert.Equal(t, int32(42), p.Tick)
	assert.Equal(t, liq.String(), p.Liquidity.ToBig().String())
}

func TestHandleSwapIgnoresShortData(t *testing.T) {
	st := state.New()
	poolAddr := common.HexToAddress("0x3333")
	st.UpsertV3Pool(&state.Pool{Address: poolAddr, Variant: state.VariantV3})
	br := bridge.New(4, 4)
	m := newTestMonitor(st, br)

	m.handleSwap(types.Log{Address: poolAddr, Data: []byte{1}}, common.Address{})

	p, _ := st.V3Pool(poolAddr)
	assert.Nil(t, p.Liquidity)
}

func TestRecomputeIfSelectedSkipsWhenNoSelection(t *testing.T) {
	st := state.New()
	br := bridge.New(4, 4)
	m := newTestMonitor(st, br)

	p := &state.Pool{Address: common.HexToAddress("0x1"), Variant: state.VariantV2, Reserve0: uint256.NewInt(1), Reserve1: uint256.NewInt(1)}
	m.recomputeIfSelected(p, common.Address{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := br.PopEvent(ctx)
	assert.Error(t, err, "no selection means no PoolUpdate event")
}
