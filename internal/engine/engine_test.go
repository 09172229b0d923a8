package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustAMamont/evm-terminal/configs"
	"github.com/JustAMamont/evm-terminal/internal/bridge"
	"github.com/JustAMamont/evm-terminal/internal/state"
	"github.com/JustAMamont/evm-terminal/internal/xlog"
)

func newTestEngine() (*Engine, *bridge.Bridge) {
	br := bridge.New(16, 16)
	e := New(&configs.Config{}, br, xlog.New(br), "")
	return e, br
}

func popEvent(t *testing.T, br *bridge.Bridge) bridge.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := br.PopEvent(ctx)
	require.NoError(t, err)
	return ev
}

func TestParseDataMissing(t *testing.T) {
	_, err := parseData[bridge.UpdatePriceData](bridge.Command{Type: bridge.CmdUpdatePrice})
	assert.Error(t, err)
}

func TestParseDataInvalidJSON(t *testing.T) {
	_, err := parseData[bridge.UpdatePriceData](bridge.Command{Data: json.RawMessage(`not json`)})
	assert.Error(t, err)
}

func TestParseDataSuccess(t *testing.T) {
	data, err := parseData[bridge.UpdatePriceData](bridge.Command{Data: json.RawMessage(`{"symbol":"USDC","price":1.0}`)})
	require.NoError(t, err)
	assert.Equal(t, "USDC", data.Symbol)
	assert.Equal(t, 1.0, data.Price)
}

func TestOrZero(t *testing.T) {
	assert.Equal(t, "0", orZero(""))
	assert.Equal(t, "5", orZero("5"))
}

func TestParseWallet(t *testing.T) {
	_, _, err := parseWallet("not-a-key")
	assert.Error(t, err)
}

func TestParseFloatOrZero(t *testing.T) {
	assert.Equal(t, 1.5, parseFloatOrZero("1.5"))
	assert.Equal(t, 0.0, parseFloatOrZero("garbage"))
}

func TestPoolAddresses(t *testing.T) {
	a := common.HexToAddress("0x1")
	b := common.HexToAddress("0x2")
	got := poolAddresses([]*state.Pool{{Address: a}, {Address: b}})
	assert.Equal(t, []common.Address{a, b}, got)
}

func TestDispatchUnknownCommandEmitsErrorLog(t *testing.T) {
	e, br := newTestEngine()
	e.dispatch(context.Background(), bridge.Command{Type: bridge.CommandKind("Bogus")})

	ev := popEvent(t, br)
	assert.Equal(t, bridge.EvtLog, ev.Type)
	assert.Equal(t, "ERROR", ev.Data.(bridge.LogData).Level)
}

func TestHandleUpdatePriceWritesState(t *testing.T) {
	e, _ := newTestEngine()
	e.handleUpdatePrice(bridge.Command{Data: json.RawMessage(`{"symbol":"USDC","price":1.01}`)})
	assert.Equal(t, 1.01, e.State.USDPrice("USDC"))
}

func TestHandleUpdateTokenDecimalsWritesState(t *testing.T) {
	e, _ := newTestEngine()
	addr := common.HexToAddress("0xabc")
	e.handleUpdateTokenDecimals(bridge.Command{Data: json.RawMessage(`{"address":"0xabc","decimals":6}`)})
	dec, ok := e.State.Decimals(addr)
	require.True(t, ok)
	assert.Equal(t, uint8(6), dec)
}

func TestHandleUpdateSettingsAppliesOverrides(t *testing.T) {
	e, _ := newTestEngine()
	gas := 12.5
	slip := 2.0
	enabled := true
	cmd := bridge.Command{}
	payload := bridge.UpdateSettingsData{GasPriceGwei: &gas, SlippagePct: &slip, FuelEnabled: &enabled}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	cmd.Data = raw

	e.handleUpdateSettings(context.Background(), cmd)

	assert.Equal(t, gas, e.State.ManualGasPriceGwei)
	assert.Equal(t, slip, e.State.SlippagePct)
	assert.True(t, e.State.GetFuelPolicy().Enabled)
}

func TestHandleUnsubscribeTokenClearsSelection(t *testing.T) {
	e, _ := newTestEngine()
	e.State.SetSelection(&state.Selection{Token: common.HexToAddress("0x1")})
	e.dispatch(context.Background(), bridge.Command{Type: bridge.CmdUnsubscribeToken})
	assert.Nil(t, e.State.GetSelection())
}

func TestRunStopsConsumingAfterShutdownCommand(t *testing.T) {
	e, br := newTestEngine()

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()

	// drain the EngineReady event Run emits on entry.
	popEvent(t, br)

	require.NoError(t, br.PushCommand(context.Background(), bridge.Command{Type: bridge.CmdShutdown}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after a Shutdown command")
	}

	// drain the ConnectionStatus event handleShutdown emits, then prove
	// the loop is no longer reading: a further push sits unconsumed.
	popEvent(t, br)
	pushCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, br.PushCommand(pushCtx, bridge.Command{Type: bridge.CmdUpdatePrice, Data: json.RawMessage(`{"symbol":"USDC","price":2}`)}))
	assert.Equal(t, 1, len(br.Commands()), "command channel must no longer be drained once Run has stopped")
}

func TestHandleShutdownEmitsDisconnected(t *testing.T) {
	e, br := newTestEngine()
	e.handleShutdown()

	ev := popEvent(t, br)
	assert.Equal(t, bridge.EvtConnectionStatus, ev.Type)
	assert.False(t, ev.Data.(bridge.ConnectionStatusData).Connected)
}

func TestHandleGetBestRpcUrlNoNodesEmitsError(t *testing.T) {
	e, br := newTestEngine()
	e.handleGetBestRpcUrl()

	ev := popEvent(t, br)
	assert.Equal(t, bridge.EvtLog, ev.Type)
	assert.Equal(t, "ERROR", ev.Data.(bridge.LogData).Level)
}

func TestHandleGetHealthyRpcUrlsEmpty(t *testing.T) {
	e, br := newTestEngine()
	e.handleGetHealthyRpcUrls()

	ev := popEvent(t, br)
	assert.Equal(t, bridge.EvtHealthyRpcUrls, ev.Type)
	assert.Empty(t, ev.Data.(bridge.HealthyRpcUrlsData).Urls)
}

func TestHandleListNetworksMissingDirReturnsEmptyList(t *testing.T) {
	e, br := newTestEngine()
	e.NetDir = "/nonexistent/dir/for/test"
	e.handleListNetworks()

	ev := popEvent(t, br)
	assert.Equal(t, bridge.EvtNetworks, ev.Type)
	assert.Empty(t, ev.Data.(bridge.NetworksData).Networks)
}

func TestDeriveAndStoreUpsertsV2Pool(t *testing.T) {
	e, _ := newTestEngine()
	quote := common.HexToAddress("0x2222")
	token := common.HexToAddress("0x1111")
	poolAddr := common.HexToAddress("0x3333")
	e.State.SetDecimals(quote, 18)
	e.State.SetDecimals(token, 18)

	candidates := []*state.Pool{{
		Address: poolAddr, Variant: state.VariantV2, Token0: quote, Token1: token,
	}}
	e.deriveAndStore(candidates, quote)

	_, ok := e.State.V2Pool(poolAddr)
	assert.True(t, ok)
}
