// Package engine implements the single command-consumer loop that wires
// RpcPool, CoreState, WSMonitor, Executor, AutoFuel, and the PnL worker
// together (spec §5): each command either mutates shared state directly
// or spawns a short-lived task.
//
// Grounded directly on original_source/rust_module/src/engine.rs's
// engine_loop match-on-EngineCommand dispatcher, translated from an enum
// match into a Go switch over bridge.CommandKind.
package engine

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/JustAMamont/evm-terminal/configs"
	"github.com/JustAMamont/evm-terminal/internal/autofuel"
	"github.com/JustAMamont/evm-terminal/internal/bridge"
	"github.com/JustAMamont/evm-terminal/internal/executor"
	"github.com/JustAMamont/evm-terminal/internal/netconfig"
	"github.com/JustAMamont/evm-terminal/internal/pnl"
	"github.com/JustAMamont/evm-terminal/internal/pool"
	"github.com/JustAMamont/evm-terminal/internal/rpcpool"
	"github.com/JustAMamont/evm-terminal/internal/state"
	"github.com/JustAMamont/evm-terminal/internal/wei"
	"github.com/JustAMamont/evm-terminal/internal/wsmonitor"
	"github.com/JustAMamont/evm-terminal/internal/xlog"
)

// reinitSleep is the pause between aborting prior task handles and
// spawning fresh ones (spec §5).
const reinitSleep = 50 * time.Millisecond

// Engine owns every long-lived task handle and dispatches commands.
type Engine struct {
	State    *state.CoreState
	RPCPool  *rpcpool.Pool
	Bridge   *bridge.Bridge
	Logger   *xlog.Logger
	Cfg      *configs.Config
	NetDir   string

	httpClient *ethclient.Client
	exec       *executor.Executor
	fuel       *autofuel.AutoFuel
	pnlWorker  *pnl.Worker

	taskMu        sync.Mutex
	cancelMonitor context.CancelFunc
	cancelProber  context.CancelFunc
}

// New returns an Engine ready to Run.
func New(cfg *configs.Config, br *bridge.Bridge, logger *xlog.Logger, netDir string) *Engine {
	return &Engine{
		State:   state.New(),
		RPCPool: rpcpool.New(),
		Bridge:  br,
		Logger:  logger,
		Cfg:     cfg,
		NetDir:  netDir,
	}
}

// Run is the single command-consumer loop (spec §5); it returns when the
// bridge's command channel is closed, ctx is cancelled, or a Shutdown
// command is dispatched.
func (e *Engine) Run(ctx context.Context) {
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtEngineReady})
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-e.Bridge.Commands():
			if !ok {
				return
			}
			e.dispatch(ctx, cmd)
			if cmd.Type == bridge.CmdShutdown {
				return
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, cmd bridge.Command) {
	defer e.Logger.RecoverTask(string(cmd.Type))

	switch cmd.Type {
	case bridge.CmdInit:
		e.handleInit(ctx, cmd)
	case bridge.CmdSwitchToken:
		e.handleSwitchToken(ctx, cmd)
	case bridge.CmdUnsubscribeToken:
		e.State.ClearSelection()
	case bridge.CmdCalcImpact:
		e.handleCalcImpact(ctx, cmd)
	case bridge.CmdExecuteTrade:
		e.handleExecuteTrade(ctx, cmd)
	case bridge.CmdUpdatePrice:
		e.handleUpdatePrice(cmd)
	case bridge.CmdUpdateTokenDecimals:
		e.handleUpdateTokenDecimals(cmd)
	case bridge.CmdUpdateSettings:
		e.handleUpdateSettings(ctx, cmd)
	case bridge.CmdAddWallet:
		e.handleAddWallet(ctx, cmd)
	case bridge.CmdRefreshBalance:
		e.handleRefreshBalance(ctx, cmd, false)
	case bridge.CmdRefreshAllBalances:
		e.handleRefreshBalance(ctx, cmd, true)
	case bridge.CmdShutdown:
		e.handleShutdown()
	case bridge.CmdGetBestRpcUrl:
		e.handleGetBestRpcUrl()
	case bridge.CmdGetHealthyRpcUrls:
		e.handleGetHealthyRpcUrls()
	case bridge.CmdListNetworks:
		e.handleListNetworks()
	default:
		e.rejectCommand(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

func (e *Engine) rejectCommand(msg string) {
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtLog, Data: bridge.LogData{Level: "ERROR", Message: msg}})
}

func parseData[T any](cmd bridge.Command) (T, error) {
	var out T
	if len(cmd.Data) == 0 {
		return out, fmt.Errorf("missing data")
	}
	if err := json.Unmarshal(cmd.Data, &out); err != nil {
		return out, err
	}
	return out, nil
}

// --- Init ---

func (e *Engine) handleInit(ctx context.Context, cmd bridge.Command) {
	data, err := parseData[bridge.InitData](cmd)
	if err != nil {
		e.rejectCommand("Init: " + err.Error())
		return
	}

	e.abortTasks()
	time.Sleep(reinitSleep)
	e.State.Reset()

	client, err := ethclient.DialContext(ctx, data.RPCUrl)
	if err != nil {
		e.rejectCommand("Init: dial rpc: " + err.Error())
		return
	}
	e.httpClient = client

	e.State.ChainID = data.ChainID
	e.State.RPCUrl = data.RPCUrl
	e.State.WSSUrl = data.WSSUrl
	e.State.RouterAddress = common.HexToAddress(data.Router)
	e.State.QuoterAddress = common.HexToAddress(data.Quoter)
	e.State.V2FactoryAddress = common.HexToAddress(data.V2Factory)
	e.State.V3FactoryAddress = common.HexToAddress(data.V3Factory)
	e.State.WrappedNativeAddress = common.HexToAddress(data.WrappedNative)
	e.State.NativeAddress = common.HexToAddress(data.NativeAddress)
	e.State.QuoteSymbol = data.QuoteSymbol

	quoteTokens := make(map[string]common.Address, len(data.QuoteTokens))
	for sym, addr := range data.QuoteTokens {
		quoteTokens[sym] = common.HexToAddress(addr)
	}
	e.State.QuoteTokens = quoteTokens

	for _, wIn := range data.Wallets {
		key, addr, err := parseWallet(wIn.Key)
		if err != nil {
			e.rejectCommand("Init: bad wallet key: " + err.Error())
			continue
		}
		if err := e.State.AddWallet(ctx, key, addr, client); err != nil {
			e.Logger.Warn("Init: nonce resync failed for %s: %v", addr.Hex(), err)
		}
	}

	threshold, _ := uint256.FromDecimal(orZero(data.FuelSettings.ThresholdWei))
	amount, _ := uint256.FromDecimal(orZero(data.FuelSettings.AmountWei))
	e.State.SetFuelPolicy(state.FuelPolicy{
		Enabled:      data.FuelSettings.Enabled,
		ThresholdWei: threshold,
		AmountWei:    amount,
		QuoteAddress: common.HexToAddress(data.FuelSettings.QuoteAddress),
	})

	e.RPCPool.Install(ctx, data.PublicRPCUrls, data.RPCUrl)

	e.exec = executor.New(e.State, e.RPCPool, e.Bridge, client, executor.Config{
		ReceiptPollInterval: e.Cfg.Trade.ReceiptPollInterval(),
		Deadline:            e.Cfg.Trade.Deadline(),
		BroadcastFanout:     e.Cfg.RPCPool.BroadcastFanout,
	})
	e.fuel = autofuel.New(e.State, e.RPCPool, e.Bridge, client)
	e.pnlWorker = pnl.New(client, e.Bridge, pnl.Fees{
		RouterFeeBps: e.Cfg.PnL.RouterFeeBps,
		V2DexFeeBps:  e.Cfg.PnL.V2DexFeeBps,
	}, e.Cfg.PnL.Interval())

	proberCtx, cancel := context.WithCancel(ctx)
	e.taskMu.Lock()
	e.cancelProber = cancel
	e.taskMu.Unlock()
	go e.RPCPool.RunHealthChecker(proberCtx, e.Cfg.RPCPool.ProbeInterval(), e.Cfg.RPCPool.ProbeTimeout())

	e.startMonitor(ctx, common.Address{}, common.Address{}, nil)

	e.Logger.Info("engine initialized: chain_id=%d", data.ChainID)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func parseWallet(keyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	keyHex = strings.TrimPrefix(keyHex, "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, common.Address{}, err
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

func (e *Engine) startMonitor(ctx context.Context, token, quote common.Address, poolAddrs []common.Address) {
	e.taskMu.Lock()
	if e.cancelMonitor != nil {
		e.cancelMonitor()
	}
	monCtx, cancel := context.WithCancel(ctx)
	e.cancelMonitor = cancel
	e.taskMu.Unlock()

	mon := wsmonitor.New(e.httpClient, e.State, e.Bridge, wsmonitor.Config{
		IdleTimeout:     e.Cfg.Monitor.IdleTimeout(),
		BackoffBase:     time.Duration(e.Cfg.Monitor.BackoffBaseSec * float64(time.Second)),
		BackoffMax:      time.Duration(e.Cfg.Monitor.BackoffMaxSec * float64(time.Second)),
		PrefetchTimeout: e.Cfg.Monitor.PrefetchTimeout(),
		LRUSize:         e.Cfg.Monitor.LRUSize,
		PollInterval:    e.Cfg.Trade.ReceiptPollInterval(),
	})
	mon.OnFuel = e.fuel.Evaluate
	go mon.Run(monCtx, e.State.WSSUrl, token, quote, poolAddrs)
}

func (e *Engine) abortTasks() {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	if e.cancelMonitor != nil {
		e.cancelMonitor()
		e.cancelMonitor = nil
	}
	if e.cancelProber != nil {
		e.cancelProber()
		e.cancelProber = nil
	}
	if e.pnlWorker != nil {
		e.pnlWorker.StopAll()
	}
}

// --- SwitchToken ---

func (e *Engine) handleSwitchToken(ctx context.Context, cmd bridge.Command) {
	data, err := parseData[bridge.SwitchTokenData](cmd)
	if err != nil {
		e.rejectCommand("SwitchToken: " + err.Error())
		return
	}
	token := common.HexToAddress(data.Token)
	quote := common.HexToAddress(data.Quote)

	e.State.ClearPoolMaps()

	selected, poolAddrs, notFound := e.selectPool(ctx, token, quote)
	if notFound != nil {
		e.Bridge.Emit(bridge.Event{Type: bridge.EvtPoolNotFound, Data: *notFound})
	}
	if selected != nil {
		e.Bridge.Emit(bridge.Event{Type: bridge.EvtPoolDetected, Data: bridge.PoolDetectedData{
			PoolAddress: selected.Address.Hex(), Variant: selected.Variant.String(), FeeTier: selected.FeeBps,
		}})
	}

	time.Sleep(reinitSleep)
	e.startMonitor(ctx, token, quote, poolAddrs)
}

// selectPool runs discovery against quote (spec §4.3). If nothing is
// found it selects no pool; the other QuoteTokens that have pools are
// only listed in the returned PoolNotFound data.
func (e *Engine) selectPool(ctx context.Context, token, quote common.Address) (*state.Pool, []common.Address, *bridge.PoolNotFoundData) {
	candidates, _ := pool.Discover(ctx, e.httpClient, e.State.V2FactoryAddress, e.State.V3FactoryAddress, token, quote)
	e.deriveAndStore(candidates, quote)

	best := pool.Score(candidates)
	if best != nil {
		e.State.SetSelection(&state.Selection{
			Token: token, Quote: quote, PoolAddress: best.Address, Variant: best.Variant,
			FeeTier: best.FeeBps, LiquidityUSD: best.TVLUSD, SpotPrice: best.SpotPriceInQuote,
		})
		return best, poolAddresses(candidates), nil
	}

	var available []bridge.AvailableQuote
	for symbol, addr := range e.State.QuoteTokens {
		if addr == quote {
			continue
		}
		alt, _ := pool.Discover(ctx, e.httpClient, e.State.V2FactoryAddress, e.State.V3FactoryAddress, token, addr)
		if len(alt) > 0 {
			available = append(available, bridge.AvailableQuote{Symbol: symbol, Address: addr.Hex()})
		}
	}
	return nil, nil, &bridge.PoolNotFoundData{SelectedQuote: e.State.QuoteSymbol, AvailableQuotes: available}
}

func (e *Engine) deriveAndStore(candidates []*state.Pool, quote common.Address) {
	decQuote, _ := e.State.Decimals(quote)
	priceUSD := e.State.USDPrice(e.State.QuoteSymbol)
	for _, c := range candidates {
		if c.Variant == state.VariantV2 {
			tokenSide := c.Token1
			if c.Token1 == quote {
				tokenSide = c.Token0
			}
			decToken, _ := e.State.Decimals(tokenSide)
			pool.DeriveV2(c, quote, decToken, decQuote, priceUSD)
			e.State.UpsertV2Pool(c)
		} else {
			pool.DeriveV3(c, quote, decQuote, priceUSD)
			e.State.UpsertV3Pool(c)
		}
	}
}

func poolAddresses(candidates []*state.Pool) []common.Address {
	out := make([]common.Address, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Address)
	}
	return out
}

// --- CalcImpact ---

func (e *Engine) handleCalcImpact(ctx context.Context, cmd bridge.Command) {
	data, err := parseData[bridge.CalcImpactData](cmd)
	if err != nil {
		e.rejectCommand("CalcImpact: " + err.Error())
		return
	}
	sel := e.State.GetSelection()
	if sel == nil {
		e.Bridge.Emit(bridge.Event{Type: bridge.EvtImpactUpdate, Data: bridge.ImpactUpdateData{ImpactPct: 0}})
		return
	}

	dec, _ := e.State.Decimals(sel.Token)
	amountIn := wei.FloatToRaw(parseFloatOrZero(data.AmountIn), dec)

	var tokenIn, tokenOut common.Address
	if data.Action == "buy" {
		tokenIn, tokenOut = sel.Quote, sel.Token
	} else {
		tokenIn, tokenOut = sel.Token, sel.Quote
	}

	var expectedOut *uint256.Int
	if sel.Variant == state.VariantV3 {
		expectedOut, err = pool.ExpectedOutV3(ctx, e.httpClient, e.State.QuoterAddress, tokenIn, tokenOut, amountIn, sel.FeeTier)
	} else {
		p, ok := e.State.V2Pool(sel.PoolAddress)
		if !ok {
			e.rejectCommand("CalcImpact: selected pool missing")
			return
		}
		reserveIn, reserveOut := p.Reserve0, p.Reserve1
		if p.Token0 != tokenIn {
			reserveIn, reserveOut = p.Reserve1, p.Reserve0
		}
		expectedOut = pool.ExpectedOutV2(reserveIn, reserveOut, amountIn)
	}
	if err != nil {
		e.Bridge.Emit(bridge.Event{Type: bridge.EvtImpactUpdate, Data: bridge.ImpactUpdateData{ImpactPct: 0}})
		return
	}

	decOut, _ := e.State.Decimals(tokenOut)
	idealOut := wei.RawToFloat(amountIn, dec) * sel.SpotPrice
	expectedOutF := wei.RawToFloat(expectedOut, decOut)
	impact := pool.PriceImpact(idealOut, expectedOutF)

	e.Bridge.Emit(bridge.Event{Type: bridge.EvtImpactUpdate, Data: bridge.ImpactUpdateData{
		ImpactPct: impact, ExpectedOut: expectedOut.Dec(),
	}})
}

func parseFloatOrZero(s string) float64 {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return 0
	}
	return f
}

// --- ExecuteTrade ---

func (e *Engine) handleExecuteTrade(ctx context.Context, cmd bridge.Command) {
	data, err := parseData[bridge.ExecuteTradeData](cmd)
	if err != nil {
		e.rejectCommand("ExecuteTrade: " + err.Error())
		return
	}
	if e.exec == nil {
		e.rejectCommand("ExecuteTrade: engine not initialized")
		return
	}

	wallets := make([]common.Address, 0, len(data.Wallets))
	for _, w := range data.Wallets {
		wallets = append(wallets, common.HexToAddress(w))
	}
	overrides := make(map[common.Address]*uint256.Int, len(data.AmountsWeiOverride))
	for addr, raw := range data.AmountsWeiOverride {
		v, _ := uint256.FromDecimal(raw)
		overrides[common.HexToAddress(addr)] = v
	}

	req := executor.TradeRequest{
		Action:             data.Action,
		Token:              common.HexToAddress(data.Token),
		Quote:              common.HexToAddress(data.Quote),
		Amount:             data.Amount,
		Wallets:            wallets,
		GasGwei:            data.GasGwei,
		SlippagePct:        data.SlippagePct,
		V3Fee:              data.V3Fee,
		AmountsWeiOverride: overrides,
	}
	e.exec.ExecuteBatch(ctx, req)
}

// --- Config-ish commands ---

func (e *Engine) handleUpdatePrice(cmd bridge.Command) {
	data, err := parseData[bridge.UpdatePriceData](cmd)
	if err != nil {
		e.rejectCommand("UpdatePrice: " + err.Error())
		return
	}
	e.State.SetUSDPrice(data.Symbol, data.Price)
}

func (e *Engine) handleUpdateTokenDecimals(cmd bridge.Command) {
	data, err := parseData[bridge.UpdateTokenDecimalsData](cmd)
	if err != nil {
		e.rejectCommand("UpdateTokenDecimals: " + err.Error())
		return
	}
	e.State.SetDecimals(common.HexToAddress(data.Address), data.Decimals)
}

func (e *Engine) handleUpdateSettings(ctx context.Context, cmd bridge.Command) {
	data, err := parseData[bridge.UpdateSettingsData](cmd)
	if err != nil {
		e.rejectCommand("UpdateSettings: " + err.Error())
		return
	}
	if data.GasPriceGwei != nil {
		e.State.ManualGasPriceGwei = *data.GasPriceGwei
	}
	if data.SlippagePct != nil {
		e.State.SlippagePct = *data.SlippagePct
	}
	if data.FuelEnabled != nil || data.FuelQuoteAddress != nil {
		policy := e.State.GetFuelPolicy()
		if data.FuelEnabled != nil {
			policy.Enabled = *data.FuelEnabled
		}
		if data.FuelQuoteAddress != nil {
			policy.QuoteAddress = common.HexToAddress(*data.FuelQuoteAddress)
		}
		e.State.SetFuelPolicy(policy)
	}
	if data.QuoteSymbol != nil {
		e.State.QuoteSymbol = *data.QuoteSymbol
	}
	if data.RPCUrl != nil {
		e.State.RPCUrl = *data.RPCUrl
	}
	if data.WSSUrl != nil {
		e.State.WSSUrl = *data.WSSUrl
		sel := e.State.GetSelection()
		if sel != nil {
			e.startMonitor(ctx, sel.Token, sel.Quote, nil)
		}
	}
}

func (e *Engine) handleAddWallet(ctx context.Context, cmd bridge.Command) {
	data, err := parseData[bridge.AddWalletData](cmd)
	if err != nil {
		e.rejectCommand("AddWallet: " + err.Error())
		return
	}
	key, addr, err := parseWallet(data.Key)
	if err != nil {
		e.rejectCommand("AddWallet: bad key: " + err.Error())
		return
	}
	if err := e.State.AddWallet(ctx, key, addr, e.httpClient); err != nil {
		e.Logger.Warn("AddWallet: nonce resync failed: %v", err)
	}
}

func (e *Engine) handleRefreshBalance(ctx context.Context, cmd bridge.Command, all bool) {
	data, _ := parseData[bridge.RefreshBalanceData](cmd)
	addrs := e.State.WalletAddresses()
	if !all && data.Address != "" {
		addrs = []common.Address{common.HexToAddress(data.Address)}
	}
	for _, addr := range addrs {
		bal, err := e.httpClient.BalanceAt(ctx, addr, nil)
		if err != nil {
			continue
		}
		b, _ := uint256.FromBig(bal)
		e.State.SetNativeBalance(addr, b)
		e.Bridge.Emit(bridge.Event{Type: bridge.EvtBalanceUpdate, Data: bridge.BalanceUpdateData{
			Wallet: addr.Hex(), Token: "native", Balance: b.Dec(),
		}})
	}
}

func (e *Engine) handleShutdown() {
	e.abortTasks()
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtConnectionStatus, Data: bridge.ConnectionStatusData{Connected: false, Message: "shutdown"}})
}

// --- Supplemented introspection commands ---

func (e *Engine) handleGetBestRpcUrl() {
	node, err := e.RPCPool.FastestOne()
	if err != nil {
		e.rejectCommand("GetBestRpcUrl: " + err.Error())
		return
	}
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtBestRpcUrl, Data: bridge.BestRpcUrlData{URL: node.URL}})
}

func (e *Engine) handleGetHealthyRpcUrls() {
	nodes := e.RPCPool.FastestK(1 << 16)
	urls := make([]string, 0, len(nodes))
	for _, n := range nodes {
		urls = append(urls, n.URL)
	}
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtHealthyRpcUrls, Data: bridge.HealthyRpcUrlsData{Urls: urls}})
}

func (e *Engine) handleListNetworks() {
	names, err := netconfig.List(e.NetDir)
	if err != nil {
		e.rejectCommand("ListNetworks: " + err.Error())
		return
	}
	e.Bridge.Emit(bridge.Event{Type: bridge.EvtNetworks, Data: bridge.NetworksData{Networks: names}})
}
