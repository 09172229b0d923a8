// Package wsmonitor implements the Unified WebSocket Monitor (spec §4.2):
// a single WS connection multiplexing four logical streams (blocks,
// Transfer logs, pool Sync/Swap logs, pending-tx poller), with an
// explicit reconnect state machine, idle detection, and HTTP prefetch
// warm-up.
//
// Grounded on original_source/rust_module/src/monitor.rs's
// wss_gas_monitor/wss_token_log_monitor/wss_pool_event_listener/
// fetch_and_update_nonce tasks, unified here into one supervised
// connection per spec §4.2 (the Rust core ran them as separate
// subscriptions; the spec generalizes them into one multiplexed session).
package wsmonitor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/JustAMamont/evm-terminal/internal/abiutil"
	"github.com/JustAMamont/evm-terminal/internal/bridge"
	"github.com/JustAMamont/evm-terminal/internal/lru"
	"github.com/JustAMamont/evm-terminal/internal/pool"
	"github.com/JustAMamont/evm-terminal/internal/state"
	"github.com/JustAMamont/evm-terminal/pkg/contractclient"
)

// Status is the monitor's connection state machine (spec §4.2).
type Status int

const (
	Disconnected Status = iota
	Connecting
	Prefetching
	Subscribing
	Live
)

var (
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	syncTopic     = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))
	swapV3Topic   = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

// Reason tags why LIVE transitioned back to DISCONNECTED (spec §4.2).
type Reason struct {
	Kind   string // StreamEnded | Error | IdleTimeout | Shutdown
	Detail string
}

// Config tunes the monitor's timing, mirroring configs.MonitorYAMLData.
type Config struct {
	IdleTimeout     time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	PrefetchTimeout time.Duration
	LRUSize         int
	PollInterval    time.Duration // pending-tx poll interval (spec default 500ms)
}

// FuelEvaluator is called on every block, per wallet, to let AutoFuel
// decide whether to act (dependency injected so wsmonitor doesn't import
// internal/autofuel directly).
type FuelEvaluator func(ctx context.Context, wallet common.Address, nativeBalance *uint256.Int)

// Monitor supervises the single multiplexed WS connection.
type Monitor struct {
	HTTPClient *ethclient.Client
	State      *state.CoreState
	Bridge     *bridge.Bridge
	Cfg        Config
	OnFuel     FuelEvaluator

	mu     sync.RWMutex
	status Status

	dedup *lru.Set
}

// New returns a Monitor ready to Run.
func New(httpClient *ethclient.Client, st *state.CoreState, br *bridge.Bridge, cfg Config) *Monitor {
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = 1000
	}
	return &Monitor{
		HTTPClient: httpClient,
		State:      st,
		Bridge:     br,
		Cfg:        cfg,
		dedup:      lru.New(cfg.LRUSize),
	}
}

func (m *Monitor) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) emitConnection(connected bool, message string) {
	m.Bridge.Emit(bridge.Event{Type: bridge.EvtConnectionStatus, Data: bridge.ConnectionStatusData{Connected: connected, Message: message}})
}

func (m *Monitor) log(level, msg string) {
	m.Bridge.Emit(bridge.Event{Type: bridge.EvtLog, Data: bridge.LogData{Level: level, Message: msg}})
}

// backoff computes min(base*(1+attempt/3), max) (spec §4.2).
func backoff(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(float64(base) * (1 + float64(attempt)/3))
	if d > max {
		return max
	}
	return d
}

// Run drives the reconnect state machine until ctx is cancelled.
// token/quote select which Transfer topics and pool addresses to
// subscribe to; they may be the zero address when no pair is selected.
func (m *Monitor) Run(ctx context.Context, wssURL string, token, quote common.Address, poolAddrs []common.Address) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			m.setStatus(Disconnected)
			return
		}

		m.setStatus(Connecting)
		wsClient, err := ethclient.DialContext(ctx, wssURL)
		if err != nil {
			m.log("ERROR", fmt.Sprintf("wsmonitor: dial failed: %v", err))
			m.emitConnection(false, err.Error())
			if !sleepCtx(ctx, backoff(attempt, m.Cfg.BackoffBase, m.Cfg.BackoffMax)) {
				return
			}
			attempt++
			continue
		}

		m.setStatus(Prefetching)
		m.prefetch(ctx, token, quote, poolAddrs)

		m.setStatus(Subscribing)
		m.emitConnection(true, "connected")
		m.setStatus(Live)

		reason := m.runLive(ctx, wsClient, token, quote, poolAddrs)
		wsClient.Close()
		m.setStatus(Disconnected)
		m.emitConnection(false, reason.Kind+": "+reason.Detail)

		if reason.Kind == "Shutdown" || ctx.Err() != nil {
			return
		}

		if !sleepCtx(ctx, backoff(attempt, m.Cfg.BackoffBase, m.Cfg.BackoffMax)) {
			return
		}
		attempt++
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// prefetch snapshots gas price, native/quote balances per wallet, and
// pool candidate state, wrapped in a timeout (spec §4.2). A prefetch
// failure does not block entering Subscribing.
func (m *Monitor) prefetch(ctx context.Context, token, quote common.Address, poolAddrs []common.Address) {
	pctx, cancel := context.WithTimeout(ctx, m.Cfg.PrefetchTimeout)
	defer cancel()

	if gp, err := m.HTTPClient.SuggestGasPrice(pctx); err == nil {
		g, _ := uint256.FromBig(gp)
		m.State.SetGasPrice(g)
	}

	for _, addr := range m.State.WalletAddresses() {
		if bal, err := m.HTTPClient.BalanceAt(pctx, addr, nil); err == nil {
			b, _ := uint256.FromBig(bal)
			m.State.SetNativeBalance(addr, b)
		}
		if bal, err := erc20BalanceOf(pctx, m.HTTPClient, quote, addr); err == nil {
			m.Bridge.Emit(bridge.Event{Type: bridge.EvtBalanceUpdate, Data: bridge.BalanceUpdateData{
				Wallet:  addr.Hex(),
				Token:   quote.Hex(),
				Balance: bal.Dec(),
			}})
		}
	}

	_ = token
	_ = quote
	for _, pa := range poolAddrs {
		m.refreshPoolSnapshot(pctx, pa, quote)
	}
}

func (m *Monitor) refreshPoolSnapshot(ctx context.Context, poolAddr, quote common.Address) {
	if p, ok := m.State.V2Pool(poolAddr); ok {
		client, err := contractclient.New(m.HTTPClient, poolAddr, abiutil.UniswapV2Pair)
		if err != nil {
			return
		}
		var reserves struct {
			Reserve0           *big.Int
			Reserve1           *big.Int
			BlockTimestampLast uint32
		}
		if err := client.Call(ctx, &reserves, "getReserves"); err != nil {
			return
		}
		r0, _ := uint256.FromBig(reserves.Reserve0)
		r1, _ := uint256.FromBig(reserves.Reserve1)
		p.Reserve0, p.Reserve1 = r0, r1
		m.State.UpsertV2Pool(p)
		m.recomputeIfSelected(p, quote)
	}
	if p, ok := m.State.V3Pool(poolAddr); ok {
		client, err := contractclient.New(m.HTTPClient, poolAddr, abiutil.UniswapV3Pool)
		if err != nil {
			return
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
		if err := client.Call(ctx, &slot0, "slot0"); err != nil {
			return
		}
		var liquidity *big.Int
		if err := client.Call(ctx, &liquidity, "liquidity"); err != nil {
			return
		}
		sqrtP, _ := uint256.FromBig(slot0.SqrtPriceX96)
		liq, _ := uint256.FromBig(liquidity)
		p.SqrtPriceX96 = sqrtP
		p.Liquidity = liq
		p.Tick = int32(slot0.Tick.Int64())
		m.State.UpsertV3Pool(p)
		m.recomputeIfSelected(p, quote)
	}
}

func (m *Monitor) recomputeIfSelected(p *state.Pool, quote common.Address) {
	sel := m.State.GetSelection()
	if sel == nil || sel.PoolAddress != p.Address {
		return
	}
	decQuote, _ := m.State.Decimals(quote)
	priceUSD := m.State.USDPrice(m.State.QuoteSymbol)

	if p.Variant == state.VariantV2 {
		decToken, _ := m.State.Decimals(sel.Token)
		pool.DeriveV2(p, quote, decToken, decQuote, priceUSD)
	} else {
		pool.DeriveV3(p, quote, decQuote, priceUSD)
	}

	sel.SpotPrice = p.SpotPriceInQuote
	sel.LiquidityUSD = p.TVLUSD
	m.State.SetSelection(sel)

	m.Bridge.Emit(bridge.Event{Type: bridge.EvtPoolUpdate, Data: bridge.PoolUpdateData{
		PoolAddress: p.Address.Hex(),
		Variant:     p.Variant.String(),
		SpotPrice:   p.SpotPriceInQuote,
		TVLUSD:      p.TVLUSD,
	}})
}

// runLive starts the four logical streams and blocks until one ends,
// errors, idles out, or ctx is cancelled.
func (m *Monitor) runLive(ctx context.Context, client *ethclient.Client, token, quote common.Address, poolAddrs []common.Address) Reason {
	liveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reasonCh := make(chan Reason, 4)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() { defer wg.Done(); m.blocksStream(liveCtx, client, reasonCh, cancel) }()

	if token != (common.Address{}) && quote != (common.Address{}) {
		wg.Add(1)
		go func() { defer wg.Done(); m.transferLogsStream(liveCtx, client, token, quote, reasonCh, cancel) }()
	}

	if len(poolAddrs) > 0 {
		wg.Add(1)
		go func() { defer wg.Done(); m.poolLogsStream(liveCtx, client, poolAddrs, quote, reasonCh, cancel) }()
	}

	wg.Add(1)
	go func() { defer wg.Done(); m.pendingTxPoller(liveCtx, client, reasonCh, cancel) }()

	<-liveCtx.Done()
	wg.Wait()

	select {
	case r := <-reasonCh:
		return r
	default:
		if ctx.Err() != nil {
			return Reason{Kind: "Shutdown"}
		}
		return Reason{Kind: "Error", Detail: "unknown"}
	}
}

func (m *Monitor) blocksStream(ctx context.Context, client *ethclient.Client, reasonCh chan Reason, cancel context.CancelFunc) {
	headCh := make(chan *types.Header, 16)
	sub, err := client.SubscribeNewHead(ctx, headCh)
	if err != nil {
		reasonCh <- Reason{Kind: "Error", Detail: err.Error()}
		cancel()
		return
	}
	defer sub.Unsubscribe()

	idle := time.NewTimer(m.Cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			reasonCh <- Reason{Kind: "StreamEnded", Detail: "blocks: " + err.Error()}
			cancel()
			return
		case <-idle.C:
			reasonCh <- Reason{Kind: "IdleTimeout"}
			cancel()
			return
		case <-headCh:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.Cfg.IdleTimeout)
			m.onBlock(ctx, client)
		}
	}
}

func (m *Monitor) onBlock(ctx context.Context, client *ethclient.Client) {
	if gp, err := client.SuggestGasPrice(ctx); err == nil {
		g, _ := uint256.FromBig(gp)
		prev := m.State.GetGasPrice()
		m.State.SetGasPrice(g)
		if prev == nil || prev.Cmp(g) != 0 {
			gwei := new(big.Float).Quo(new(big.Float).SetInt(gp), big.NewFloat(1e9))
			f, _ := gwei.Float64()
			m.Bridge.Emit(bridge.Event{Type: bridge.EvtGasPriceUpdate, Data: bridge.GasPriceUpdateData{GasPriceGwei: f}})
		}
	}

	for _, addr := range m.State.WalletAddresses() {
		bal, err := client.BalanceAt(ctx, addr, nil)
		if err != nil {
			continue
		}
		b, _ := uint256.FromBig(bal)
		m.State.SetNativeBalance(addr, b)
		m.Bridge.Emit(bridge.Event{Type: bridge.EvtBalanceUpdate, Data: bridge.BalanceUpdateData{
			Wallet:  addr.Hex(),
			Token:   "native",
			Balance: b.Dec(),
		}})
		if m.OnFuel != nil {
			m.OnFuel(ctx, addr, b)
		}
	}
}

func (m *Monitor) transferLogsStream(ctx context.Context, client *ethclient.Client, token, quote common.Address, reasonCh chan Reason, cancel context.CancelFunc) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{token, quote},
		Topics:    [][]common.Hash{{transferTopic}},
	}
	logCh := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, logCh)
	if err != nil {
		reasonCh <- Reason{Kind: "Error", Detail: err.Error()}
		cancel()
		return
	}
	defer sub.Unsubscribe()

	wallets := m.State.WalletAddresses()
	walletSet := make(map[common.Address]bool, len(wallets))
	for _, w := range wallets {
		walletSet[w] = true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			reasonCh <- Reason{Kind: "StreamEnded", Detail: "transfer logs: " + err.Error()}
			cancel()
			return
		case lg := <-logCh:
			if m.dedup.SeenOrAdd(lg.TxHash) {
				continue
			}
			if len(lg.Topics) < 3 {
				continue
			}
			from := common.BytesToAddress(lg.Topics[1].Bytes())
			to := common.BytesToAddress(lg.Topics[2].Bytes())
			if !walletSet[from] && !walletSet[to] {
				continue
			}
			for _, w := range []common.Address{from, to} {
				if !walletSet[w] {
					continue
				}
				bal, err := erc20BalanceOf(ctx, client, lg.Address, w)
				if err != nil {
					continue
				}
				m.Bridge.Emit(bridge.Event{Type: bridge.EvtBalanceUpdate, Data: bridge.BalanceUpdateData{
					Wallet:  w.Hex(),
					Token:   lg.Address.Hex(),
					Balance: bal.Dec(),
				}})
			}
		}
	}
}

func erc20BalanceOf(ctx context.Context, client *ethclient.Client, token, owner common.Address) (*uint256.Int, error) {
	c, err := contractclient.New(client, token, abiutil.ERC20)
	if err != nil {
		return nil, err
	}
	var bal *big.Int
	if err := c.Call(ctx, &bal, "balanceOf", owner); err != nil {
		return nil, err
	}
	b, _ := uint256.FromBig(bal)
	return b, nil
}

func (m *Monitor) poolLogsStream(ctx context.Context, client *ethclient.Client, poolAddrs []common.Address, quote common.Address, reasonCh chan Reason, cancel context.CancelFunc) {
	query := ethereum.FilterQuery{
		Addresses: poolAddrs,
		Topics:    [][]common.Hash{{syncTopic, swapV3Topic}},
	}
	logCh := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, logCh)
	if err != nil {
		reasonCh <- Reason{Kind: "Error", Detail: err.Error()}
		cancel()
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			reasonCh <- Reason{Kind: "StreamEnded", Detail: "pool logs: " + err.Error()}
			cancel()
			return
		case lg := <-logCh:
			if len(lg.Topics) == 0 {
				continue
			}
			switch lg.Topics[0] {
			case syncTopic:
				m.handleSync(lg, quote)
			case swapV3Topic:
				m.handleSwap(lg, quote)
			}
		}
	}
}

func (m *Monitor) handleSync(lg types.Log, quote common.Address) {
	if len(lg.Data) < 64 {
		return
	}
	r0 := new(big.Int).SetBytes(lg.Data[0:32])
	r1 := new(big.Int).SetBytes(lg.Data[32:64])
	p, ok := m.State.V2Pool(lg.Address)
	if !ok {
		return
	}
	reserve0, _ := uint256.FromBig(r0)
	reserve1, _ := uint256.FromBig(r1)
	p.Reserve0, p.Reserve1 = reserve0, reserve1
	m.State.UpsertV2Pool(p)
	m.recomputeIfSelected(p, quote)
}

func (m *Monitor) handleSwap(lg types.Log, quote common.Address) {
	if len(lg.Data) < 160 {
		return
	}
	sqrtPriceX96 := new(big.Int).SetBytes(lg.Data[64:96])
	liquidity := new(big.Int).SetBytes(lg.Data[96:128])
	tick := new(big.Int).SetBytes(lg.Data[128:160])

	p, ok := m.State.V3Pool(lg.Address)
	if !ok {
		return
	}
	sp, _ := uint256.FromBig(sqrtPriceX96)
	liq, _ := uint256.FromBig(liquidity)
	p.SqrtPriceX96 = sp
	p.Liquidity = liq
	p.Tick = int32(tick.Int64())
	m.State.UpsertV3Pool(p)
	m.recomputeIfSelected(p, quote)
}

func (m *Monitor) pendingTxPoller(ctx context.Context, client *ethclient.Client, reasonCh chan Reason, cancel context.CancelFunc) {
	interval := m.Cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range m.State.PendingTxHashes() {
				receipt, err := client.TransactionReceipt(ctx, h)
				if err != nil {
					continue
				}
				var from common.Address
				if tx, _, err := client.TransactionByHash(ctx, h); err == nil && tx != nil {
					if sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
						from = sender
					}
				}
				m.Bridge.Emit(bridge.Event{Type: bridge.EvtTxConfirmed, Data: bridge.TxConfirmedData{
					TxHash:  h.Hex(),
					Status:  receipt.Status == types.ReceiptStatusSuccessful,
					GasUsed: receipt.GasUsed,
					Block:   receipt.BlockNumber.Uint64(),
					From:    from.Hex(),
				}})
				m.State.RemovePendingTx(h)
			}
		}
	}
}
