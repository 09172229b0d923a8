// Package state holds CoreState, the process-wide snapshot spec §2/§3
// describes: chain params, wallet keys, nonces, token decimals, USD
// prices, V2/V3 pool snapshots, selection, pending tx set, and fuel
// policy. Grounded on original_source/rust_module/src/state/app.rs's
// BotState/CORE_STATE, translated from a global RwLock<BotState> into a
// Go struct guarded by its own sync.RWMutex, owned by the engine.
package state

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Variant tags a pool record as V2 (constant-product) or V3
// (concentrated-liquidity), spec §3's "Pool record".
type Variant int

const (
	VariantV2 Variant = iota
	VariantV3
)

func (v Variant) String() string {
	if v == VariantV2 {
		return "V2"
	}
	return "V3"
}

// Pool is one candidate pool's on-chain snapshot plus derived values.
type Pool struct {
	Address common.Address
	Variant Variant
	Token0  common.Address
	Token1  common.Address
	FeeBps  uint32 // V3 fee tier; 30 (0.30%) nominal for V2

	// V2 fields.
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int

	// V3 fields.
	SqrtPriceX96 *uint256.Int
	Liquidity    *uint256.Int
	Tick         int32

	// Derived, populated by internal/pool.
	SpotPriceInQuote float64
	TVLUSD           float64
	QuoteSideBalance *uint256.Int // supplemented, see SPEC_FULL.md #3
}

// QuoteIsToken0 reports whether quote is the canonical token0 side,
// spec §3's invariant `min(token0,token1) < max(token0,token1)`.
func (p *Pool) QuoteIsToken0(quote common.Address) bool {
	return p.Token0 == quote
}

// FuelAttempt is the per-wallet auto-fuel attempt counter, spec §3/§4.5.
type FuelAttempt struct {
	Count      int
	LastTSMs   int64
}

// Wallet is one tracked signer, spec §3's "Wallet record". Keys never
// leave this struct: they are not logged and never serialized onto the
// event bridge.
type Wallet struct {
	Address       common.Address
	Key           *ecdsa.PrivateKey
	Nonce         uint64
	NativeBalance *uint256.Int
	Fuel          FuelAttempt
}

// FuelPolicy is spec §3's "Fuel policy".
type FuelPolicy struct {
	Enabled      bool
	ThresholdWei *uint256.Int
	AmountWei    *uint256.Int
	QuoteAddress common.Address
}

// Selection is spec §3's "Selection state": at most one (token, quote)
// pair selected at a time.
type Selection struct {
	Token        common.Address
	Quote        common.Address
	PoolAddress  common.Address
	Variant      Variant
	FeeTier      uint32
	LiquidityUSD float64
	SpotPrice    float64
}

// NonceFetcher is the minimal surface CoreState needs from an RPC client
// to resync a wallet's nonce; satisfied by *ethclient.Client.
type NonceFetcher interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// CoreState is the process-wide snapshot. Zero value is usable; call
// Reset (from an Init command) before use.
type CoreState struct {
	mu sync.RWMutex

	ChainID               uint64
	RouterAddress         common.Address
	QuoterAddress         common.Address
	V2FactoryAddress      common.Address
	V3FactoryAddress      common.Address
	NativeAddress         common.Address
	WrappedNativeAddress  common.Address
	RPCUrl                string
	WSSUrl                string

	GasPrice           *uint256.Int
	SlippagePct        float64
	ManualGasPriceGwei float64

	Wallets       map[common.Address]*Wallet
	USDPrices     map[string]float64
	DecimalsCache map[common.Address]uint8

	V2Pools map[common.Address]*Pool
	V3Pools map[common.Address]*Pool

	Fuel FuelPolicy

	QuoteSymbol string
	QuoteTokens map[string]common.Address

	Selection *Selection

	PendingTxs map[common.Hash]struct{}
}

// New returns a CoreState with the defaults the Rust core's CORE_STATE
// Lazy initializer uses (slippage 15.0, manual gas 0.1 gwei).
func New() *CoreState {
	return &CoreState{
		GasPrice:           uint256.NewInt(0),
		SlippagePct:        15.0,
		ManualGasPriceGwei: 0.1,
		Wallets:            make(map[common.Address]*Wallet),
		USDPrices:          make(map[string]float64),
		DecimalsCache:      make(map[common.Address]uint8),
		V2Pools:            make(map[common.Address]*Pool),
		V3Pools:            make(map[common.Address]*Pool),
		PendingTxs:         make(map[common.Hash]struct{}),
		Fuel:               FuelPolicy{ThresholdWei: uint256.NewInt(0), AmountWei: uint256.NewInt(0)},
		QuoteTokens:        make(map[string]common.Address),
	}
}

// Reset clears every per-session map and selection, used both at startup
// Init and on engine re-init (spec §3's "no entry survives re-init").
func (s *CoreState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Wallets = make(map[common.Address]*Wallet)
	s.USDPrices = make(map[string]float64)
	s.DecimalsCache = make(map[common.Address]uint8)
	s.V2Pools = make(map[common.Address]*Pool)
	s.V3Pools = make(map[common.Address]*Pool)
	s.PendingTxs = make(map[common.Hash]struct{})
	s.Selection = nil
}

// ClearPoolMaps clears only the reserve/slot maps and selection, used on
// SwitchToken (spec §6), leaving wallets/prices/decimals intact.
func (s *CoreState) ClearPoolMaps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.V2Pools = make(map[common.Address]*Pool)
	s.V3Pools = make(map[common.Address]*Pool)
	s.Selection = nil
}

// ClearSelection implements UnsubscribeToken (spec §6).
func (s *CoreState) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Selection = nil
}

func (s *CoreState) SetSelection(sel *Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Selection = sel
}

func (s *CoreState) GetSelection() *Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Selection == nil {
		return nil
	}
	cp := *s.Selection
	return &cp
}

// AddWallet adds or replaces a tracked wallet and kicks off a nonce
// resync (supplemented feature #2, SPEC_FULL.md).
func (s *CoreState) AddWallet(ctx context.Context, key *ecdsa.PrivateKey, address common.Address, fetcher NonceFetcher) error {
	s.mu.Lock()
	s.Wallets[address] = &Wallet{
		Address:       address,
		Key:           key,
		NativeBalance: uint256.NewInt(0),
	}
	s.mu.Unlock()
	return s.ResyncNonce(ctx, address, fetcher)
}

// ResyncNonce force-refreshes one wallet's nonce from the chain
// (supplemented feature #2, grounded on monitor.rs's force_resync_nonce).
func (s *CoreState) ResyncNonce(ctx context.Context, address common.Address, fetcher NonceFetcher) error {
	nonce, err := fetcher.PendingNonceAt(ctx, address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.Wallets[address]; ok {
		w.Nonce = nonce
	}
	return nil
}

// Wallet returns a copy of one tracked wallet's bookkeeping fields; the
// *ecdsa.PrivateKey pointer is shared, never copied by value, and the
// caller must not mutate it.
func (s *CoreState) Wallet(address common.Address) (*Wallet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.Wallets[address]
	if !ok {
		return nil, false
	}
	cp := *w
	return &cp, true
}

// WalletAddresses returns the tracked wallet addresses.
func (s *CoreState) WalletAddresses() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, 0, len(s.Wallets))
	for a := range s.Wallets {
		out = append(out, a)
	}
	return out
}

// NextNonce returns and increments the wallet's nonce, used when
// assembling a transaction.
func (s *CoreState) NextNonce(address common.Address) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.Wallets[address]
	if !ok {
		return 0, false
	}
	n := w.Nonce
	w.Nonce++
	return n, true
}

func (s *CoreState) SetNativeBalance(address common.Address, bal *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.Wallets[address]; ok {
		w.NativeBalance = bal
	}
}

func (s *CoreState) SetGasPrice(p *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GasPrice = p
}

func (s *CoreState) GetGasPrice() *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.GasPrice
}

func (s *CoreState) SetDecimals(token common.Address, dec uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DecimalsCache[token] = dec
}

func (s *CoreState) Decimals(token common.Address) (uint8, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.DecimalsCache[token]
	return d, ok
}

func (s *CoreState) SetUSDPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.USDPrices[symbol] = price
}

func (s *CoreState) USDPrice(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.USDPrices[symbol]
}

// UpsertV2Pool stores/updates a V2 pool's reserves (on Sync logs or
// discovery snapshots).
func (s *CoreState) UpsertV2Pool(p *Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.V2Pools[p.Address] = p
}

// UpsertV3Pool stores/updates a V3 pool's slot0 state (on Swap logs or
// discovery snapshots).
func (s *CoreState) UpsertV3Pool(p *Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.V3Pools[p.Address] = p
}

func (s *CoreState) V2Pool(addr common.Address) (*Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.V2Pools[addr]
	return p, ok
}

func (s *CoreState) V3Pool(addr common.Address) (*Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.V3Pools[addr]
	return p, ok
}

func (s *CoreState) AddPendingTx(hash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingTxs[hash] = struct{}{}
}

func (s *CoreState) RemovePendingTx(hash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingTxs, hash)
}

func (s *CoreState) PendingTxHashes() []common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Hash, 0, len(s.PendingTxs))
	for h := range s.PendingTxs {
		out = append(out, h)
	}
	return out
}

func (s *CoreState) SetFuelPolicy(p FuelPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fuel = p
}

func (s *CoreState) GetFuelPolicy() FuelPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fuel
}

// TouchFuelAttempt records a fuel attempt outcome for a wallet: success
// resets the counter, failure increments it and updates the timestamp
// (spec §4.5).
func (s *CoreState) TouchFuelAttempt(wallet common.Address, success bool, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.Wallets[wallet]
	if !ok {
		return
	}
	if success {
		w.Fuel = FuelAttempt{Count: 0, LastTSMs: 0}
		return
	}
	w.Fuel.Count++
	w.Fuel.LastTSMs = nowMs
}
