package bridge

import "encoding/json"

// CommandKind enumerates the recognized command channel types, spec §6.
type CommandKind string

const (
	CmdInit              CommandKind = "Init"
	CmdSwitchToken        CommandKind = "SwitchToken"
	CmdUnsubscribeToken   CommandKind = "UnsubscribeToken"
	CmdCalcImpact         CommandKind = "CalcImpact"
	CmdExecuteTrade       CommandKind = "ExecuteTrade"
	CmdUpdatePrice        CommandKind = "UpdatePrice"
	CmdUpdateTokenDecimals CommandKind = "UpdateTokenDecimals"
	CmdUpdateSettings     CommandKind = "UpdateSettings"
	CmdAddWallet          CommandKind = "AddWallet"
	CmdRefreshBalance     CommandKind = "RefreshBalance"
	CmdRefreshAllBalances CommandKind = "RefreshAllBalances"
	CmdShutdown           CommandKind = "Shutdown"

	// Supplemented, SPEC_FULL.md #4/#5.
	CmdGetBestRpcUrl     CommandKind = "GetBestRpcUrl"
	CmdGetHealthyRpcUrls CommandKind = "GetHealthyRpcUrls"
	CmdListNetworks      CommandKind = "ListNetworks"
)

// Command is the wire shape of every inbound message: `{"type": ..., "data": ...}`.
type Command struct {
	Type CommandKind     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WalletInput is one (address, private key hex) pair from Init/AddWallet.
type WalletInput struct {
	Address string `json:"addr"`
	Key     string `json:"pk"`
}

// FuelSettingsInput mirrors spec §3's Fuel policy fields, as supplied on
// the wire.
type FuelSettingsInput struct {
	Enabled      bool   `json:"enabled"`
	ThresholdWei string `json:"threshold_wei"`
	AmountWei    string `json:"amount_wei"`
	QuoteAddress string `json:"quote_address"`
}

// InitData is the required payload for the Init command, spec §6.
type InitData struct {
	RPCUrl           string            `json:"rpc_url"`
	WSSUrl           string            `json:"wss_url"`
	ChainID          uint64            `json:"chain_id"`
	Router           string            `json:"router"`
	Quoter           string            `json:"quoter"`
	V2Factory        string            `json:"v2_factory"`
	V3Factory        string            `json:"v3_factory"`
	WrappedNative    string            `json:"wrapped_native"`
	NativeAddress    string            `json:"native_address"`
	Wallets          []WalletInput     `json:"wallets"`
	PublicRPCUrls    []string          `json:"public_rpc_urls"`
	FuelSettings     FuelSettingsInput `json:"fuel_settings"`
	QuoteSymbol      string            `json:"quote_symbol"`
	QuoteTokens      map[string]string `json:"quote_tokens"`
}

// SwitchTokenData selects a new (token, quote) pair.
type SwitchTokenData struct {
	Token string `json:"token"`
	Quote string `json:"quote"`
}

// CalcImpactData requests a price-impact computation for a hypothetical
// trade size.
type CalcImpactData struct {
	AmountIn string `json:"amount_in"`
	Action   string `json:"action"` // "buy" | "sell"
}

// ExecuteTradeData is spec §4.4's buy/sell batch input.
type ExecuteTradeData struct {
	Action              string             `json:"action"` // "buy" | "sell"
	Token                string             `json:"token"`
	Quote                string             `json:"quote"`
	Amount               float64            `json:"amount"`
	Wallets              []string           `json:"wallets"`
	GasGwei              float64            `json:"gas_gwei"`
	SlippagePct          float64            `json:"slippage_pct"`
	V3Fee                uint32             `json:"v3_fee"`
	AmountsWeiOverride   map[string]string  `json:"amounts_wei_override"`
}

// UpdatePriceData writes usd_prices[symbol] = price.
type UpdatePriceData struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// UpdateTokenDecimalsData caches per-address decimals.
type UpdateTokenDecimalsData struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
}

// UpdateSettingsData carries spec §6's optional overrides.
type UpdateSettingsData struct {
	GasPriceGwei      *float64 `json:"gas_price_gwei,omitempty"`
	SlippagePct       *float64 `json:"slippage_pct,omitempty"`
	FuelEnabled       *bool    `json:"fuel_enabled,omitempty"`
	FuelQuoteAddress  *string  `json:"fuel_quote_address,omitempty"`
	RPCUrl            *string  `json:"rpc_url,omitempty"`
	WSSUrl            *string  `json:"wss_url,omitempty"`
	QuoteSymbol       *string  `json:"quote_symbol,omitempty"`
}

// AddWalletData adds one (address, key) pair to the tracked set.
type AddWalletData struct {
	Address string `json:"addr"`
	Key     string `json:"pk"`
}

// RefreshBalanceData names a single wallet to refresh, or all wallets
// when Address is empty (RefreshAllBalances reuses this shape).
type RefreshBalanceData struct {
	Address string `json:"addr,omitempty"`
}
