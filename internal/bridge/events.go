package bridge

// EventKind enumerates the event channel kinds, spec §6.
type EventKind string

const (
	EvtEngineReady      EventKind = "EngineReady"
	EvtLog              EventKind = "Log"
	EvtConnectionStatus EventKind = "ConnectionStatus"
	EvtBalanceUpdate    EventKind = "BalanceUpdate"
	EvtPoolDetected     EventKind = "PoolDetected"
	EvtPoolUpdate       EventKind = "PoolUpdate"
	EvtPoolNotFound     EventKind = "PoolNotFound"
	EvtImpactUpdate     EventKind = "ImpactUpdate"
	EvtGasPriceUpdate   EventKind = "GasPriceUpdate"
	EvtTradeStatus      EventKind = "TradeStatus"
	EvtTxSent           EventKind = "TxSent"
	EvtTxConfirmed      EventKind = "TxConfirmed"
	EvtPnLUpdate        EventKind = "PnLUpdate"
	EvtAutoFuelError    EventKind = "AutoFuelError"

	// Supplemented, SPEC_FULL.md #4/#5.
	EvtBestRpcUrl     EventKind = "BestRpcUrl"
	EvtHealthyRpcUrls EventKind = "HealthyRpcUrls"
	EvtNetworks       EventKind = "Networks"
)

// dedupedKinds are the kinds spec §6 requires be suppressed when
// byte-identical to the previously emitted payload of the same kind.
var dedupedKinds = map[EventKind]bool{
	EvtBalanceUpdate:    true,
	EvtPoolUpdate:       true,
	EvtGasPriceUpdate:   true,
	EvtConnectionStatus: true,
	EvtImpactUpdate:     true,
}

// Event is the wire shape of every outbound message.
type Event struct {
	Type EventKind   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type LogData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type ConnectionStatusData struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

type BalanceUpdateData struct {
	Wallet  string  `json:"wallet"`
	Token   string  `json:"token"`
	Balance string  `json:"balance_wei"`
	Display float64 `json:"display"`
}

type PoolDetectedData struct {
	PoolAddress string `json:"pool_address"`
	Variant     string `json:"variant"`
	FeeTier     uint32 `json:"fee_tier,omitempty"`
}

type PoolUpdateData struct {
	PoolAddress string  `json:"pool_address"`
	Variant     string  `json:"variant"`
	SpotPrice   float64 `json:"spot_price"`
	TVLUSD      float64 `json:"tvl_usd"`
}

type AvailableQuote struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

type PoolNotFoundData struct {
	SelectedQuote   string           `json:"selected_quote"`
	AvailableQuotes []AvailableQuote `json:"available_quotes"`
}

type ImpactUpdateData struct {
	ImpactPct float64 `json:"impact_pct"`
	ExpectedOut string `json:"expected_out"`
}

type GasPriceUpdateData struct {
	GasPriceGwei float64 `json:"gas_price_gwei"`
}

type TradeStatusData struct {
	Status  string `json:"status"` // "Sent" | "Error" | "Skipped"
	Wallet  string `json:"wallet"`
	TxHash  string `json:"tx_hash,omitempty"`
	Message string `json:"message,omitempty"`
}

type TxSentData struct {
	Wallet string `json:"wallet"`
	TxHash string `json:"tx_hash"`
}

type TxConfirmedData struct {
	TxHash  string `json:"tx_hash"`
	Status  bool   `json:"status"`
	GasUsed uint64 `json:"gas_used"`
	Block   uint64 `json:"block"`
	From    string `json:"from"`
}

type PnLUpdateData struct {
	Wallet        string  `json:"wallet"`
	Token         string  `json:"token"`
	PnLPct        float64 `json:"pnl_pct"`
	CurrentValue  string  `json:"current_value_wei"`
	CostBasis     string  `json:"cost_basis_wei"`
	IsLoading     bool    `json:"is_loading"`
}

type AutoFuelErrorData struct {
	Wallet string `json:"wallet"`
	Reason string `json:"reason"`
}

// BestRpcUrlData answers GetBestRpcUrl (supplemented feature #4).
type BestRpcUrlData struct {
	URL string `json:"url"`
}

// HealthyRpcUrlsData answers GetHealthyRpcUrls (supplemented feature #4).
type HealthyRpcUrlsData struct {
	Urls []string `json:"urls"`
}

// NetworksData answers ListNetworks (supplemented feature #5).
type NetworksData struct {
	Networks []string `json:"networks"`
}
