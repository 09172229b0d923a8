// Package netconfig loads the per-network JSON config spec §6 describes:
// router/quoter/factory/wrapped-native addresses, chain id, default quote
// currency, quote-token map, and public RPC list. Consumed by the engine
// only via the Init command.
//
// Grounded on original_source/rust_module/src/config.rs's NetworkConfig
// and get_available_networks/get_network_config, reading `networks/<name>.json`.
package netconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Config is one network's static configuration.
type Config struct {
	Name                  string            `json:"name"`
	ChainID               uint64            `json:"chain_id"`
	RPCUrl                string            `json:"rpc_url"`
	NativeCurrencySymbol  string            `json:"native_currency_symbol"`
	NativeCurrencyAddress string            `json:"native_currency_address"`
	ExplorerURL           string            `json:"explorer_url,omitempty"`
	DexRouterAddress      string            `json:"dex_router_address"`
	V2FactoryAddress      string            `json:"v2_factory_address,omitempty"`
	V2RouterAddress       string            `json:"v2_router_address,omitempty"`
	V3FactoryAddress      string            `json:"v3_factory_address,omitempty"`
	V3RouterAddress       string            `json:"v3_router_address,omitempty"`
	V3QuoterAddress       string            `json:"v3_quoter_address,omitempty"`
	WrappedNativeAddress  string            `json:"wrapped_native_address"`
	PublicRPCUrls         []string          `json:"public_rpc_urls,omitempty"`
	FeeReceiver           string            `json:"fee_receiver,omitempty"`
	DefaultQuoteCurrency  string            `json:"default_quote_currency"`
	QuoteTokens           map[string]string `json:"quote_tokens"`
}

// Load reads networks/<name>.json from dir.
func Load(dir, name string) (*Config, error) {
	path := filepath.Join(dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("netconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("netconfig: parse %s: %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return &cfg, nil
}

// List returns the available network names (file stems of networks/*.json
// under dir), supplemented feature #5 grounded on config.rs's
// get_available_networks.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("netconfig: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}
