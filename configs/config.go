// Package configs holds the process-level operational tuning config.
//
// This is deliberately separate from internal/netconfig: the network
// config (chain id, router/factory addresses, ...) arrives at runtime via
// the Init bridge command, while this file governs knobs that apply to
// the process regardless of which network it is pointed at.
package configs

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of config.yml.
type Config struct {
	Bridge  BridgeYAMLData  `yaml:"bridge"`
	Metrics MetricsYAMLData `yaml:"metrics"`
	RPCPool RPCPoolYAMLData `yaml:"rpcPool"`
	Monitor MonitorYAMLData `yaml:"monitor"`
	Trade   TradeYAMLData   `yaml:"trade"`
	PnL     PnLYAMLData     `yaml:"pnl"`
	Sentry  SentryYAMLData  `yaml:"sentry"`
}

// BridgeYAMLData configures the command/event WS bridge.
type BridgeYAMLData struct {
	ListenAddr string `yaml:"listenAddr"`
}

// MetricsYAMLData configures the Prometheus exporter.
type MetricsYAMLData struct {
	ListenAddr string `yaml:"listenAddr"`
}

// RPCPoolYAMLData tunes the RPC pool manager.
type RPCPoolYAMLData struct {
	ProbeIntervalSec    int `yaml:"probeIntervalSec"`
	ProbeTimeoutSec     int `yaml:"probeTimeoutSec"`
	BroadcastFanout     int `yaml:"broadcastFanout"`
	PrivateThresholdMic int `yaml:"privateThresholdMicros"`
	MaxFails            int `yaml:"maxFails"`
}

// MonitorYAMLData tunes the unified WS monitor.
type MonitorYAMLData struct {
	IdleTimeoutSec    int     `yaml:"idleTimeoutSec"`
	BackoffBaseSec    float64 `yaml:"backoffBaseSec"`
	BackoffMaxSec     float64 `yaml:"backoffMaxSec"`
	PrefetchTimeoutSec int    `yaml:"prefetchTimeoutSec"`
	LRUSize           int     `yaml:"lruSize"`
}

// TradeYAMLData tunes the execution pipeline.
type TradeYAMLData struct {
	ReceiptPollIntervalMs int     `yaml:"receiptPollIntervalMs"`
	DeadlineSec           int     `yaml:"deadlineSec"`
	DefaultTradeUSD       float64 `yaml:"defaultTradeUsd"`
	FallbackGasWei        uint64  `yaml:"fallbackGasWei"`
}

// PnLYAMLData tunes the PnL worker, including the fee constants the
// expanded spec allows to be overridden per target chain.
type PnLYAMLData struct {
	IntervalSec   int     `yaml:"intervalSec"`
	RouterFeeBps  float64 `yaml:"routerFeeBps"`
	V2DexFeeBps   float64 `yaml:"v2DexFeeBps"`
}

// SentryYAMLData configures panic/error reporting.
type SentryYAMLData struct {
	DSN string `yaml:"dsn"`
}

// Default returns the config used when no config.yml is present, matching
// the constants spec.md hardcodes.
func Default() *Config {
	return &Config{
		Bridge:  BridgeYAMLData{ListenAddr: "127.0.0.1:8765"},
		Metrics: MetricsYAMLData{ListenAddr: "127.0.0.1:9090"},
		RPCPool: RPCPoolYAMLData{
			ProbeIntervalSec:    10,
			ProbeTimeoutSec:     2,
			BroadcastFanout:     3,
			PrivateThresholdMic: 50000,
			MaxFails:            3,
		},
		Monitor: MonitorYAMLData{
			IdleTimeoutSec:     30,
			BackoffBaseSec:     3,
			BackoffMaxSec:      30,
			PrefetchTimeoutSec: 5,
			LRUSize:            1000,
		},
		Trade: TradeYAMLData{
			ReceiptPollIntervalMs: 500,
			DeadlineSec:           300,
			DefaultTradeUSD:       1000,
			FallbackGasWei:        100000000,
		},
		PnL: PnLYAMLData{
			IntervalSec:  1,
			RouterFeeBps: 10,
			V2DexFeeBps:  25,
		},
	}
}

// Load reads and parses config.yml into a Config, falling back to Default
// for any field the file omits by unmarshalling onto an already-populated
// default struct.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return cfg, nil
}

func (c *RPCPoolYAMLData) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

func (c *RPCPoolYAMLData) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

func (c *MonitorYAMLData) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

func (c *MonitorYAMLData) PrefetchTimeout() time.Duration {
	return time.Duration(c.PrefetchTimeoutSec) * time.Second
}

func (c *TradeYAMLData) ReceiptPollInterval() time.Duration {
	return time.Duration(c.ReceiptPollIntervalMs) * time.Millisecond
}

func (c *TradeYAMLData) Deadline() time.Duration {
	return time.Duration(c.DeadlineSec) * time.Second
}

func (c *PnLYAMLData) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}
