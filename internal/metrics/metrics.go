// Package metrics exposes the engine's Prometheus gauges/counters:
// per-node RPC latency, pending-tx set size, broadcast outcomes,
// selected-pool TVL, and fuel attempts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RPCNodeLatencyMicros = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evm_terminal_rpc_node_latency_micros",
		Help: "Last probed latency per RPC node, in microseconds.",
	}, []string{"url"})

	RPCNodeFails = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evm_terminal_rpc_node_fails",
		Help: "Consecutive failure counter per RPC node.",
	}, []string{"url"})

	PendingTxCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evm_terminal_pending_tx_count",
		Help: "Number of transactions awaiting a receipt.",
	})

	BroadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evm_terminal_broadcast_total",
		Help: "Parallel broadcast outcomes.",
	}, []string{"outcome"}) // "success" | "failure"

	SelectedPoolTVLUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evm_terminal_selected_pool_tvl_usd",
		Help: "TVL in USD of the currently selected pool.",
	})

	FuelAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evm_terminal_fuel_attempts_total",
		Help: "AutoFuel attempts per wallet and outcome.",
	}, []string{"wallet", "outcome"})
)

// Serve runs the Prometheus HTTP exporter until the listener errors or
// the process exits; intended to run in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
