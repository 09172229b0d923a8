// Package rpcpool implements the RPC Pool Manager (spec §4.1): a
// health-checked, latency-ranked, failure-aware set of JSON-RPC endpoints
// with private-endpoint preference and parallel fan-out broadcast.
//
// Grounded on original_source/rust_module/src/state/network.rs's
// RpcNode/RpcPoolState (get_fastest_node/get_fastest_pool/update_latency/
// mark_fail), which spec §9's Open Questions names as the canonical model
// over the round-robin variant in state.rs.
package rpcpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Node is one RPC endpoint under management.
type Node struct {
	URL       string
	IsPrivate bool

	client  *rpc.Client
	limiter *rate.Limiter

	latencyMicros int64 // atomic
	fails         int32 // atomic
}

func newNode(url string, private bool, client *rpc.Client) *Node {
	return &Node{
		URL:       url,
		IsPrivate: private,
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(20), 20),
		// a fresh node starts un-probed; treat as worst-case latency so it
		// never wins a race before its first successful probe.
		latencyMicros: int64(time.Hour / time.Microsecond),
	}
}

// Latency returns the last recorded probe latency in microseconds.
func (n *Node) Latency() int64 { return atomic.LoadInt64(&n.latencyMicros) }

// Fails returns the current consecutive-failure counter.
func (n *Node) Fails() int32 { return atomic.LoadInt32(&n.fails) }

func (n *Node) eligible(maxFails int32) bool { return n.Fails() < maxFails }

// Pool is the ranked node set. Use New for the default thresholds: a
// zero-value Pool has MaxFails 0, so no node is eligible. Call Install
// before any lookups.
type Pool struct {
	mu    sync.RWMutex
	nodes []*Node

	// PrivateThresholdMicros is the margin (default 50 000 µs, spec §4.1)
	// a private node may trail a public one by and still win.
	PrivateThresholdMicros int64
	// MaxFails is the exclusive failure ceiling (default 3, spec §3).
	MaxFails int32
}

// New returns a Pool configured with the spec's default thresholds.
func New() *Pool {
	return &Pool{PrivateThresholdMicros: 50000, MaxFails: 3}
}

// Install replaces the node set. Dial failures for individual URLs are
// skipped; a pool with zero reachable nodes is valid (every lookup simply
// returns an error until a later Install succeeds).
func (p *Pool) Install(ctx context.Context, urls []string, privateURL string) {
	seen := make(map[string]bool, len(urls)+1)
	var nodes []*Node

	add := func(url string, private bool) {
		url = trimURL(url)
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		client, err := rpc.DialContext(ctx, url)
		if err != nil {
			return
		}
		nodes = append(nodes, newNode(url, private, client))
	}

	if privateURL != "" {
		add(privateURL, true)
	}
	for _, u := range urls {
		add(u, false)
	}

	p.mu.Lock()
	old := p.nodes
	p.nodes = nodes
	p.mu.Unlock()

	for _, n := range old {
		n.client.Close()
	}
}

func trimURL(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

// less reports whether a ranks ahead of b: lower latency wins, except a
// private node beats a public node unless it trails by at least the
// configured threshold (spec §4.1).
func (p *Pool) less(a, b *Node) bool {
	al, bl := a.Latency(), b.Latency()
	if a.IsPrivate != b.IsPrivate {
		var priv, pub *Node
		if a.IsPrivate {
			priv, pub = a, b
		} else {
			priv, pub = b, a
		}
		privWins := priv.Latency() < pub.Latency()+p.PrivateThresholdMicros
		if priv == a {
			return privWins
		}
		return !privWins
	}
	return al < bl
}

func (p *Pool) eligibleNodes() []*Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Node, 0, len(p.nodes))
	for _, n := range p.nodes {
		if n.eligible(p.MaxFails) {
			out = append(out, n)
		}
	}
	return out
}

// FastestOne returns the single top-ranked eligible node.
func (p *Pool) FastestOne() (*Node, error) {
	nodes := p.eligibleNodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("rpcpool: no eligible nodes")
	}
	best := nodes[0]
	for _, n := range nodes[1:] {
		if p.less(n, best) {
			best = n
		}
	}
	return best, nil
}

// FastestK returns up to k eligible nodes ordered best-first.
func (p *Pool) FastestK(k int) []*Node {
	nodes := p.eligibleNodes()
	sort.Slice(nodes, func(i, j int) bool { return p.less(nodes[i], nodes[j]) })
	if k < len(nodes) {
		nodes = nodes[:k]
	}
	return nodes
}

// RecordLatency updates a node's latency and zeroes its failure counter —
// a successful measurement always restores an excluded node (spec §4.1).
func (p *Pool) RecordLatency(url string, micros int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, n := range p.nodes {
		if n.URL == url {
			atomic.StoreInt64(&n.latencyMicros, micros)
			atomic.StoreInt32(&n.fails, 0)
			return
		}
	}
}

// RecordFailure increments a node's consecutive-failure counter.
func (p *Pool) RecordFailure(url string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, n := range p.nodes {
		if n.URL == url {
			atomic.AddInt32(&n.fails, 1)
			return
		}
	}
}

// RunHealthChecker blocks probing every node's latest block number every
// interval with the given per-probe timeout, until ctx is cancelled (spec
// §4.1's 10 s/2 s supervisor).
func (p *Pool) RunHealthChecker(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx, timeout)
		}
	}
}

func (p *Pool) probeAll(ctx context.Context, timeout time.Duration) {
	p.mu.RLock()
	nodes := append([]*Node(nil), p.nodes...)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, n := range nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			var result hexutil.Big
			err := n.client.CallContext(probeCtx, &result, "eth_blockNumber")
			if err != nil {
				p.RecordFailure(n.URL)
				return
			}
			p.RecordLatency(n.URL, time.Since(start).Microseconds())
		}()
	}
	wg.Wait()
}

// broadcastResult pairs a successful tx hash with the node that produced it.
type broadcastResult struct {
	hash string
	url  string
}

// ParallelBroadcast fans rawTx to the k fastest eligible nodes concurrently
// (spec §4.1, k=3 default); the first success short-circuits the rest and
// its hash is returned. On total failure the aggregated errors are
// returned as one terminal error.
func (p *Pool) ParallelBroadcast(ctx context.Context, rawTx []byte, k int) (string, error) {
	nodes := p.FastestK(k)
	if len(nodes) == 0 {
		return "", fmt.Errorf("rpcpool: no eligible nodes to broadcast to")
	}

	resultCh := make(chan broadcastResult, len(nodes))
	broadcastCtx, cancelBroadcast := context.WithCancel(ctx)
	defer cancelBroadcast()
	g, gctx := errgroup.WithContext(broadcastCtx)
	errs := make([]error, len(nodes))

	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			if err := n.limiter.Wait(gctx); err != nil {
				errs[i] = err
				return nil
			}
			var txHash string
			err := n.client.CallContext(gctx, &txHash, "eth_sendRawTransaction", hexutil.Encode(rawTx))
			if err != nil {
				errs[i] = err
				p.RecordFailure(n.URL)
				return nil
			}
			select {
			case resultCh <- broadcastResult{hash: txHash, url: n.URL}:
				// first success short-circuits every other in-flight send.
				cancelBroadcast()
			default:
			}
			return nil
		})
	}
	_ = g.Wait()
	close(resultCh)

	for res := range resultCh {
		return res.hash, nil
	}

	return "", aggregateErrors(errs)
}

func aggregateErrors(errs []error) error {
	msg := "rpcpool: broadcast failed on all nodes"
	for _, e := range errs {
		if e != nil {
			msg += ": " + e.Error()
		}
	}
	return fmt.Errorf("%s", msg)
}
