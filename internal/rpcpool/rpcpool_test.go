package rpcpool

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(nodes ...*Node) *Pool {
	return &Pool{nodes: nodes, PrivateThresholdMicros: 50000, MaxFails: 3}
}

func TestFastestOneNoNodes(t *testing.T) {
	p := newTestPool()
	_, err := p.FastestOne()
	assert.Error(t, err)
}

func TestFastestOnePicksLowestLatency(t *testing.T) {
	a := newNode("a", false, nil)
	b := newNode("b", false, nil)
	a.latencyMicros = 500
	b.latencyMicros = 100

	p := newTestPool(a, b)
	best, err := p.FastestOne()
	require.NoError(t, err)
	assert.Equal(t, "b", best.URL)
}

func TestFastestOneExcludesFailedNodes(t *testing.T) {
	a := newNode("a", false, nil)
	a.latencyMicros = 100
	a.fails = 3 // at MaxFails, no longer eligible
	b := newNode("b", false, nil)
	b.latencyMicros = 500

	p := newTestPool(a, b)
	best, err := p.FastestOne()
	require.NoError(t, err)
	assert.Equal(t, "b", best.URL)
}

func TestPrivateNodeWinsWithinThreshold(t *testing.T) {
	priv := newNode("priv", true, nil)
	pub := newNode("pub", false, nil)
	priv.latencyMicros = 140000 // 140ms
	pub.latencyMicros = 100000  // 100ms, 40ms ahead, under the 50ms threshold

	p := newTestPool(priv, pub)
	best, err := p.FastestOne()
	require.NoError(t, err)
	assert.Equal(t, "priv", best.URL)
}

func TestPrivateNodeLosesBeyondThreshold(t *testing.T) {
	priv := newNode("priv", true, nil)
	pub := newNode("pub", false, nil)
	priv.latencyMicros = 200000 // 200ms
	pub.latencyMicros = 100000  // 100ms, 100ms ahead, over the 50ms threshold

	p := newTestPool(priv, pub)
	best, err := p.FastestOne()
	require.NoError(t, err)
	assert.Equal(t, "pub", best.URL)
}

func TestFastestKOrdersAndCaps(t *testing.T) {
	a := newNode("a", false, nil)
	b := newNode("b", false, nil)
	c := newNode("c", false, nil)
	a.latencyMicros, b.latencyMicros, c.latencyMicros = 300, 100, 200

	p := newTestPool(a, b, c)
	top2 := p.FastestK(2)
	require.Len(t, top2, 2)
	assert.Equal(t, "b", top2[0].URL)
	assert.Equal(t, "c", top2[1].URL)
}

func TestRecordLatencyResetsFails(t *testing.T) {
	a := newNode("a", false, nil)
	a.fails = 2
	p := newTestPool(a)

	p.RecordLatency("a", 12345)
	assert.Equal(t, int64(12345), a.Latency())
	assert.Equal(t, int32(0), a.Fails())
}

func TestRecordFailureIncrements(t *testing.T) {
	a := newNode("a", false, nil)
	p := newTestPool(a)

	p.RecordFailure("a")
	p.RecordFailure("a")
	assert.Equal(t, int32(2), a.Fails())
}

func TestTrimURL(t *testing.T) {
	assert.Equal(t, "https://x", trimURL("  https://x  "))
	assert.Equal(t, "", trimURL("   "))
}

// fastEthService answers eth_sendRawTransaction immediately.
type fastEthService struct{}

func (fastEthService) SendRawTransaction(ctx context.Context, raw string) (string, error) {
	return "0xfast", nil
}

// slowEthService blocks on eth_sendRawTransaction until its context is
// cancelled or a long timeout elapses, so a test can prove cancellation
// actually happened instead of the call merely being fast.
type slowEthService struct {
	called chan struct{}
}

func (s *slowEthService) SendRawTransaction(ctx context.Context, raw string) (string, error) {
	close(s.called)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "0xslow", nil
	}
}

func newRPCTestNode(t *testing.T, private bool, receiver interface{}) (*Node, func()) {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", receiver))
	httpSrv := httptest.NewServer(srv)

	client, err := rpc.DialContext(context.Background(), httpSrv.URL)
	require.NoError(t, err)

	return newNode(httpSrv.URL, private, client), func() {
		client.Close()
		httpSrv.Close()
	}
}

func TestParallelBroadcastReturnsFirstSuccess(t *testing.T) {
	fastNode, stopFast := newRPCTestNode(t, false, fastEthService{})
	defer stopFast()
	slow := &slowEthService{called: make(chan struct{})}
	slowNode, stopSlow := newRPCTestNode(t, false, slow)
	defer stopSlow()

	p := newTestPool(fastNode, slowNode)

	hash, err := p.ParallelBroadcast(context.Background(), []byte{0x01, 0x02}, 2)
	require.NoError(t, err)
	assert.Equal(t, "0xfast", hash)
}

func TestParallelBroadcastCancelsSlowerNodesOnFirstSuccess(t *testing.T) {
	fastNode, stopFast := newRPCTestNode(t, false, fastEthService{})
	defer stopFast()
	slow := &slowEthService{called: make(chan struct{})}
	slowNode, stopSlow := newRPCTestNode(t, false, slow)
	defer stopSlow()

	p := newTestPool(fastNode, slowNode)

	start := time.Now()
	hash, err := p.ParallelBroadcast(context.Background(), []byte{0x01, 0x02}, 2)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "0xfast", hash)
	assert.Less(t, elapsed, 2*time.Second,
		"the slow node's eth_sendRawTransaction must be cancelled once the fast node succeeds, not waited out for its full 5s")

	select {
	case <-slow.called:
	case <-time.After(time.Second):
		t.Fatal("the slow node's handler was never invoked")
	}
}

func TestParallelBroadcastNoEligibleNodes(t *testing.T) {
	p := newTestPool()
	_, err := p.ParallelBroadcast(context.Background(), []byte{0x01}, 2)
	assert.Error(t, err)
}
