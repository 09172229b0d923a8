package state

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	nonce uint64
	err   error
}

func (f fakeFetcher) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, f.err
}

func testKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func TestNewDefaults(t *testing.T) {
	s := New()
	assert.Equal(t, 15.0, s.SlippagePct)
	assert.Equal(t, 0.1, s.ManualGasPriceGwei)
	assert.NotNil(t, s.Wallets)
	assert.NotNil(t, s.QuoteTokens)
}

func TestAddWalletResyncsNonce(t *testing.T) {
	s := New()
	key, addr := testKey(t)

	err := s.AddWallet(context.Background(), key, addr, fakeFetcher{nonce: 7})
	require.NoError(t, err)

	w, ok := s.Wallet(addr)
	require.True(t, ok)
	assert.Equal(t, uint64(7), w.Nonce)
}

func TestNextNonceIncrements(t *testing.T) {
	s := New()
	key, addr := testKey(t)
	require.NoError(t, s.AddWallet(context.Background(), key, addr, fakeFetcher{nonce: 3}))

	n1, ok := s.NextNonce(addr)
	require.True(t, ok)
	n2, ok := s.NextNonce(addr)
	require.True(t, ok)

	assert.Equal(t, uint64(3), n1)
	assert.Equal(t, uint64(4), n2)
}

func TestNextNonceUnknownWallet(t *testing.T) {
	s := New()
	_, ok := s.NextNonce(common.HexToAddress("0xdead"))
	assert.False(t, ok)
}

func TestResetClearsSessionState(t *testing.T) {
	s := New()
	key, addr := testKey(t)
	require.NoError(t, s.AddWallet(context.Background(), key, addr, fakeFetcher{nonce: 1}))
	s.SetSelection(&Selection{Token: common.HexToAddress("0x1")})
	s.UpsertV2Pool(&Pool{Address: common.HexToAddress("0x2")})

	s.Reset()

	_, ok := s.Wallet(addr)
	assert.False(t, ok)
	assert.Nil(t, s.GetSelection())
	assert.Empty(t, s.V2Pools)
}

func TestClearPoolMapsKeepsWallets(t *testing.T) {
	s := New()
	key, addr := testKey(t)
	require.NoError(t, s.AddWallet(context.Background(), key, addr, fakeFetcher{nonce: 1}))
	s.UpsertV2Pool(&Pool{Address: common.HexToAddress("0x2")})
	s.SetSelection(&Selection{Token: common.HexToAddress("0x1")})

	s.ClearPoolMaps()

	_, ok := s.Wallet(addr)
	assert.True(t, ok)
	assert.Empty(t, s.V2Pools)
	assert.Nil(t, s.GetSelection())
}

func TestTouchFuelAttemptSuccessResetsCounter(t *testing.T) {
	s := New()
	key, addr := testKey(t)
	require.NoError(t, s.AddWallet(context.Background(), key, addr, fakeFetcher{nonce: 1}))

	s.TouchFuelAttempt(addr, false, 100)
	s.TouchFuelAttempt(addr, false, 200)
	w, _ := s.Wallet(addr)
	assert.Equal(t, 2, w.Fuel.Count)

	s.TouchFuelAttempt(addr, true, 300)
	w, _ = s.Wallet(addr)
	assert.Equal(t, 0, w.Fuel.Count)
	assert.Equal(t, int64(0), w.Fuel.LastTSMs)
}

func TestPendingTxLifecycle(t *testing.T) {
	s := New()
	h := common.HexToHash("0xabc")
	s.AddPendingTx(h)
	assert.Contains(t, s.PendingTxHashes(), h)

	s.RemovePendingTx(h)
	assert.NotContains(t, s.PendingTxHashes(), h)
}

func TestGetSelectionReturnsCopy(t *testing.T) {
	s := New()
	s.SetSelection(&Selection{Token: common.HexToAddress("0x1")})

	sel := s.GetSelection()
	require.NotNil(t, sel)
	sel.Token = common.HexToAddress("0x2")

	again := s.GetSelection()
	assert.Equal(t, common.HexToAddress("0x1"), again.Token)
}

func TestFuelPolicyRoundTrip(t *testing.T) {
	s := New()
	p := FuelPolicy{Enabled: true, ThresholdWei: uint256.NewInt(1), AmountWei: uint256.NewInt(2)}
	s.SetFuelPolicy(p)
	got := s.GetFuelPolicy()
	assert.True(t, got.Enabled)
	assert.Equal(t, "1", got.ThresholdWei.Dec())
}
