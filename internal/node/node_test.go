package node

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priceless-P/BoxPeer-Web/internal/blockstore"
	"github.com/Priceless-P/BoxPeer-Web/internal/config"
	"github.com/Priceless-P/BoxPeer-Web/internal/identity"
	"github.com/Priceless-P/BoxPeer-Web/internal/kvstore"
)

func testP2P() config.P2PConfig {
	return config.P2PConfig{
		Enabled:        true,
		ListenAddrs:    []string{"/ip4/127.0.0.1/tcp/0"},
		FetchTimeout:   config.Duration{Duration: 2 * time.Second},
		ProvideTimeout: config.Duration{Duration: time.Second},
	}
}

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.New(kvstore.NewMemoryStore(), "", nil).GetOrCreate(context.Background())
	require.NoError(t, err)
	return id
}

func TestHostUsesPersistedIdentity(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	ks := identity.New(store, "", nil)

	id, err := ks.GetOrCreate(ctx)
	require.NoError(t, err)
	n1, err := New(ctx, id, testP2P(), nil)
	require.NoError(t, err)
	first := n1.PeerID()
	require.NoError(t, n1.Close())

	reloaded, err := ks.GetOrCreate(ctx)
	require.NoError(t, err)
	n2, err := New(ctx, reloaded, testP2P(), nil)
	require.NoError(t, err)
	defer n2.Close()

	assert.Equal(t, id.PeerID(), first)
	assert.Equal(t, first, n2.PeerID())
	assert.NotEmpty(t, n2.Addrs())
	for _, a := range n2.FullAddrs() {
		assert.Contains(t, a, "/p2p/"+first.String())
	}
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, newIdentity(t), testP2P(), nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := New(ctx, newIdentity(t), testP2P(), nil)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx, b.FullAddrs()[0]))
	assert.Equal(t, network.Connected, a.Host().Network().Connectedness(b.PeerID()))

	assert.Error(t, a.Connect(ctx, "not-a-multiaddr"))
}

func TestDeniedPeer(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, newIdentity(t), testP2P(), nil)
	require.NoError(t, err)
	defer b.Close()

	cfg := testP2P()
	cfg.DenyPeers = []string{b.PeerID().String()}
	a, err := New(ctx, newIdentity(t), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.Error(t, a.Connect(ctx, b.FullAddrs()[0]))
}

func TestNewRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	id := newIdentity(t)

	cfg := testP2P()
	cfg.ListenAddrs = []string{"tcp/0"}
	_, err := New(ctx, id, cfg, nil)
	assert.Error(t, err)

	cfg = testP2P()
	cfg.DenyPeers = []string{"not-a-peer"}
	_, err = New(ctx, id, cfg, nil)
	assert.Error(t, err)

	cfg = testP2P()
	cfg.DHTMode = "hybrid"
	_, err = New(ctx, id, cfg, nil)
	assert.ErrorContains(t, err, "unknown DHT mode")
}

func TestDHTMode(t *testing.T) {
	for name, want := range map[string]dht.ModeOpt{
		"":       dht.ModeAutoServer,
		"auto":   dht.ModeAutoServer,
		"server": dht.ModeServer,
		"client": dht.ModeClient,
	} {
		got, err := dhtMode(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

// connectedPair starts two nodes with b dialled into a
func connectedPair(t *testing.T) (*Node, *Node) {
	t.Helper()
	ctx := context.Background()
	a, err := New(ctx, newIdentity(t), testP2P(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := New(ctx, newIdentity(t), testP2P(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx, a.FullAddrs()[0]))
	return a, b
}

func TestFetchFromPeer(t *testing.T) {
	a, b := connectedPair(t)
	ctx := context.Background()

	c, err := a.Publish(ctx, []byte("shared over bitswap"))
	require.NoError(t, err)
	want, err := blockstore.Sum([]byte("shared over bitswap"))
	require.NoError(t, err)
	assert.Equal(t, want, c, "published CID should match the blockstore CID")

	data, err := b.GetFile(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared over bitswap"), data)
}

func TestGetFileNotFound(t *testing.T) {
	_, b := connectedPair(t)

	c, err := blockstore.Sum([]byte("nobody has this"))
	require.NoError(t, err)

	start := time.Now()
	_, err = b.GetFile(context.Background(), c)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestPublishAll(t *testing.T) {
	a, b := connectedPair(t)
	ctx := context.Background()

	bs, err := blockstore.New(kvstore.NewMemoryStore(), 4, nil)
	require.NoError(t, err)
	var cids []cid.Cid
	for _, s := range []string{"one", "two", "three"} {
		c, err := bs.Put(ctx, []byte(s))
		require.NoError(t, err)
		cids = append(cids, c)
	}

	n, err := a.PublishAll(ctx, bs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for i, s := range []string{"one", "two", "three"} {
		data, err := b.GetFile(ctx, cids[i])
		require.NoError(t, err)
		assert.Equal(t, s, string(data))
	}
}

func TestFetchThroughChain(t *testing.T) {
	a, b := connectedPair(t)
	ctx := context.Background()

	c, err := a.Publish(ctx, []byte("remote only"))
	require.NoError(t, err)

	local, err := blockstore.New(kvstore.NewMemoryStore(), 4, nil)
	require.NoError(t, err)
	data, err := blockstore.NewChain(local, b, nil).GetFile(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "remote only", string(data))

	ok, err := local.Has(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	n, err := New(context.Background(), newIdentity(t), testP2P(), nil)
	require.NoError(t, err)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
}
