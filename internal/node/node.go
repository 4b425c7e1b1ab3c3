// Package node runs the libp2p host that carries the node's persisted
// identity, so the peer ID stays the same across restarts.
//
// On top of the host sit a Kademlia DHT for provider records and an
// ipfs-lite peer that exchanges blocks over bitswap.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	ipfslite "github.com/hsanjuan/ipfs-lite"
	"github.com/ipfs/boxo/ipld/merkledag"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/config"
	"github.com/Priceless-P/BoxPeer-Web/internal/identity"
	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
)

const defaultTimeout = 30 * time.Second

// ErrNotFound is returned by GetFile when no peer supplied the block
var ErrNotFound = errors.New("block not found on the network")

// Node wraps a libp2p host bound to the node identity
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	lite   *ipfslite.Peer
	mdns   mdns.Service
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	fetchTimeout   time.Duration
	provideTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// discoveryNotifee gets notified when we find a new peer via mDNS discovery
type discoveryNotifee struct {
	ctx context.Context
	h   host.Host
	log *zap.Logger
}

// HandlePeerFound connects to peers discovered via mDNS (best effort)
func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	if err := n.h.Connect(n.ctx, pi); err != nil {
		n.log.Debug("mdns peer unreachable", zap.Stringer("peer", pi.ID), zap.Error(err))
		return
	}
	n.log.Info("connected to mdns peer", zap.Stringer("peer", pi.ID))
}

// New starts a host listening on cfg.ListenAddrs with the key held by id,
// together with its DHT and block exchange
func New(ctx context.Context, id *identity.Identity, cfg config.P2PConfig, log *zap.Logger) (*Node, error) {
	log = logging.Named(log, "node")

	listen, err := parseAddrs(cfg.ListenAddrs)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}
	gater, err := newDenyGater(cfg.DenyPeers)
	if err != nil {
		return nil, err
	}
	mode, err := dhtMode(cfg.DHTMode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	var kdht *dht.IpfsDHT
	h, err := libp2p.New(
		libp2p.Identity(id.PrivKey()),
		libp2p.ListenAddrs(listen...),
		libp2p.ConnectionGater(gater),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			kdht, err = dht.New(ctx, h, dht.Mode(mode))
			return kdht, err
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	// blocks served over bitswap live in memory; serve republishes the
	// local blockstore into it on start
	lite, err := ipfslite.New(ctx, dssync.MutexWrap(datastore.NewMapDatastore()), nil, h, kdht, nil)
	if err != nil {
		cancel()
		_ = kdht.Close()
		_ = h.Close()
		return nil, fmt.Errorf("failed to create block exchange: %w", err)
	}

	n := &Node{
		host:           h,
		dht:            kdht,
		lite:           lite,
		log:            log.With(zap.Stringer("peer", h.ID())),
		ctx:            ctx,
		cancel:         cancel,
		fetchTimeout:   orDefault(cfg.FetchTimeout.Duration),
		provideTimeout: orDefault(cfg.ProvideTimeout.Duration),
	}

	if cfg.MDNS {
		tag := cfg.ServiceTag
		if tag == "" {
			tag = "boxpeer"
		}
		n.mdns = mdns.NewMdnsService(h, tag, &discoveryNotifee{ctx: ctx, h: h, log: n.log})
		if err := n.mdns.Start(); err != nil {
			cancel()
			_ = kdht.Close()
			_ = h.Close()
			return nil, fmt.Errorf("failed to start mDNS: %w", err)
		}
	}

	n.bootstrap(cfg.Bootstrap)
	if err := kdht.Bootstrap(ctx); err != nil {
		// the DHT keeps refreshing its table on its own
		n.log.Info("DHT bootstrap warning", zap.Error(err))
	}
	n.log.Info("host started", zap.Strings("addrs", n.FullAddrs()))
	return n, nil
}

func dhtMode(name string) (dht.ModeOpt, error) {
	switch name {
	case "", "auto":
		return dht.ModeAutoServer, nil
	case "server":
		return dht.ModeServer, nil
	case "client":
		return dht.ModeClient, nil
	default:
		return 0, fmt.Errorf("unknown DHT mode: %q", name)
	}
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}

// bootstrap dials the configured peers in the background, ignoring failures
func (n *Node) bootstrap(addrs []string) {
	for _, s := range addrs {
		info, err := peer.AddrInfoFromString(s)
		if err != nil {
			n.log.Warn("skipping bootstrap peer", zap.String("addr", s), zap.Error(err))
			continue
		}
		go func(info peer.AddrInfo) {
			if err := n.host.Connect(n.ctx, info); err != nil {
				n.log.Info("bootstrap peer unreachable", zap.Stringer("peer", info.ID), zap.Error(err))
			}
		}(*info)
	}
}

func (n *Node) Host() host.Host {
	return n.host
}

func (n *Node) PeerID() peer.ID {
	return n.host.ID()
}

// Addrs returns the host's listen addresses
func (n *Node) Addrs() []multiaddr.Multiaddr {
	return n.host.Addrs()
}

// FullAddrs returns the listen addresses with the /p2p/<id> suffix
func (n *Node) FullAddrs() []string {
	info := peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// Connect dials a peer given as a full /p2p/ multiaddr
func (n *Node) Connect(ctx context.Context, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid peer address %q: %w", addr, err)
	}
	return n.host.Connect(ctx, *info)
}

// Publish stores data as a raw block in the exchange and announces it on the
// DHT. A failed announcement is logged; the block is still served to peers
// that ask for it directly.
func (n *Node) Publish(ctx context.Context, data []byte) (cid.Cid, error) {
	block := merkledag.NewRawNode(data)
	if err := n.lite.Add(ctx, block); err != nil {
		return cid.Undef, fmt.Errorf("failed to add block: %w", err)
	}
	if err := n.Provide(ctx, block.Cid()); err != nil {
		n.log.Info("could not announce block", zap.Stringer("cid", block.Cid()), zap.Error(err))
	}
	return block.Cid(), nil
}

// Provide announces on the DHT that this node holds c
func (n *Node) Provide(ctx context.Context, c cid.Cid) error {
	ctx, cancel := context.WithTimeout(ctx, n.provideTimeout)
	defer cancel()
	return n.dht.Provide(ctx, c, true)
}

// BlockSource is the part of a local blockstore PublishAll reads
type BlockSource interface {
	List(ctx context.Context) ([]cid.Cid, error)
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
}

// PublishAll publishes every block held by src and returns how many were published
func (n *Node) PublishAll(ctx context.Context, src BlockSource) (int, error) {
	cids, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, c := range cids {
		data, err := src.Get(ctx, c)
		if err != nil {
			n.log.Warn("skipping unreadable block", zap.Stringer("cid", c), zap.Error(err))
			continue
		}
		if _, err := n.Publish(ctx, data); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// GetFile fetches c from peers, looking up providers on the DHT when no
// connected peer has it. It gives up after the configured fetch timeout.
func (n *Node) GetFile(ctx context.Context, c cid.Cid) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.fetchTimeout)
	defer cancel()

	r, err := n.lite.GetFile(ctx, c)
	if err != nil {
		if notFound(ctx, err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", c, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		if notFound(ctx, err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
		}
		return nil, fmt.Errorf("failed to read %s: %w", c, err)
	}
	n.log.Debug("fetched block from network", zap.Stringer("cid", c), zap.Int("size", len(data)))
	return data, nil
}

// notFound reports whether a fetch failed because no peer answered in time.
// The DAG layer formats context errors with %v, so the deadline is checked
// on ctx as well.
func notFound(ctx context.Context, err error) bool {
	return ipld.IsNotFound(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// Close stops discovery, the DHT and the host. The block exchange stops
// with the node context.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()
		if n.mdns != nil {
			n.closeErr = multierr.Append(n.closeErr, n.mdns.Close())
		}
		n.closeErr = multierr.Append(n.closeErr, n.dht.Close())
		n.closeErr = multierr.Append(n.closeErr, n.host.Close())
	})
	return n.closeErr
}

func parseAddrs(addrs []string) ([]multiaddr.Multiaddr, error) {
	out := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, s := range addrs {
		a, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}
