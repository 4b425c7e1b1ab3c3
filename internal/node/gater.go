package node

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// denyGater is a ConnectionGater refusing a fixed set of peers.
// Private and local addresses are allowed.
type denyGater struct {
	denied map[peer.ID]struct{}
}

var _ connmgr.ConnectionGater = (*denyGater)(nil)

func newDenyGater(ids []string) (*denyGater, error) {
	g := &denyGater{denied: make(map[peer.ID]struct{}, len(ids))}
	for _, s := range ids {
		id, err := peer.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("invalid denied peer %q: %w", s, err)
		}
		g.denied[id] = struct{}{}
	}
	return g, nil
}

func (g *denyGater) allowed(p peer.ID) bool {
	_, denied := g.denied[p]
	return !denied
}

func (g *denyGater) InterceptPeerDial(p peer.ID) bool {
	return g.allowed(p)
}

func (g *denyGater) InterceptAddrDial(p peer.ID, _ multiaddr.Multiaddr) bool {
	return g.allowed(p)
}

func (g *denyGater) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

func (g *denyGater) InterceptSecured(_ network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	return g.allowed(p)
}

func (g *denyGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
