// Package identity manages the node's single Ed25519 keypair.
//
// The key is generated on first use, written to one well-known slot of a
// kvstore.Store and reloaded on every later start. Once a key has been
// persisted it is never regenerated: a slot holding an unreadable value is
// reported as ErrIdentityUnavailable rather than overwritten.
package identity

import (
	"bytes"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is a live handle on the node keypair
type Identity struct {
	priv   crypto.PrivKey
	peerID peer.ID
}

func newIdentity(priv crypto.PrivKey) (*Identity, error) {
	if priv.Type() != crypto.Ed25519 {
		return nil, fmt.Errorf("unsupported key type %s", priv.Type())
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer ID: %w", err)
	}
	return &Identity{priv: priv, peerID: pid}, nil
}

// PeerID returns the libp2p peer ID derived from the public key
func (id *Identity) PeerID() peer.ID {
	return id.peerID
}

func (id *Identity) PublicKey() crypto.PubKey {
	return id.priv.GetPublic()
}

// PrivKey returns the private key for handing to libp2p.Identity
func (id *Identity) PrivKey() crypto.PrivKey {
	return id.priv
}

func (id *Identity) Sign(data []byte) ([]byte, error) {
	return id.priv.Sign(data)
}

func (id *Identity) Verify(data, sig []byte) (bool, error) {
	return id.priv.GetPublic().Verify(data, sig)
}

// Equals reports whether both handles hold the same private key bytes
func (id *Identity) Equals(other *Identity) bool {
	if id == nil || other == nil {
		return id == other
	}
	a, err := id.priv.Raw()
	if err != nil {
		return false
	}
	b, err := other.priv.Raw()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}
