package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p/core/crypto"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/kvstore"
	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
)

// DefaultSlot is the storage key the node keypair lives under
const DefaultSlot = "pKey"

// ErrIdentityUnavailable wraps every failure to produce the node identity
var ErrIdentityUnavailable = errors.New("identity unavailable")

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIdentityUnavailable, fmt.Sprintf(format, args...))
}

// KeyStore creates, persists and reloads the node keypair
type KeyStore struct {
	store  kvstore.Store
	slot   string
	log    *zap.Logger
	random io.Reader

	// serializes first-use generation within this KeyStore; other
	// instances over the same storage are arbitrated by PutIfAbsent
	mu sync.Mutex
}

// New returns a KeyStore over store. An empty slot means DefaultSlot.
func New(store kvstore.Store, slot string, log *zap.Logger) *KeyStore {
	if slot == "" {
		slot = DefaultSlot
	}
	return &KeyStore{
		store:  store,
		slot:   slot,
		log:    logging.Named(log, "identity"),
		random: rand.Reader,
	}
}

// GetOrCreate returns the persisted identity, generating and persisting a
// new Ed25519 key when the slot is empty
func (ks *KeyStore) GetOrCreate(ctx context.Context) (*Identity, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	encoded, ok, err := ks.Load(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		id, err := Decode(encoded)
		if err != nil {
			return nil, err
		}
		ks.log.Debug("loaded identity", zap.Stringer("peer", id.PeerID()))
		return id, nil
	}

	priv, _, err := crypto.GenerateEd25519Key(ks.random)
	if err != nil {
		return nil, unavailable("failed to generate key: %v", err)
	}
	id, err := newIdentity(priv)
	if err != nil {
		return nil, unavailable("%v", err)
	}
	encoded, err = Encode(id)
	if err != nil {
		return nil, err
	}
	err = ks.store.PutIfAbsent(ctx, ks.slot, []byte(encoded))
	if errors.Is(err, kvstore.ErrExists) {
		// another KeyStore on the same storage persisted first; its key wins
		return ks.loadExisting(ctx)
	}
	if err != nil {
		return nil, unavailable("failed to write key: %v", err)
	}
	ks.log.Info("generated new identity", zap.Stringer("peer", id.PeerID()))
	return id, nil
}

func (ks *KeyStore) loadExisting(ctx context.Context) (*Identity, error) {
	encoded, ok, err := ks.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, unavailable("key slot %q emptied during creation", ks.slot)
	}
	return Decode(encoded)
}

// Persist writes the encoded key to the slot, replacing any previous value
func (ks *KeyStore) Persist(ctx context.Context, id *Identity) error {
	if id == nil {
		return unavailable("nil identity")
	}
	encoded, err := Encode(id)
	if err != nil {
		return err
	}
	if err := ks.store.Put(ctx, ks.slot, []byte(encoded)); err != nil {
		return unavailable("failed to write key: %v", err)
	}
	return nil
}

// Load reads the encoded key. An empty slot is ("", false, nil).
func (ks *KeyStore) Load(ctx context.Context) (string, bool, error) {
	value, err := ks.store.Get(ctx, ks.slot)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("failed to read key: %v", err)
	}
	return string(value), true, nil
}

// Encode renders the key as lowercase hex of its libp2p protobuf record
func Encode(id *Identity) (string, error) {
	keyBytes, err := crypto.MarshalPrivateKey(id.priv)
	if err != nil {
		return "", unavailable("failed to marshal key: %v", err)
	}
	return hex.EncodeToString(keyBytes), nil
}

// Decode parses a value produced by Encode
func Decode(encoded string) (*Identity, error) {
	keyBytes, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, unavailable("stored key is not hex: %v", err)
	}
	priv, err := crypto.UnmarshalPrivateKey(keyBytes)
	if err != nil {
		return nil, unavailable("failed to unmarshal stored key: %v", err)
	}
	id, err := newIdentity(priv)
	if err != nil {
		return nil, unavailable("%v", err)
	}
	return id, nil
}
