// Package blockstore stores whole files as content-addressed blocks.
//
// Each block is keyed by a CIDv1 with the raw codec and a sha2-256
// multihash, so the same bytes always land under the same CID.
package blockstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/kvstore"
	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
)

const keyPrefix = "blocks/"

var (
	ErrNotFound = errors.New("block not found")
	// ErrCorrupt means the stored bytes no longer hash to their CID
	ErrCorrupt = errors.New("block corrupt")
)

// Blockstore keeps blocks in a kvstore with an LRU read cache in front
type Blockstore struct {
	store kvstore.Store
	cache *lru.Cache[cid.Cid, []byte]
	log   *zap.Logger
}

// New creates a blockstore over store caching up to cacheSize blocks
func New(store kvstore.Store, cacheSize int, log *zap.Logger) (*Blockstore, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[cid.Cid, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}
	return &Blockstore{
		store: store,
		cache: cache,
		log:   logging.Named(log, "blockstore"),
	}, nil
}

// Sum returns the CIDv1 (raw, sha2-256) of data
func Sum(data []byte) (cid.Cid, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to hash block: %w", err)
	}
	return cid.NewCidV1(cid.Raw, hash), nil
}

func blockKey(c cid.Cid) string {
	return keyPrefix + c.String()
}

// Put stores data and returns its CID. Storing the same bytes twice is a no-op.
func (b *Blockstore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	if b.cache.Contains(c) {
		return c, nil
	}

	stored := append([]byte(nil), data...)
	if err := b.store.Put(ctx, blockKey(c), stored); err != nil {
		return cid.Undef, fmt.Errorf("failed to store block %s: %w", c, err)
	}
	b.cache.Add(c, stored)
	b.log.Debug("stored block", zap.Stringer("cid", c), zap.Int("size", len(data)))
	return c, nil
}

// Get returns the bytes for c after checking they still match the hash
func (b *Blockstore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	if data, ok := b.cache.Get(c); ok {
		return data, nil
	}

	data, err := b.store.Get(ctx, blockKey(c))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s: %w", c, err)
	}

	if err := verify(c, data); err != nil {
		return nil, err
	}
	b.cache.Add(c, data)
	return data, nil
}

// GetFile makes the blockstore a gateway content source
func (b *Blockstore) GetFile(ctx context.Context, c cid.Cid) ([]byte, error) {
	return b.Get(ctx, c)
}

func (b *Blockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if b.cache.Contains(c) {
		return true, nil
	}
	return b.store.Has(ctx, blockKey(c))
}

// List returns the CIDs of every stored block
func (b *Blockstore) List(ctx context.Context) ([]cid.Cid, error) {
	keys, err := b.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}

	cids := make([]cid.Cid, 0, len(keys))
	for _, key := range keys {
		c, err := cid.Decode(strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			b.log.Warn("skipping unparseable block key", zap.String("key", key), zap.Error(err))
			continue
		}
		cids = append(cids, c)
	}
	return cids, nil
}

func verify(c cid.Cid, data []byte) error {
	prefix := c.Prefix()
	actual, err := prefix.Sum(data)
	if err != nil {
		return fmt.Errorf("failed to hash block %s: %w", c, err)
	}
	if !actual.Equals(c) {
		return fmt.Errorf("%w: %s", ErrCorrupt, c)
	}
	return nil
}
