package blockstore

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
)

// Remote fetches content the local blockstore does not hold
type Remote interface {
	GetFile(ctx context.Context, c cid.Cid) ([]byte, error)
}

// Chain serves from the local blockstore first and falls back to a remote
// source on a miss. Remote raw blocks are kept locally.
type Chain struct {
	local  *Blockstore
	remote Remote
	log    *zap.Logger
}

func NewChain(local *Blockstore, remote Remote, log *zap.Logger) *Chain {
	return &Chain{local: local, remote: remote, log: logging.Named(log, "chain")}
}

func (ch *Chain) GetFile(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, err := ch.local.Get(ctx, c)
	if !errors.Is(err, ErrNotFound) {
		return data, err
	}

	data, err = ch.remote.GetFile(ctx, c)
	if err != nil {
		return nil, err
	}

	// only content whose CID we would compute ourselves can be stored under it
	if sum, err := Sum(data); err == nil && sum.Equals(c) {
		if _, err := ch.local.Put(ctx, data); err != nil {
			ch.log.Warn("failed to keep fetched block", zap.Stringer("cid", c), zap.Error(err))
		}
	}
	return data, nil
}
