// Package kvstore provides the durable key-value slots the node keeps its
// identity and content blocks in.
//
// Keys are slash separated paths such as "pKey" or "blocks/bafk...".
// Every backend makes Put atomic from the reader's point of view: a Get
// that follows a failed Put returns the previous value or ErrNotFound,
// never a partial value.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Priceless-P/BoxPeer-Web/internal/config"
)

var (
	// ErrNotFound is returned by Get when the key holds no value
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrInvalidKey is returned for empty keys or keys escaping the store
	ErrInvalidKey = errors.New("kvstore: invalid key")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("kvstore: store closed")
	// ErrExists is returned by PutIfAbsent when the key already holds a value
	ErrExists = errors.New("kvstore: key exists")
)

// Store is a durable key-value store
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent stores value only when key holds nothing, atomically with
	// respect to other writers of the same store, and returns ErrExists otherwise
	PutIfAbsent(ctx context.Context, key string, value []byte) error
	Has(ctx context.Context, key string) (bool, error)
	// Keys lists keys beginning with prefix, in no particular order
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open creates the backend named in the storage configuration
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		return NewFileStore(cfg.Path)
	case "badger":
		return NewBadgerStore(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
