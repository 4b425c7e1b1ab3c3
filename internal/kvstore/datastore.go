package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
)

// DatastoreStore adapts an ipfs go-datastore to Store
type DatastoreStore struct {
	ds datastore.Datastore

	// orders writes so PutIfAbsent can check then put
	mu sync.Mutex
}

// NewDatastoreStore wraps an existing datastore
func NewDatastoreStore(ds datastore.Datastore) *DatastoreStore {
	return &DatastoreStore{ds: ds}
}

// NewMemoryStore returns a store backed by a mutex-guarded map datastore
// Nothing survives the process, so it suits tests and throwaway nodes
func NewMemoryStore() *DatastoreStore {
	return NewDatastoreStore(dssync.MutexWrap(datastore.NewMapDatastore()))
}

func dsKey(key string) datastore.Key {
	return datastore.NewKey(key)
}

func (s *DatastoreStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	value, err := s.ds.Get(ctx, dsKey(key))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("datastore get %s: %w", key, err)
	}
	return value, nil
}

func (s *DatastoreStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ds.Put(ctx, dsKey(key), value); err != nil {
		return fmt.Errorf("datastore put %s: %w", key, err)
	}
	return nil
}

func (s *DatastoreStore) PutIfAbsent(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.ds.Has(ctx, dsKey(key))
	if err != nil {
		return fmt.Errorf("datastore has %s: %w", key, err)
	}
	if ok {
		return ErrExists
	}
	if err := s.ds.Put(ctx, dsKey(key), value); err != nil {
		return fmt.Errorf("datastore put %s: %w", key, err)
	}
	return nil
}

func (s *DatastoreStore) Has(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return s.ds.Has(ctx, dsKey(key))
}

func (s *DatastoreStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	q := query.Query{KeysOnly: true}
	// the datastore matches whole path segments, the rest is filtered below
	if i := strings.LastIndexByte(prefix, '/'); i > 0 {
		q.Prefix = "/" + prefix[:i]
	}
	res, err := s.ds.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("datastore query: %w", err)
	}
	defer res.Close()

	entries, err := res.Rest()
	if err != nil {
		return nil, fmt.Errorf("datastore query: %w", err)
	}

	var keys []string
	for _, e := range entries {
		key := strings.TrimPrefix(e.Key, "/")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *DatastoreStore) Close() error {
	return s.ds.Close()
}
