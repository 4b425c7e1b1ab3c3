// Package catalog supplies the CIDs a node wants to fetch.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/Priceless-P/BoxPeer-Web/internal/config"
)

// Catalog is the known-CID source a session reads from
type Catalog interface {
	// Refresh reloads the CID list. Safe to call more than once.
	Refresh(ctx context.Context) error
	// CIDs returns the current list without side effects
	CIDs() []string
}

// FromConfig returns a list-file catalog when one is configured, else a static one
func FromConfig(cfg config.CatalogConfig) Catalog {
	if cfg.ListFile != "" {
		return NewListFile(cfg.ListFile)
	}
	return NewStatic(cfg.CIDs)
}

// Static is a fixed CID list
type Static struct {
	cids []string
}

func NewStatic(cids []string) *Static {
	return &Static{cids: append([]string(nil), cids...)}
}

func (s *Static) Refresh(context.Context) error { return nil }

func (s *Static) CIDs() []string {
	return append([]string(nil), s.cids...)
}

// ListFile reads CIDs from a text file, one per line or comma separated.
// Blank lines and text after '#' are ignored.
type ListFile struct {
	path string

	mu   sync.RWMutex
	cids []string
}

func NewListFile(path string) *ListFile {
	return &ListFile{path: path}
}

func (l *ListFile) Refresh(ctx context.Context) error {
	content, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read CID list: %w", err)
	}
	cids := ParseList(content)

	l.mu.Lock()
	l.cids = cids
	l.mu.Unlock()
	return nil
}

func (l *ListFile) CIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.cids...)
}

// ParseList splits list-file content into CIDs in file order, dropping repeats.
// Lines have no length limit, so a long comma separated line is read whole.
func ParseList(content []byte) []string {
	var cids []string
	seen := make(map[string]struct{})

	for _, line := range bytes.Split(content, []byte{'\n'}) {
		if i := bytes.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, field := range bytes.Split(line, []byte{','}) {
			c := string(bytes.TrimSpace(field))
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cids = append(cids, c)
		}
	}
	return cids
}

// Lister is the part of a blockstore a Store catalog needs
type Lister interface {
	List(ctx context.Context) ([]cid.Cid, error)
}

// Store lists the CIDs held by a local blockstore
type Store struct {
	blocks Lister

	mu   sync.RWMutex
	cids []string
}

func NewStore(blocks Lister) *Store {
	return &Store{blocks: blocks}
}

func (s *Store) Refresh(ctx context.Context) error {
	list, err := s.blocks.List(ctx)
	if err != nil {
		return err
	}
	cids := make([]string, 0, len(list))
	for _, c := range list {
		cids = append(cids, c.String())
	}

	s.mu.Lock()
	s.cids = cids
	s.mu.Unlock()
	return nil
}

func (s *Store) CIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.cids...)
}
