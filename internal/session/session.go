// Package session wires a catalog to a fetcher for one retrieval session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/catalog"
	"github.com/Priceless-P/BoxPeer-Web/internal/fetcher"
	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
)

const pollInterval = 25 * time.Millisecond

var (
	ErrAlreadyStarted = errors.New("session already started")
	// ErrIncomplete is returned by Wait when the connection closed before every wanted CID arrived
	ErrIncomplete = errors.New("connection closed before all files arrived")
)

// Session owns one fetcher and the catalog feeding it
type Session struct {
	fetcher *fetcher.Fetcher
	catalog catalog.Catalog
	log     *zap.Logger

	mu              sync.Mutex
	started         bool
	metadataFetched bool

	wg sync.WaitGroup
}

func New(f *fetcher.Fetcher, c catalog.Catalog, log *zap.Logger) *Session {
	return &Session{
		fetcher: f,
		catalog: c,
		log:     logging.Named(log, "session"),
	}
}

func (s *Session) Fetcher() *fetcher.Fetcher {
	return s.fetcher
}

// Start loads catalog metadata (once per session), opens the fetcher and
// hands it the known CIDs as soon as the connection is open
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.fetchMetadata(ctx); err != nil {
		return err
	}
	if err := s.fetcher.Open(ctx); err != nil {
		return fmt.Errorf("failed to open fetcher: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.fetcher.Ready():
			s.fetcher.OnFilesKnown(s.catalog.CIDs())
		case <-s.fetcher.Done():
		}
	}()
	return nil
}

func (s *Session) fetchMetadata(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.metadataFetched {
		return nil
	}
	if err := s.catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to fetch catalog metadata: %w", err)
	}
	s.metadataFetched = true
	s.log.Info("catalog loaded", zap.Int("cids", len(s.catalog.CIDs())))
	return nil
}

// Refresh reloads the catalog and notifies the fetcher. Once the batch has
// gone out, newly listed CIDs are not requested.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh catalog: %w", err)
	}
	cids := s.catalog.CIDs()
	if s.fetcher.RequestSent() {
		s.log.Debug("batch already sent, new CIDs will not be requested", zap.Int("cids", len(cids)))
	}
	s.fetcher.OnFilesKnown(cids)
	return nil
}

// Wait blocks until every CID in want has been received, the connection
// closes or ctx ends, and returns the snapshot at that point
func (s *Session) Wait(ctx context.Context, want []string) ([]fetcher.Record, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if s.hasAll(want) {
			return s.fetcher.Snapshot(), nil
		}

		select {
		case <-ctx.Done():
			return s.fetcher.Snapshot(), ctx.Err()
		case <-s.fetcher.Done():
			if s.hasAll(want) {
				return s.fetcher.Snapshot(), nil
			}
			if err := s.fetcher.Err(); err != nil {
				return s.fetcher.Snapshot(), fmt.Errorf("%w: %v", ErrIncomplete, err)
			}
			return s.fetcher.Snapshot(), ErrIncomplete
		case <-ticker.C:
		}
	}
}

func (s *Session) hasAll(want []string) bool {
	for _, c := range want {
		if !s.fetcher.Has(c) {
			return false
		}
	}
	return true
}

// Close closes the fetcher and waits for the session goroutine
func (s *Session) Close() error {
	err := s.fetcher.Close()
	s.wg.Wait()
	return err
}
